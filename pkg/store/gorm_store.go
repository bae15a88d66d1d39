package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"ebookstore/pkg/domain"
)

const migrateLockID int64 = 51750175

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &BookModel{}, &DownloadRequestModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateUser inserts a new user, returning ErrEmailTaken on a duplicate email.
func (s *GormStore) CreateUser(u domain.User) error {
	model := userToModel(u)
	if err := s.db.Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrEmailTaken
		}
		return err
	}
	return nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	return s.firstUser("email = ?", email)
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	return s.firstUser("id = ?", id)
}

func (s *GormStore) firstUser(query string, args ...any) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where(query, args...).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUsersByIDs resolves a set of users keyed by ID. Unknown IDs are skipped.
func (s *GormStore) GetUsersByIDs(ids []string) (map[string]domain.User, error) {
	res := make(map[string]domain.User, len(ids))
	if len(ids) == 0 {
		return res, nil
	}
	var models []UserModel
	if err := s.db.Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, err
	}
	for _, m := range models {
		res[m.ID] = userFromModel(m)
	}
	return res, nil
}

// ListUsersByRole returns users with the role ordered by created_at.
func (s *GormStore) ListUsersByRole(role domain.UserRole) ([]domain.User, error) {
	var models []UserModel
	if err := s.db.Where("role = ?", string(role)).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// ApproveUser sets is_approved. It reports false when the user does not exist.
func (s *GormStore) ApproveUser(id string) (bool, error) {
	res := s.db.Model(&UserModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"is_approved": true,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SetResetToken stores the hashed password-reset token and its expiry.
func (s *GormStore) SetResetToken(userID, tokenHash string, expires time.Time) error {
	expires = expires.UTC()
	return s.db.Model(&UserModel{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"reset_token_hash":    tokenHash,
			"reset_token_expires": &expires,
			"updated_at":          time.Now().UTC(),
		}).Error
}

// ClearResetToken drops any pending password-reset token.
func (s *GormStore) ClearResetToken(userID string) error {
	return s.db.Model(&UserModel{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"reset_token_hash":    "",
			"reset_token_expires": nil,
			"updated_at":          time.Now().UTC(),
		}).Error
}

// GetUserByResetToken finds the user holding an unexpired reset token.
func (s *GormStore) GetUserByResetToken(tokenHash string, now time.Time) (domain.User, bool, error) {
	if strings.TrimSpace(tokenHash) == "" {
		return domain.User{}, false, nil
	}
	return s.firstUser("reset_token_hash = ? AND reset_token_expires > ?", tokenHash, now.UTC())
}

// SetPassword replaces the password hash and clears any reset token.
func (s *GormStore) SetPassword(userID, passwordHash string) error {
	return s.db.Model(&UserModel{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"password_hash":       passwordHash,
			"reset_token_hash":    "",
			"reset_token_expires": nil,
			"updated_at":          time.Now().UTC(),
		}).Error
}

// CreateBook stores a new book record.
func (s *GormStore) CreateBook(b domain.Book) error {
	model := bookToModel(b)
	return s.db.Omit(clause.Associations).Create(&model).Error
}

// UpdateBook applies non-empty patch fields and returns the updated book.
func (s *GormStore) UpdateBook(id string, patch domain.BookPatch) (domain.Book, bool, error) {
	updates := map[string]any{}
	setIfPresent(updates, "title", patch.Title)
	setIfPresent(updates, "author", patch.Author)
	setIfPresent(updates, "description", patch.Description)
	setIfPresent(updates, "summary", patch.Summary)
	setIfPresent(updates, "cover_image_ref", patch.CoverImageRef)
	setIfPresent(updates, "pdf_ref", patch.PDFRef)
	if len(updates) > 0 {
		updates["updated_at"] = time.Now().UTC()
		res := s.db.Model(&BookModel{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return domain.Book{}, false, res.Error
		}
		if res.RowsAffected == 0 {
			return domain.Book{}, false, nil
		}
	}
	return s.GetBook(id)
}

func setIfPresent(updates map[string]any, column, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	updates[column] = strings.TrimSpace(value)
}

// GetBook retrieves a book with its download requests.
func (s *GormStore) GetBook(id string) (domain.Book, bool, error) {
	var model BookModel
	if err := s.withRequests().First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// ListBooks returns all books ordered by created_at.
func (s *GormStore) ListBooks() ([]domain.Book, error) {
	return s.listBooks(s.withRequests())
}

// ListBooksApprovedFor returns books on which the user holds an approved request.
func (s *GormStore) ListBooksApprovedFor(userID string) ([]domain.Book, error) {
	sub := s.db.Model(&DownloadRequestModel{}).
		Select("book_id").
		Where("user_id = ? AND status = ?", userID, string(domain.RequestApproved))
	return s.listBooks(s.withRequests().Where("id IN (?)", sub))
}

func (s *GormStore) withRequests() *gorm.DB {
	return s.db.Preload("DownloadRequests", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("request_date ASC")
	})
}

func (s *GormStore) listBooks(tx *gorm.DB) ([]domain.Book, error) {
	var models []BookModel
	if err := tx.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, nil
}

// DeleteBook removes the book; its download requests cascade.
func (s *GormStore) DeleteBook(id string) (bool, error) {
	var removed int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&DownloadRequestModel{}, "book_id = ?", id).Error; err != nil {
			return err
		}
		res := tx.Delete(&BookModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected
		return nil
	})
	if err != nil {
		return false, err
	}
	return removed > 0, nil
}

// InsertDownloadRequest inserts the request unless one already exists for the
// same (book, user). It returns the stored request and whether it was created.
func (s *GormStore) InsertDownloadRequest(req domain.DownloadRequest) (domain.DownloadRequest, bool, error) {
	model := requestToModel(req)
	res := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "book_id"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(&model)
	if res.Error != nil {
		return domain.DownloadRequest{}, false, res.Error
	}
	if res.RowsAffected > 0 {
		return requestFromModel(model), true, nil
	}
	var existing DownloadRequestModel
	if err := s.db.Where("book_id = ? AND user_id = ?", req.BookID, req.UserID).First(&existing).Error; err != nil {
		return domain.DownloadRequest{}, false, err
	}
	return requestFromModel(existing), false, nil
}

// TransitionDownloadRequest moves a pending request to approved or rejected.
// The guard on status makes the first writer win; later callers observe the
// stored state. It reports false when no request has the id.
func (s *GormStore) TransitionDownloadRequest(id string, to domain.RequestStatus, at time.Time) (domain.DownloadRequest, bool, error) {
	updates := map[string]any{"status": string(to)}
	switch to {
	case domain.RequestApproved:
		updates["approved_at"] = at.UTC()
	case domain.RequestRejected:
		updates["rejected_at"] = at.UTC()
	default:
		return domain.DownloadRequest{}, false, fmt.Errorf("invalid target status %q", to)
	}
	if err := s.db.Model(&DownloadRequestModel{}).
		Where("id = ? AND status = ?", id, string(domain.RequestPending)).
		Updates(updates).Error; err != nil {
		return domain.DownloadRequest{}, false, err
	}
	return s.GetDownloadRequest(id)
}

// GetDownloadRequest looks up a request by its ID.
func (s *GormStore) GetDownloadRequest(id string) (domain.DownloadRequest, bool, error) {
	var model DownloadRequestModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.DownloadRequest{}, false, nil
		}
		return domain.DownloadRequest{}, false, err
	}
	return requestFromModel(model), true, nil
}

// ListDownloadRequests returns requests across all books, optionally filtered by status.
func (s *GormStore) ListDownloadRequests(status domain.RequestStatus) ([]domain.DownloadRequest, error) {
	tx := s.db.Order("request_date ASC")
	if status != "" {
		tx = tx.Where("status = ?", string(status))
	}
	var models []DownloadRequestModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.DownloadRequest, 0, len(models))
	for _, m := range models {
		res = append(res, requestFromModel(m))
	}
	return res, nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:                u.ID,
		FullName:          u.FullName,
		Email:             u.Email,
		PasswordHash:      u.PasswordHash,
		Role:              string(u.Role),
		IsApproved:        u.IsApproved,
		ResetTokenHash:    u.ResetTokenHash,
		ResetTokenExpires: u.ResetTokenExpires,
		CreatedAt:         u.CreatedAt,
		UpdatedAt:         u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	role := domain.UserRole(m.Role)
	if role == "" {
		role = domain.RoleUser
	}
	return domain.User{
		ID:                m.ID,
		FullName:          m.FullName,
		Email:             m.Email,
		PasswordHash:      m.PasswordHash,
		Role:              role,
		IsApproved:        m.IsApproved,
		ResetTokenHash:    m.ResetTokenHash,
		ResetTokenExpires: m.ResetTokenExpires,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func bookToModel(b domain.Book) BookModel {
	return BookModel{
		ID:            b.ID,
		Title:         b.Title,
		Author:        b.Author,
		Description:   b.Description,
		Summary:       b.Summary,
		CoverImageRef: b.CoverImageRef,
		PDFRef:        b.PDFRef,
		UploadedBy:    b.UploadedBy,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

func bookFromModel(m BookModel) domain.Book {
	requests := make([]domain.DownloadRequest, 0, len(m.DownloadRequests))
	for _, r := range m.DownloadRequests {
		requests = append(requests, requestFromModel(r))
	}
	return domain.Book{
		ID:               m.ID,
		Title:            m.Title,
		Author:           m.Author,
		Description:      m.Description,
		Summary:          m.Summary,
		CoverImageRef:    m.CoverImageRef,
		PDFRef:           m.PDFRef,
		UploadedBy:       m.UploadedBy,
		DownloadRequests: requests,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func requestToModel(r domain.DownloadRequest) DownloadRequestModel {
	status := r.Status
	if status == "" {
		status = domain.RequestPending
	}
	return DownloadRequestModel{
		ID:          r.ID,
		BookID:      r.BookID,
		UserID:      r.UserID,
		Status:      string(status),
		RequestDate: r.RequestDate,
		ApprovedAt:  r.ApprovedAt,
		RejectedAt:  r.RejectedAt,
	}
}

func requestFromModel(m DownloadRequestModel) domain.DownloadRequest {
	return domain.DownloadRequest{
		ID:          m.ID,
		BookID:      m.BookID,
		UserID:      m.UserID,
		Status:      domain.RequestStatus(m.Status),
		RequestDate: m.RequestDate,
		ApprovedAt:  m.ApprovedAt,
		RejectedAt:  m.RejectedAt,
	}
}
