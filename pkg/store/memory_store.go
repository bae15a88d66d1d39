package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"ebookstore/pkg/domain"
)

// MemoryStore keeps records in-process. Used by tests and local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]domain.User // key: user ID
	email    map[string]string      // email -> user ID
	books    map[string]domain.Book // requests are kept in requests, not here
	orders   []string
	requests map[string]domain.DownloadRequest // key: request ID
	pairs    map[string]string                 // bookID|userID -> request ID
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]domain.User),
		email:    make(map[string]string),
		books:    make(map[string]domain.Book),
		requests: make(map[string]domain.DownloadRequest),
		pairs:    make(map[string]string),
	}
}

var _ Store = (*MemoryStore)(nil)

// CreateUser registers a user, returning ErrEmailTaken on a duplicate email.
func (m *MemoryStore) CreateUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.email[u.Email]; ok {
		return ErrEmailTaken
	}
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.email[email]; ok {
		u, exists := m.users[id]
		return u, exists, nil
	}
	return domain.User{}, false, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// GetUsersByIDs resolves a set of users keyed by ID.
func (m *MemoryStore) GetUsersByIDs(ids []string) (map[string]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]domain.User, len(ids))
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			res[id] = u
		}
	}
	return res, nil
}

// ListUsersByRole returns users with the role ordered by creation time.
func (m *MemoryStore) ListUsersByRole(role domain.UserRole) ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		if u.Role == role {
			res = append(res, u)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res, nil
}

// ApproveUser sets IsApproved, reporting false for an unknown user.
func (m *MemoryStore) ApproveUser(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return false, nil
	}
	u.IsApproved = true
	u.UpdatedAt = time.Now().UTC()
	m.users[id] = u
	return true, nil
}

// SetResetToken stores the hashed reset token and expiry.
func (m *MemoryStore) SetResetToken(userID, tokenHash string, expires time.Time) error {
	return m.updateUser(userID, func(u *domain.User) {
		exp := expires.UTC()
		u.ResetTokenHash = tokenHash
		u.ResetTokenExpires = &exp
	})
}

// ClearResetToken drops any pending reset token.
func (m *MemoryStore) ClearResetToken(userID string) error {
	return m.updateUser(userID, func(u *domain.User) {
		u.ResetTokenHash = ""
		u.ResetTokenExpires = nil
	})
}

// GetUserByResetToken finds the user holding an unexpired reset token.
func (m *MemoryStore) GetUserByResetToken(tokenHash string, now time.Time) (domain.User, bool, error) {
	if strings.TrimSpace(tokenHash) == "" {
		return domain.User{}, false, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.ResetTokenHash == tokenHash && u.ResetTokenExpires != nil && u.ResetTokenExpires.After(now) {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

// SetPassword replaces the password hash and clears any reset token.
func (m *MemoryStore) SetPassword(userID, passwordHash string) error {
	return m.updateUser(userID, func(u *domain.User) {
		u.PasswordHash = passwordHash
		u.ResetTokenHash = ""
		u.ResetTokenExpires = nil
	})
}

func (m *MemoryStore) updateUser(id string, fn func(*domain.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil
	}
	fn(&u)
	u.UpdatedAt = time.Now().UTC()
	m.users[id] = u
	return nil
}

// CreateBook stores a new book record and tracks insertion order.
func (m *MemoryStore) CreateBook(b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.books[b.ID]; exists {
		return fmt.Errorf("book %s already exists", b.ID)
	}
	b.DownloadRequests = nil
	m.books[b.ID] = b
	m.orders = append(m.orders, b.ID)
	return nil
}

// UpdateBook applies non-empty patch fields.
func (m *MemoryStore) UpdateBook(id string, patch domain.BookPatch) (domain.Book, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return domain.Book{}, false, nil
	}
	if !patch.Empty() {
		overwrite(&b.Title, patch.Title)
		overwrite(&b.Author, patch.Author)
		overwrite(&b.Description, patch.Description)
		overwrite(&b.Summary, patch.Summary)
		overwrite(&b.CoverImageRef, patch.CoverImageRef)
		overwrite(&b.PDFRef, patch.PDFRef)
		b.UpdatedAt = time.Now().UTC()
		m.books[id] = b
	}
	return m.withRequestsLocked(b), true, nil
}

func overwrite(dst *string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		*dst = v
	}
}

// GetBook retrieves a book with its download requests.
func (m *MemoryStore) GetBook(id string) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	if !ok {
		return domain.Book{}, false, nil
	}
	return m.withRequestsLocked(b), true, nil
}

// ListBooks returns books in insertion order.
func (m *MemoryStore) ListBooks() ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Book, 0, len(m.orders))
	for _, id := range m.orders {
		if b, ok := m.books[id]; ok {
			res = append(res, m.withRequestsLocked(b))
		}
	}
	return res, nil
}

// ListBooksApprovedFor returns books on which the user holds an approved request.
func (m *MemoryStore) ListBooksApprovedFor(userID string) ([]domain.Book, error) {
	all, err := m.ListBooks()
	if err != nil {
		return nil, err
	}
	res := make([]domain.Book, 0, len(all))
	for _, b := range all {
		if domain.CanDownload(b, userID) {
			res = append(res, b)
		}
	}
	return res, nil
}

// DeleteBook removes a book and its download requests.
func (m *MemoryStore) DeleteBook(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[id]; !ok {
		return false, nil
	}
	delete(m.books, id)
	for reqID, req := range m.requests {
		if req.BookID == id {
			delete(m.requests, reqID)
			delete(m.pairs, pairKey(req.BookID, req.UserID))
		}
	}
	filtered := m.orders[:0]
	for _, item := range m.orders {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	m.orders = filtered
	return true, nil
}

// InsertDownloadRequest inserts the request unless one exists for the same
// (book, user), in which case the existing request is returned.
func (m *MemoryStore) InsertDownloadRequest(req domain.DownloadRequest) (domain.DownloadRequest, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[req.BookID]; !ok {
		return domain.DownloadRequest{}, false, fmt.Errorf("book %s does not exist", req.BookID)
	}
	key := pairKey(req.BookID, req.UserID)
	if existingID, ok := m.pairs[key]; ok {
		return m.requests[existingID], false, nil
	}
	if req.Status == "" {
		req.Status = domain.RequestPending
	}
	m.requests[req.ID] = req
	m.pairs[key] = req.ID
	return req, true, nil
}

// TransitionDownloadRequest moves a pending request to approved or rejected.
// Requests already out of pending are returned unchanged.
func (m *MemoryStore) TransitionDownloadRequest(id string, to domain.RequestStatus, at time.Time) (domain.DownloadRequest, bool, error) {
	if !to.Terminal() {
		return domain.DownloadRequest{}, false, fmt.Errorf("invalid target status %q", to)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return domain.DownloadRequest{}, false, nil
	}
	if req.Status.Terminal() {
		return req, true, nil
	}
	stamp := at.UTC()
	req.Status = to
	if to == domain.RequestApproved {
		req.ApprovedAt = &stamp
	} else {
		req.RejectedAt = &stamp
	}
	m.requests[id] = req
	return req, true, nil
}

// GetDownloadRequest looks up a request by ID.
func (m *MemoryStore) GetDownloadRequest(id string) (domain.DownloadRequest, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[id]
	return req, ok, nil
}

// ListDownloadRequests returns requests across all books, optionally filtered by status.
func (m *MemoryStore) ListDownloadRequests(status domain.RequestStatus) ([]domain.DownloadRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.DownloadRequest, 0, len(m.requests))
	for _, req := range m.requests {
		if status == "" || req.Status == status {
			res = append(res, req)
		}
	}
	sortRequests(res)
	return res, nil
}

func (m *MemoryStore) withRequestsLocked(b domain.Book) domain.Book {
	var reqs []domain.DownloadRequest
	for _, req := range m.requests {
		if req.BookID == b.ID {
			reqs = append(reqs, req)
		}
	}
	sortRequests(reqs)
	b.DownloadRequests = reqs
	return b
}

func sortRequests(reqs []domain.DownloadRequest) {
	sort.SliceStable(reqs, func(i, j int) bool {
		if reqs[i].RequestDate.Equal(reqs[j].RequestDate) {
			return reqs[i].ID < reqs[j].ID
		}
		return reqs[i].RequestDate.Before(reqs[j].RequestDate)
	})
}

func pairKey(bookID, userID string) string {
	return bookID + "|" + userID
}
