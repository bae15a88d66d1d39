package app

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"ebookstore/internal/util"
	"ebookstore/pkg/domain"
	"ebookstore/pkg/storage"
)

// BookInput carries the text fields of an upload or edit.
type BookInput struct {
	Title       string
	Author      string
	Description string
	Summary     string
}

func (in BookInput) trimmed() BookInput {
	return BookInput{
		Title:       strings.TrimSpace(in.Title),
		Author:      strings.TrimSpace(in.Author),
		Description: strings.TrimSpace(in.Description),
		Summary:     strings.TrimSpace(in.Summary),
	}
}

// Upload is one file part of a multipart request.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

func (u *Upload) present() bool {
	return u != nil && u.Body != nil && u.Size > 0
}

func (u *Upload) contentType() string {
	if ct := strings.TrimSpace(u.ContentType); ct != "" && ct != "application/octet-stream" {
		return ct
	}
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(u.Filename))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// RequestView is a download request denormalized for the admin queue.
type RequestView struct {
	ID          string               `json:"id"`
	BookID      string               `json:"bookId"`
	BookTitle   string               `json:"bookTitle"`
	Status      domain.RequestStatus `json:"status"`
	RequestDate time.Time            `json:"requestDate"`
	ApprovedAt  *time.Time           `json:"approvedAt,omitempty"`
	RejectedAt  *time.Time           `json:"rejectedAt,omitempty"`
	User        RequesterView        `json:"user"`
}

// RequesterView identifies who asked for a download.
type RequesterView struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
}

// ListUsers returns every non-admin account.
func (a *App) ListUsers() ([]domain.User, error) {
	users, err := a.store.ListUsersByRole(domain.RoleUser)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// ApproveUser marks the account approved. Approving twice is a no-op.
func (a *App) ApproveUser(userID string) (domain.User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.User{}, ErrUserNotFound
	}
	ok, err := a.store.ApproveUser(userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("approve user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	return user, nil
}

// ListRequests returns requests across all books, joined with book titles and
// requester identities. An empty status lists everything.
func (a *App) ListRequests(status domain.RequestStatus) ([]RequestView, error) {
	reqs, err := a.store.ListDownloadRequests(status)
	if err != nil {
		return nil, fmt.Errorf("list download requests: %w", err)
	}
	if len(reqs) == 0 {
		return []RequestView{}, nil
	}
	books, err := a.store.ListBooks()
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	titles := make(map[string]string, len(books))
	for _, b := range books {
		titles[b.ID] = b.Title
	}
	userIDs := make([]string, 0, len(reqs))
	seen := make(map[string]struct{}, len(reqs))
	for _, r := range reqs {
		if _, ok := seen[r.UserID]; ok {
			continue
		}
		seen[r.UserID] = struct{}{}
		userIDs = append(userIDs, r.UserID)
	}
	users, err := a.store.GetUsersByIDs(userIDs)
	if err != nil {
		return nil, fmt.Errorf("load requesters: %w", err)
	}

	out := make([]RequestView, 0, len(reqs))
	for _, r := range reqs {
		u := users[r.UserID]
		out = append(out, RequestView{
			ID:          r.ID,
			BookID:      r.BookID,
			BookTitle:   titles[r.BookID],
			Status:      r.Status,
			RequestDate: r.RequestDate,
			ApprovedAt:  r.ApprovedAt,
			RejectedAt:  r.RejectedAt,
			User:        RequesterView{ID: r.UserID, FullName: u.FullName, Email: u.Email},
		})
	}
	return out, nil
}

// UploadBook validates every field, stores the cover then the PDF, and only
// then writes the record. Blobs already written are removed on failure.
func (a *App) UploadBook(ctx context.Context, admin domain.User, in BookInput, cover, pdf *Upload) (domain.Book, error) {
	in = in.trimmed()
	switch {
	case in.Title == "":
		return domain.Book{}, missing("title")
	case in.Author == "":
		return domain.Book{}, missing("author")
	case in.Description == "":
		return domain.Book{}, missing("description")
	case !cover.present():
		return domain.Book{}, missing("coverImage")
	case !pdf.present():
		return domain.Book{}, missing("pdf")
	}

	id := util.NewID()
	coverKey := storage.BuildKey("covers", id, cover.Filename)
	pdfKey := storage.BuildKey("pdfs", id, pdf.Filename)

	if err := a.objects.Put(ctx, coverKey, cover.Body, cover.Size, cover.contentType()); err != nil {
		return domain.Book{}, fmt.Errorf("%w: store cover: %v", ErrStorage, err)
	}
	if err := a.objects.Put(ctx, pdfKey, pdf.Body, pdf.Size, pdf.contentType()); err != nil {
		a.deleteObject(ctx, coverKey, "pdf upload failed")
		return domain.Book{}, fmt.Errorf("%w: store pdf: %v", ErrStorage, err)
	}

	now := a.now()
	book := domain.Book{
		ID:            id,
		Title:         in.Title,
		Author:        in.Author,
		Description:   in.Description,
		Summary:       in.Summary,
		CoverImageRef: coverKey,
		PDFRef:        pdfKey,
		UploadedBy:    admin.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := a.store.CreateBook(book); err != nil {
		a.deleteObject(ctx, coverKey, "book record write failed")
		a.deleteObject(ctx, pdfKey, "book record write failed")
		return domain.Book{}, fmt.Errorf("save book: %w", err)
	}
	return book, nil
}

// UpdateBook overwrites the non-empty text fields and optionally replaces the
// cover and/or PDF. Replaced blobs are deleted after the record is updated.
func (a *App) UpdateBook(ctx context.Context, bookID string, in BookInput, cover, pdf *Upload) (domain.Book, error) {
	bookID = strings.TrimSpace(bookID)
	current, ok, err := a.store.GetBook(bookID)
	if err != nil {
		return domain.Book{}, fmt.Errorf("load book: %w", err)
	}
	if !ok {
		return domain.Book{}, ErrBookNotFound
	}

	in = in.trimmed()
	patch := domain.BookPatch{
		Title:       in.Title,
		Author:      in.Author,
		Description: in.Description,
		Summary:     in.Summary,
	}
	var written []string
	rollback := func(reason string) {
		for _, key := range written {
			a.deleteObject(ctx, key, reason)
		}
	}
	if cover.present() {
		key := storage.BuildKey("covers", bookID+"-"+util.NewID()[:8], cover.Filename)
		if err := a.objects.Put(ctx, key, cover.Body, cover.Size, cover.contentType()); err != nil {
			return domain.Book{}, fmt.Errorf("%w: store cover: %v", ErrStorage, err)
		}
		written = append(written, key)
		patch.CoverImageRef = key
	}
	if pdf.present() {
		key := storage.BuildKey("pdfs", bookID+"-"+util.NewID()[:8], pdf.Filename)
		if err := a.objects.Put(ctx, key, pdf.Body, pdf.Size, pdf.contentType()); err != nil {
			rollback("pdf upload failed")
			return domain.Book{}, fmt.Errorf("%w: store pdf: %v", ErrStorage, err)
		}
		written = append(written, key)
		patch.PDFRef = key
	}
	if patch.Empty() {
		return current, nil
	}

	updated, ok, err := a.store.UpdateBook(bookID, patch)
	if err != nil || !ok {
		rollback("book record update failed")
		if err != nil {
			return domain.Book{}, fmt.Errorf("update book: %w", err)
		}
		return domain.Book{}, ErrBookNotFound
	}
	if patch.CoverImageRef != "" && current.CoverImageRef != updated.CoverImageRef {
		a.deleteObject(ctx, current.CoverImageRef, "cover replaced")
	}
	if patch.PDFRef != "" && current.PDFRef != updated.PDFRef {
		a.deleteObject(ctx, current.PDFRef, "pdf replaced")
	}
	return updated, nil
}

// DeleteBook removes the record and its requests, then the blobs best-effort.
func (a *App) DeleteBook(ctx context.Context, bookID string) error {
	bookID = strings.TrimSpace(bookID)
	book, ok, err := a.store.GetBook(bookID)
	if err != nil {
		return fmt.Errorf("load book: %w", err)
	}
	if !ok {
		return ErrBookNotFound
	}
	removed, err := a.store.DeleteBook(bookID)
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	if !removed {
		return ErrBookNotFound
	}
	a.deleteObject(ctx, book.CoverImageRef, "book deleted")
	a.deleteObject(ctx, book.PDFRef, "book deleted")
	return nil
}
