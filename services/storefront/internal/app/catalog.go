package app

import (
	"context"
	"fmt"
	"time"

	"ebookstore/pkg/domain"
)

// BookView is a catalog entry as seen by one viewer. Other users' requests
// are reduced to a count.
type BookView struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Author       string         `json:"author"`
	Description  string         `json:"description"`
	Summary      string         `json:"summary,omitempty"`
	CoverURL     string         `json:"coverUrl,omitempty"`
	PDFURL       string         `json:"pdfUrl,omitempty"`
	UploadedBy   string         `json:"uploadedBy"`
	RequestCount int            `json:"requestCount"`
	MyRequest    *MyRequestView `json:"myRequest,omitempty"`
	CanDownload  bool           `json:"canDownload"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// MyRequestView is the viewer's own request on a book.
type MyRequestView struct {
	ID          string               `json:"id"`
	Status      domain.RequestStatus `json:"status"`
	RequestDate time.Time            `json:"requestDate"`
	ApprovedAt  *time.Time           `json:"approvedAt,omitempty"`
}

// BrowseBooks lists the catalog. viewer is nil for anonymous callers.
func (a *App) BrowseBooks(ctx context.Context, viewer *domain.User) ([]BookView, error) {
	books, err := a.store.ListBooks()
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	out := make([]BookView, 0, len(books))
	for _, b := range books {
		out = append(out, a.bookView(ctx, b, viewer))
	}
	return out, nil
}

// MyApprovedBooks lists the books the user may download, with PDF links.
func (a *App) MyApprovedBooks(ctx context.Context, user domain.User) ([]BookView, error) {
	books, err := a.store.ListBooksApprovedFor(user.ID)
	if err != nil {
		return nil, fmt.Errorf("list approved books: %w", err)
	}
	out := make([]BookView, 0, len(books))
	for _, b := range books {
		if !domain.CanDownload(b, user.ID) {
			continue
		}
		out = append(out, a.bookView(ctx, b, &user))
	}
	return out, nil
}

// RequestDownload is the end-user entry point for CreateRequest.
func (a *App) RequestDownload(bookID string, user domain.User) (domain.DownloadRequest, error) {
	return a.CreateRequest(bookID, user)
}

// DownloadLink returns a presigned PDF URL when the user may download.
func (a *App) DownloadLink(ctx context.Context, bookID string, user domain.User) (string, error) {
	book, ok, err := a.store.GetBook(bookID)
	if err != nil {
		return "", fmt.Errorf("load book: %w", err)
	}
	if !ok {
		return "", ErrBookNotFound
	}
	if !domain.CanDownload(book, user.ID) {
		return "", ErrForbidden
	}
	url, err := a.objects.PresignGet(ctx, book.PDFRef, a.presignExpiry)
	if err != nil {
		return "", fmt.Errorf("%w: presign pdf: %v", ErrStorage, err)
	}
	return url, nil
}

func (a *App) bookView(ctx context.Context, b domain.Book, viewer *domain.User) BookView {
	v := BookView{
		ID:           b.ID,
		Title:        b.Title,
		Author:       b.Author,
		Description:  b.Description,
		Summary:      b.Summary,
		CoverURL:     a.presign(ctx, b.CoverImageRef),
		UploadedBy:   b.UploadedBy,
		RequestCount: len(b.DownloadRequests),
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
	if viewer == nil {
		return v
	}
	if req, ok := b.RequestFor(viewer.ID); ok {
		v.MyRequest = &MyRequestView{
			ID:          req.ID,
			Status:      req.Status,
			RequestDate: req.RequestDate,
			ApprovedAt:  req.ApprovedAt,
		}
	}
	if domain.CanDownload(b, viewer.ID) {
		v.CanDownload = true
		v.PDFURL = a.presign(ctx, b.PDFRef)
	}
	return v
}
