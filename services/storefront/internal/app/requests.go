package app

import (
	"fmt"
	"strings"

	"ebookstore/internal/util"
	"ebookstore/pkg/domain"
)

// CreateRequest opens a pending download request for the user on the book.
// At most one request exists per (book, user); a repeat fails with
// *DuplicateRequestError carrying the existing status.
func (a *App) CreateRequest(bookID string, user domain.User) (domain.DownloadRequest, error) {
	bookID = strings.TrimSpace(bookID)
	if bookID == "" {
		return domain.DownloadRequest{}, ErrBookNotFound
	}
	if !user.IsApproved {
		return domain.DownloadRequest{}, ErrUserNotApproved
	}
	if _, ok, err := a.store.GetBook(bookID); err != nil {
		return domain.DownloadRequest{}, fmt.Errorf("load book: %w", err)
	} else if !ok {
		return domain.DownloadRequest{}, ErrBookNotFound
	}

	req := domain.DownloadRequest{
		ID:          util.NewID(),
		BookID:      bookID,
		UserID:      user.ID,
		Status:      domain.RequestPending,
		RequestDate: a.now(),
	}
	stored, created, err := a.store.InsertDownloadRequest(req)
	if err != nil {
		// the book may have been deleted since the lookup
		if _, ok, lookupErr := a.store.GetBook(bookID); lookupErr == nil && !ok {
			return domain.DownloadRequest{}, ErrBookNotFound
		}
		return domain.DownloadRequest{}, fmt.Errorf("insert download request: %w", err)
	}
	if !created {
		return domain.DownloadRequest{}, &DuplicateRequestError{Request: stored, Status: stored.Status}
	}
	return stored, nil
}

// ApproveRequest moves a pending request to approved. Approving an approved
// request returns it unchanged with its original approval time.
func (a *App) ApproveRequest(requestID string) (domain.DownloadRequest, error) {
	return a.transition(requestID, domain.RequestApproved)
}

// RejectRequest moves a pending request to rejected. Rejection is final.
func (a *App) RejectRequest(requestID string) (domain.DownloadRequest, error) {
	return a.transition(requestID, domain.RequestRejected)
}

func (a *App) transition(requestID string, to domain.RequestStatus) (domain.DownloadRequest, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return domain.DownloadRequest{}, ErrRequestNotFound
	}
	current, found, err := a.store.TransitionDownloadRequest(requestID, to, a.now())
	if err != nil {
		return domain.DownloadRequest{}, fmt.Errorf("update download request: %w", err)
	}
	if !found {
		return domain.DownloadRequest{}, ErrRequestNotFound
	}
	if current.Status != to {
		return current, fmt.Errorf("%w: request is %s", ErrRequestClosed, current.Status)
	}
	return current, nil
}

// CanDownload reports whether the user holds an approved request on the book.
func (a *App) CanDownload(bookID string, user domain.User) (bool, error) {
	book, ok, err := a.store.GetBook(bookID)
	if err != nil {
		return false, fmt.Errorf("load book: %w", err)
	}
	if !ok {
		return false, ErrBookNotFound
	}
	return domain.CanDownload(book, user.ID), nil
}
