package store

import (
	"errors"
	"time"

	"ebookstore/pkg/domain"
)

// ErrEmailTaken is returned by CreateUser when the email is already registered.
var ErrEmailTaken = errors.New("email already registered")

// Store defines persistence operations for users, books, and download requests.
// Every mutation is a single targeted update against one record.
type Store interface {
	// users
	CreateUser(domain.User) error
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	GetUsersByIDs(ids []string) (map[string]domain.User, error)
	ListUsersByRole(role domain.UserRole) ([]domain.User, error)
	ApproveUser(id string) (bool, error)
	SetResetToken(userID, tokenHash string, expires time.Time) error
	ClearResetToken(userID string) error
	GetUserByResetToken(tokenHash string, now time.Time) (domain.User, bool, error)
	SetPassword(userID, passwordHash string) error

	// books
	CreateBook(domain.Book) error
	UpdateBook(id string, patch domain.BookPatch) (domain.Book, bool, error)
	GetBook(id string) (domain.Book, bool, error)
	ListBooks() ([]domain.Book, error)
	ListBooksApprovedFor(userID string) ([]domain.Book, error)
	DeleteBook(id string) (bool, error)

	// download requests
	InsertDownloadRequest(domain.DownloadRequest) (domain.DownloadRequest, bool, error)
	TransitionDownloadRequest(id string, to domain.RequestStatus, at time.Time) (domain.DownloadRequest, bool, error)
	GetDownloadRequest(id string) (domain.DownloadRequest, bool, error)
	ListDownloadRequests(status domain.RequestStatus) ([]domain.DownloadRequest, error)
}

// SessionStore persists session tokens.
type SessionStore interface {
	NewSession(userID string, role domain.UserRole) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}

// UserSessionRevoker is an optional capability that revokes every session
// issued for a user up to the moment of the call.
type UserSessionRevoker interface {
	RevokeUserSessions(userID string) error
}
