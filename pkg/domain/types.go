package domain

import "time"

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// Terminal reports whether no further transition can leave the status.
func (s RequestStatus) Terminal() bool {
	return s == RequestApproved || s == RequestRejected
}

type User struct {
	ID                string     `json:"id"`
	FullName          string     `json:"fullName"`
	Email             string     `json:"email"`
	PasswordHash      string     `json:"-"`
	Role              UserRole   `json:"role"`
	IsApproved        bool       `json:"isApproved"`
	ResetTokenHash    string     `json:"-"`
	ResetTokenExpires *time.Time `json:"-"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

type Book struct {
	ID               string            `json:"id"`
	Title            string            `json:"title"`
	Author           string            `json:"author"`
	Description      string            `json:"description"`
	Summary          string            `json:"summary,omitempty"`
	CoverImageRef    string            `json:"-"`
	PDFRef           string            `json:"-"`
	UploadedBy       string            `json:"uploadedBy"`
	DownloadRequests []DownloadRequest `json:"-"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// BookPatch carries overwrite-if-present fields for a book edit.
// Empty strings leave the stored value unchanged.
type BookPatch struct {
	Title         string
	Author        string
	Description   string
	Summary       string
	CoverImageRef string
	PDFRef        string
}

// Empty reports whether the patch changes nothing.
func (p BookPatch) Empty() bool {
	return p == BookPatch{}
}

type DownloadRequest struct {
	ID          string        `json:"id"`
	BookID      string        `json:"bookId"`
	UserID      string        `json:"userId"`
	Status      RequestStatus `json:"status"`
	RequestDate time.Time     `json:"requestDate"`
	ApprovedAt  *time.Time    `json:"approvedAt,omitempty"`
	RejectedAt  *time.Time    `json:"rejectedAt,omitempty"`
}

// RequestFor returns the request a user holds on the book, if any.
func (b Book) RequestFor(userID string) (DownloadRequest, bool) {
	for _, req := range b.DownloadRequests {
		if req.UserID == userID {
			return req, true
		}
	}
	return DownloadRequest{}, false
}

// CanDownload reports whether the user holds an approved request on the book.
func CanDownload(book Book, userID string) bool {
	if userID == "" {
		return false
	}
	for _, req := range book.DownloadRequests {
		if req.UserID == userID && req.Status == RequestApproved {
			return true
		}
	}
	return false
}
