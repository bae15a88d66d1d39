package store

import "time"

// GORM models used for persistence.
type UserModel struct {
	ID                string `gorm:"primaryKey"`
	FullName          string `gorm:"not null"`
	Email             string `gorm:"uniqueIndex;not null"`
	PasswordHash      string `gorm:"not null"`
	Role              string `gorm:"not null;index"`
	IsApproved        bool   `gorm:"not null;default:false"`
	ResetTokenHash    string `gorm:"index"`
	ResetTokenExpires *time.Time
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time
}

type BookModel struct {
	ID               string                 `gorm:"primaryKey"`
	Title            string                 `gorm:"not null"`
	Author           string                 `gorm:"not null"`
	Description      string                 `gorm:"type:text;not null"`
	Summary          string                 `gorm:"type:text"`
	CoverImageRef    string                 `gorm:"not null"`
	PDFRef           string                 `gorm:"column:pdf_ref;not null"`
	UploadedBy       string                 `gorm:"not null;index"`
	DownloadRequests []DownloadRequestModel `gorm:"foreignKey:BookID;constraint:OnDelete:CASCADE"`
	CreatedAt        time.Time              `gorm:"not null"`
	UpdatedAt        time.Time              `gorm:"not null"`
}

// DownloadRequestModel lives in its own table keyed by request id; the
// composite unique index keeps one request per (book, user).
type DownloadRequestModel struct {
	ID          string    `gorm:"primaryKey"`
	BookID      string    `gorm:"not null;uniqueIndex:idx_download_request_book_user"`
	UserID      string    `gorm:"not null;uniqueIndex:idx_download_request_book_user;index"`
	Status      string    `gorm:"type:varchar(16);not null;default:'pending';index"`
	RequestDate time.Time `gorm:"not null"`
	ApprovedAt  *time.Time
	RejectedAt  *time.Time
}
