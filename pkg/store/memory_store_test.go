package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"ebookstore/pkg/domain"
)

func seedBook(t *testing.T, s *MemoryStore, id string) {
	t.Helper()
	now := time.Now().UTC()
	if err := s.CreateBook(domain.Book{
		ID:            id,
		Title:         "Title " + id,
		Author:        "Author",
		Description:   "Description",
		CoverImageRef: "covers/" + id,
		PDFRef:        "pdfs/" + id,
		UploadedBy:    "admin-1",
		CreatedAt:     now,
		UpdatedAt:     now,
	}); err != nil {
		t.Fatalf("create book: %v", err)
	}
}

func TestMemoryStoreInsertDownloadRequestIsUniquePerPair(t *testing.T) {
	s := NewMemoryStore()
	seedBook(t, s, "book-1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, ok, err := s.InsertDownloadRequest(domain.DownloadRequest{
				ID:          fmt.Sprintf("req-%d", i),
				BookID:      "book-1",
				UserID:      "user-1",
				Status:      domain.RequestPending,
				RequestDate: time.Now().UTC(),
			})
			if err != nil {
				t.Errorf("insert: %v", err)
				return
			}
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if created != 1 {
		t.Fatalf("expected exactly one created request, got %d", created)
	}
	book, ok, err := s.GetBook("book-1")
	if err != nil || !ok {
		t.Fatalf("get book: ok=%v err=%v", ok, err)
	}
	if len(book.DownloadRequests) != 1 {
		t.Fatalf("expected one embedded request, got %d", len(book.DownloadRequests))
	}
}

func TestMemoryStoreTransitionFirstWriterWins(t *testing.T) {
	s := NewMemoryStore()
	seedBook(t, s, "book-1")
	if _, _, err := s.InsertDownloadRequest(domain.DownloadRequest{
		ID: "req-1", BookID: "book-1", UserID: "user-1", RequestDate: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	first := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)
	got, ok, err := s.TransitionDownloadRequest("req-1", domain.RequestApproved, first)
	if err != nil || !ok {
		t.Fatalf("first transition: ok=%v err=%v", ok, err)
	}
	if got.ApprovedAt == nil || !got.ApprovedAt.Equal(first) {
		t.Fatalf("unexpected approvedAt: %v", got.ApprovedAt)
	}
	got, ok, err = s.TransitionDownloadRequest("req-1", domain.RequestApproved, second)
	if err != nil || !ok {
		t.Fatalf("second transition: ok=%v err=%v", ok, err)
	}
	if !got.ApprovedAt.Equal(first) {
		t.Fatalf("approvedAt overwritten: %v", got.ApprovedAt)
	}
	got, _, _ = s.TransitionDownloadRequest("req-1", domain.RequestRejected, second)
	if got.Status != domain.RequestApproved || got.RejectedAt != nil {
		t.Fatalf("approved request must not be rejected: %+v", got)
	}
}

func TestMemoryStoreTransitionUnknownRequest(t *testing.T) {
	s := NewMemoryStore()
	if _, ok, err := s.TransitionDownloadRequest("missing", domain.RequestApproved, time.Now()); err != nil || ok {
		t.Fatalf("expected not found, ok=%v err=%v", ok, err)
	}
	if _, _, err := s.TransitionDownloadRequest("missing", domain.RequestPending, time.Now()); err == nil {
		t.Fatalf("expected error for pending target")
	}
}

func TestMemoryStoreUpdateBookOverwritesOnlyPresentFields(t *testing.T) {
	s := NewMemoryStore()
	seedBook(t, s, "book-1")

	updated, ok, err := s.UpdateBook("book-1", domain.BookPatch{Title: "New Title", Author: "  "})
	if err != nil || !ok {
		t.Fatalf("update: ok=%v err=%v", ok, err)
	}
	if updated.Title != "New Title" {
		t.Fatalf("title = %q", updated.Title)
	}
	if updated.Author != "Author" || updated.Description != "Description" {
		t.Fatalf("blank fields must not clear values: %+v", updated)
	}
	if _, ok, _ := s.UpdateBook("missing", domain.BookPatch{Title: "x"}); ok {
		t.Fatalf("expected missing book to report not found")
	}
}

func TestMemoryStoreDeleteBookCascadesRequests(t *testing.T) {
	s := NewMemoryStore()
	seedBook(t, s, "book-1")
	if _, _, err := s.InsertDownloadRequest(domain.DownloadRequest{
		ID: "req-1", BookID: "book-1", UserID: "user-1", RequestDate: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	removed, err := s.DeleteBook("book-1")
	if err != nil || !removed {
		t.Fatalf("delete: removed=%v err=%v", removed, err)
	}
	if _, ok, _ := s.GetDownloadRequest("req-1"); ok {
		t.Fatalf("request should be removed with its book")
	}
	removed, err = s.DeleteBook("book-1")
	if err != nil || removed {
		t.Fatalf("second delete should report nothing removed, removed=%v err=%v", removed, err)
	}
}

func TestMemoryStoreResetTokenExpiry(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	if err := s.CreateUser(domain.User{ID: "user-1", Email: "a@example.com", Role: domain.RoleUser, CreatedAt: now}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := s.CreateUser(domain.User{ID: "user-2", Email: "a@example.com"}); err != ErrEmailTaken {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
	if err := s.SetResetToken("user-1", "hash-1", now.Add(10*time.Minute)); err != nil {
		t.Fatalf("set reset token: %v", err)
	}
	if _, ok, _ := s.GetUserByResetToken("hash-1", now); !ok {
		t.Fatalf("expected token lookup to succeed before expiry")
	}
	if _, ok, _ := s.GetUserByResetToken("hash-1", now.Add(11*time.Minute)); ok {
		t.Fatalf("expected expired token lookup to fail")
	}
	if err := s.SetPassword("user-1", "new-hash"); err != nil {
		t.Fatalf("set password: %v", err)
	}
	if _, ok, _ := s.GetUserByResetToken("hash-1", now); ok {
		t.Fatalf("expected reset token to be cleared with password change")
	}
}
