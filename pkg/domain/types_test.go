package domain

import "testing"

func TestRequestStatusTerminal(t *testing.T) {
	tests := []struct {
		status RequestStatus
		want   bool
	}{
		{RequestPending, false},
		{RequestApproved, true},
		{RequestRejected, true},
		{RequestStatus(""), false},
	}
	for _, tc := range tests {
		if got := tc.status.Terminal(); got != tc.want {
			t.Fatalf("%q.Terminal() = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestCanDownload(t *testing.T) {
	book := Book{
		ID: "book-1",
		DownloadRequests: []DownloadRequest{
			{ID: "r1", UserID: "approved", Status: RequestApproved},
			{ID: "r2", UserID: "pending", Status: RequestPending},
			{ID: "r3", UserID: "rejected", Status: RequestRejected},
		},
	}
	for user, want := range map[string]bool{"approved": true, "pending": false, "rejected": false, "stranger": false} {
		if got := CanDownload(book, user); got != want {
			t.Fatalf("CanDownload(%s) = %v, want %v", user, got, want)
		}
	}
}
