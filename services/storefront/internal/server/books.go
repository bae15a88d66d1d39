package server

import (
	"net/http"
	"strings"

	"ebookstore/pkg/domain"
	"ebookstore/services/storefront/internal/app"
)

type bookListResponse struct {
	Items []app.BookView `json:"items"`
	Count int            `json:"count"`
}

type requestResponse struct {
	Request domain.DownloadRequest `json:"request"`
}

type downloadResponse struct {
	URL string `json:"url"`
}

// handleBrowseBooks is public; a valid session adds the caller's own state.
func (s *Server) handleBrowseBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.app.BrowseBooks(r.Context(), s.optionalUser(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bookListResponse{Items: books, Count: len(books)})
}

func (s *Server) handleMyBooks(w http.ResponseWriter, r *http.Request, user domain.User) {
	books, err := s.app.MyApprovedBooks(r.Context(), user)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bookListResponse{Items: books, Count: len(books)})
}

func (s *Server) handleRequestDownload(w http.ResponseWriter, r *http.Request, user domain.User) {
	req, err := s.app.RequestDownload(strings.TrimSpace(r.PathValue("id")), user)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, requestResponse{Request: req})
}

func (s *Server) handleDownloadLink(w http.ResponseWriter, r *http.Request, user domain.User) {
	url, err := s.app.DownloadLink(r.Context(), strings.TrimSpace(r.PathValue("id")), user)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, downloadResponse{URL: url})
}
