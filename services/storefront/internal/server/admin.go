package server

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strings"

	"ebookstore/pkg/domain"
	"ebookstore/services/storefront/internal/app"
)

type userListResponse struct {
	Items []domain.User `json:"items"`
	Count int           `json:"count"`
}

type requestListResponse struct {
	Items []app.RequestView `json:"items"`
	Count int               `json:"count"`
}

type bookResponse struct {
	Book domain.Book `json:"book"`
}

type bookPatchRequest struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	Description string `json:"description"`
	Summary     string `json:"summary"`
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request, _ domain.User) {
	users, err := s.app.ListUsers()
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userListResponse{Items: users, Count: len(users)})
}

func (s *Server) handleApproveUser(w http.ResponseWriter, r *http.Request, _ domain.User) {
	user, err := s.app.ApproveUser(strings.TrimSpace(r.PathValue("userId")))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: user})
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request, _ domain.User) {
	status := domain.RequestStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	switch status {
	case "", domain.RequestPending, domain.RequestApproved, domain.RequestRejected:
	default:
		writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", "status must be pending, approved or rejected")
		return
	}
	requests, err := s.app.ListRequests(status)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, requestListResponse{Items: requests, Count: len(requests)})
}

func (s *Server) handleApproveRequest(w http.ResponseWriter, r *http.Request, _ domain.User) {
	req, err := s.app.ApproveRequest(strings.TrimSpace(r.PathValue("requestId")))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, requestResponse{Request: req})
}

func (s *Server) handleRejectRequest(w http.ResponseWriter, r *http.Request, _ domain.User) {
	req, err := s.app.RejectRequest(strings.TrimSpace(r.PathValue("requestId")))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, requestResponse{Request: req})
}

func (s *Server) handleUploadBook(w http.ResponseWriter, r *http.Request, admin domain.User) {
	form, ok := s.parseBookForm(w, r)
	if !ok {
		return
	}
	defer form.close()
	book, err := s.app.UploadBook(r.Context(), admin, form.input, form.cover, form.pdf)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bookResponse{Book: book})
}

// handleUpdateBook accepts multipart (fields plus optional files) or a JSON
// body carrying text fields only.
func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request, _ domain.User) {
	bookID := strings.TrimSpace(r.PathValue("id"))
	var (
		in         app.BookInput
		cover, pdf *app.Upload
	)
	if isMultipart(r) {
		form, ok := s.parseBookForm(w, r)
		if !ok {
			return
		}
		defer form.close()
		in, cover, pdf = form.input, form.cover, form.pdf
	} else {
		var req bookPatchRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid JSON")
			return
		}
		in = app.BookInput{Title: req.Title, Author: req.Author, Description: req.Description, Summary: req.Summary}
	}
	book, err := s.app.UpdateBook(r.Context(), bookID, in, cover, pdf)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bookResponse{Book: book})
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if err := s.app.DeleteBook(r.Context(), strings.TrimSpace(r.PathValue("id"))); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "book deleted"})
}

type bookForm struct {
	input  app.BookInput
	cover  *app.Upload
	pdf    *app.Upload
	closer []multipart.File
}

func (f *bookForm) close() {
	for _, c := range f.closer {
		_ = c.Close()
	}
}

// parseBookForm reads the multipart body. Missing files yield nil uploads and
// are left to the app layer to validate.
func (s *Server) parseBookForm(w http.ResponseWriter, r *http.Request) (*bookForm, bool) {
	if r.ContentLength > s.maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE", "upload exceeds size limit")
		return nil, false
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE", "upload exceeds size limit")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid form data")
		return nil, false
	}
	form := &bookForm{
		input: app.BookInput{
			Title:       r.FormValue("title"),
			Author:      r.FormValue("author"),
			Description: r.FormValue("description"),
			Summary:     r.FormValue("summary"),
		},
	}
	form.cover = form.file(r, "coverImage")
	form.pdf = form.file(r, "pdf")
	return form, true
}

func (f *bookForm) file(r *http.Request, field string) *app.Upload {
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil
	}
	f.closer = append(f.closer, file)
	return &app.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	}
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "multipart/form-data")
}
