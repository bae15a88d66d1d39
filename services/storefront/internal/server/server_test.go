package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"ebookstore/internal/ratelimit"
	"ebookstore/pkg/queue"
	"ebookstore/pkg/storage"
	"ebookstore/pkg/store"
	"ebookstore/services/storefront/internal/app"
)

const testJWTSecret = "server-test-secret-0123456789abcdef"

type mailQueue struct {
	mu   sync.Mutex
	sent []queue.Message
}

func (m *mailQueue) Enqueue(_ context.Context, msg queue.Message) (queue.MailJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return queue.MailJob{ID: "job-1", To: msg.To, Status: queue.StatusQueued}, nil
}

type testServer struct {
	t       *testing.T
	handler http.Handler
	app     *app.App
	store   *store.MemoryStore
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	sessions, err := store.NewJWTSessionStore(testJWTSecret, time.Hour, store.NewMemoryTokenRevoker(), store.JWTOptions{})
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	dataStore := store.NewMemoryStore()
	a, err := app.New(context.Background(), app.Config{
		Store:       dataStore,
		Objects:     storage.NewMemoryStore("https://cdn.test"),
		Sessions:    sessions,
		Mail:        &mailQueue{},
		FrontendURL: "https://shop.example.com",
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	cfg.App = a
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return &testServer{t: t, handler: srv.Router(), app: a, store: dataStore}
}

func (ts *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			ts.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) signup(email string) (string, string) {
	ts.t.Helper()
	rec := ts.do(http.MethodPost, "/api/auth/signup", "", map[string]string{
		"fullName": "Reader", "email": email, "password": "secret1",
	})
	if rec.Code != http.StatusCreated {
		ts.t.Fatalf("signup status = %d body=%s", rec.Code, rec.Body.String())
	}
	var resp sessionResponse
	decode(ts.t, rec, &resp)
	return resp.User.ID, resp.Token
}

func (ts *testServer) adminToken() string {
	ts.t.Helper()
	if _, err := app.CreateAdmin(ts.store, "Admin", "admin@example.com", "admin-pass"); err != nil {
		ts.t.Fatalf("create admin: %v", err)
	}
	rec := ts.do(http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "admin@example.com", "password": "admin-pass",
	})
	if rec.Code != http.StatusOK {
		ts.t.Fatalf("admin login status = %d body=%s", rec.Code, rec.Body.String())
	}
	var resp sessionResponse
	decode(ts.t, rec, &resp)
	return resp.Token
}

func (ts *testServer) upload(token string, fields map[string]string, files map[string]string) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	for field, name := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+name+`"`)
		h.Set("Content-Type", "application/octet-stream")
		part, err := mw.CreatePart(h)
		if err != nil {
			ts.t.Fatalf("create part: %v", err)
		}
		_, _ = part.Write([]byte("content of " + name))
	}
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/admin/upload-book", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) uploadBook(token string) string {
	ts.t.Helper()
	rec := ts.upload(token,
		map[string]string{"title": "Go in Practice", "author": "Gopher", "description": "A book"},
		map[string]string{"coverImage": "cover.png", "pdf": "book.pdf"})
	if rec.Code != http.StatusCreated {
		ts.t.Fatalf("upload status = %d body=%s", rec.Code, rec.Body.String())
	}
	var resp bookResponse
	decode(ts.t, rec, &resp)
	return resp.Book.ID
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	decode(t, rec, &resp)
	return resp
}

func TestSignupSetsSessionCookie(t *testing.T) {
	ts := newTestServer(t, Config{CookieSecure: true})
	rec := ts.do(http.MethodPost, "/api/auth/signup", "", map[string]string{
		"fullName": "Reader", "email": "reader@example.com", "password": "secret1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != sessionCookie {
		t.Fatalf("expected session cookie, got %+v", cookies)
	}
	c := cookies[0]
	if !c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteStrictMode || c.Value == "" {
		t.Fatalf("unexpected cookie attributes: %+v", c)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Fatalf("password hash leaked: %s", rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/auth/check", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: c.Value})
	check := httptest.NewRecorder()
	ts.handler.ServeHTTP(check, req)
	if check.Code != http.StatusOK {
		t.Fatalf("check with cookie status = %d", check.Code)
	}
}

func TestSignupDuplicateEmail(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.signup("reader@example.com")
	rec := ts.do(http.MethodPost, "/api/auth/signup", "", map[string]string{
		"fullName": "Other", "email": "READER@example.com", "password": "secret1",
	})
	if rec.Code != http.StatusConflict || errorCode(t, rec).Code != "EMAIL_TAKEN" {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	ts := newTestServer(t, Config{})
	_, token := ts.signup("reader@example.com")
	rec := ts.do(http.MethodPost, "/api/auth/logout", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout status = %d", rec.Code)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Fatalf("expected cleared cookie, got %+v", cookies)
	}
	if rec := ts.do(http.MethodGet, "/api/auth/check", token, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("check after logout status = %d", rec.Code)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.signup("reader@example.com")
	rec := ts.do(http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "reader@example.com", "password": "wrong-pass",
	})
	resp := errorCode(t, rec)
	if rec.Code != http.StatusUnauthorized || resp.Code != "AUTH_INVALID_CREDENTIALS" {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if resp.Error != "invalid email or password" {
		t.Fatalf("error = %q", resp.Error)
	}
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	ts := newTestServer(t, Config{})
	_, token := ts.signup("reader@example.com")

	if rec := ts.do(http.MethodGet, "/api/admin/users", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d", rec.Code)
	}
	if rec := ts.do(http.MethodGet, "/api/admin/users", "garbage", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d", rec.Code)
	}
	rec := ts.do(http.MethodGet, "/api/admin/users", token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("reader status = %d", rec.Code)
	}
	if got := rec.Header().Get("X-Request-Id"); got == "" || errorCode(t, rec).RequestID != got {
		t.Fatalf("expected request id echoed in error body, header=%q body=%s", got, rec.Body.String())
	}
}

func TestDownloadWorkflow(t *testing.T) {
	ts := newTestServer(t, Config{})
	adminToken := ts.adminToken()
	bookID := ts.uploadBook(adminToken)
	userID, token := ts.signup("reader@example.com")

	rec := ts.do(http.MethodPost, "/api/books/"+bookID+"/request-download", token, nil)
	if rec.Code != http.StatusForbidden || errorCode(t, rec).Code != "USER_NOT_APPROVED" {
		t.Fatalf("unapproved request status = %d body=%s", rec.Code, rec.Body.String())
	}

	if rec := ts.do(http.MethodPatch, "/api/admin/approve-user/"+userID, adminToken, nil); rec.Code != http.StatusOK {
		t.Fatalf("approve user status = %d body=%s", rec.Code, rec.Body.String())
	}

	rec = ts.do(http.MethodPost, "/api/books/"+bookID+"/request-download", token, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("request status = %d body=%s", rec.Code, rec.Body.String())
	}
	var created requestResponse
	decode(t, rec, &created)

	rec = ts.do(http.MethodPost, "/api/books/"+bookID+"/request-download", token, nil)
	dup := errorCode(t, rec)
	if rec.Code != http.StatusBadRequest || dup.Code != "REQUEST_DUPLICATE" || dup.Status != "pending" {
		t.Fatalf("duplicate status = %d body=%s", rec.Code, rec.Body.String())
	}

	if rec := ts.do(http.MethodGet, "/api/books/"+bookID+"/download", token, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("download before approval status = %d", rec.Code)
	}

	rec = ts.do(http.MethodGet, "/api/admin/download-requests?status=pending", adminToken, nil)
	var pending requestListResponse
	decode(t, rec, &pending)
	if pending.Count != 1 || pending.Items[0].ID != created.Request.ID || pending.Items[0].User.Email != "reader@example.com" {
		t.Fatalf("unexpected pending queue: %+v", pending)
	}

	if rec := ts.do(http.MethodPatch, "/api/admin/approve-download/"+created.Request.ID, adminToken, nil); rec.Code != http.StatusOK {
		t.Fatalf("approve download status = %d body=%s", rec.Code, rec.Body.String())
	}
	rec = ts.do(http.MethodPatch, "/api/admin/reject-download/"+created.Request.ID, adminToken, nil)
	if rec.Code != http.StatusConflict || errorCode(t, rec).Code != "REQUEST_CLOSED" {
		t.Fatalf("reject after approve status = %d body=%s", rec.Code, rec.Body.String())
	}

	rec = ts.do(http.MethodGet, "/api/books/"+bookID+"/download", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("download status = %d body=%s", rec.Code, rec.Body.String())
	}
	var link downloadResponse
	decode(t, rec, &link)
	if !strings.HasPrefix(link.URL, "https://cdn.test/") {
		t.Fatalf("unexpected download url %q", link.URL)
	}

	rec = ts.do(http.MethodGet, "/api/books/my-books", token, nil)
	var mine bookListResponse
	decode(t, rec, &mine)
	if mine.Count != 1 || mine.Items[0].PDFURL == "" {
		t.Fatalf("unexpected my-books: %+v", mine)
	}
}

func TestBrowseBooksIsPublicAndRedacted(t *testing.T) {
	ts := newTestServer(t, Config{})
	adminToken := ts.adminToken()
	ts.uploadBook(adminToken)

	rec := ts.do(http.MethodGet, "/api/books", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("browse status = %d", rec.Code)
	}
	var list bookListResponse
	decode(t, rec, &list)
	if list.Count != 1 {
		t.Fatalf("count = %d", list.Count)
	}
	if list.Items[0].PDFURL != "" || list.Items[0].CanDownload {
		t.Fatalf("anonymous viewer must not see a pdf link: %+v", list.Items[0])
	}
	if list.Items[0].CoverURL == "" {
		t.Fatalf("expected cover url")
	}
}

func TestUploadValidation(t *testing.T) {
	ts := newTestServer(t, Config{})
	adminToken := ts.adminToken()
	rec := ts.upload(adminToken,
		map[string]string{"title": "T", "author": "A", "description": "D"},
		map[string]string{"coverImage": "cover.png"})
	if rec.Code != http.StatusBadRequest || errorCode(t, rec).Code != "VALIDATION_FAILED" {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestUploadTooLarge(t *testing.T) {
	ts := newTestServer(t, Config{MaxUploadBytes: 64})
	adminToken := ts.adminToken()
	rec := ts.upload(adminToken,
		map[string]string{"title": "T", "author": "A", "description": strings.Repeat("d", 256)},
		map[string]string{"coverImage": "cover.png", "pdf": "book.pdf"})
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestUpdateAndDeleteBook(t *testing.T) {
	ts := newTestServer(t, Config{})
	adminToken := ts.adminToken()
	bookID := ts.uploadBook(adminToken)

	rec := ts.do(http.MethodPatch, "/api/admin/books/"+bookID, adminToken, map[string]string{"title": "Renamed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d body=%s", rec.Code, rec.Body.String())
	}
	var updated bookResponse
	decode(t, rec, &updated)
	if updated.Book.Title != "Renamed" || updated.Book.Author != "Gopher" {
		t.Fatalf("unexpected update result: %+v", updated.Book)
	}

	if rec := ts.do(http.MethodDelete, "/api/admin/books/"+bookID, adminToken, nil); rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = ts.do(http.MethodDelete, "/api/admin/books/"+bookID, adminToken, nil)
	if rec.Code != http.StatusNotFound || errorCode(t, rec).Code != "BOOK_NOT_FOUND" {
		t.Fatalf("second delete status = %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestListRequestsRejectsUnknownStatus(t *testing.T) {
	ts := newTestServer(t, Config{})
	adminToken := ts.adminToken()
	rec := ts.do(http.MethodGet, "/api/admin/download-requests?status=archived", adminToken, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAuthRoutesAreRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(mr.Addr(), "", "test", 2, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	t.Cleanup(func() { _ = limiter.Close() })
	ts := newTestServer(t, Config{Limiter: limiter})

	body := map[string]string{"email": "nobody@example.com", "password": "secret1"}
	for i := 0; i < 2; i++ {
		if rec := ts.do(http.MethodPost, "/api/auth/login", "", body); rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d", i, rec.Code)
		}
	}
	rec := ts.do(http.MethodPost, "/api/auth/login", "", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	// scopes are independent
	if rec := ts.do(http.MethodPost, "/api/auth/forgot-password", "", map[string]string{"email": "nobody@example.com"}); rec.Code != http.StatusOK {
		t.Fatalf("forgot-password status = %d", rec.Code)
	}
}

func TestResetPasswordRejectsMismatch(t *testing.T) {
	ts := newTestServer(t, Config{})
	rec := ts.do(http.MethodPut, "/api/auth/reset-password/abc", "", map[string]string{
		"password": "secret1", "confirmPassword": "secret2",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	rec = ts.do(http.MethodPut, "/api/auth/reset-password/abc", "", map[string]string{"password": "secret1"})
	if rec.Code != http.StatusBadRequest || errorCode(t, rec).Code != "RESET_TOKEN_INVALID" {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
}

type downRevoker struct{}

func (downRevoker) Revoke(string, time.Duration) error { return errors.New("redis down") }
func (downRevoker) IsRevoked(string) (bool, error) { return false, errors.New("redis down") }

func TestAuthenticatedRouteRevokerOutageIs500(t *testing.T) {
	sessions, err := store.NewJWTSessionStore(testJWTSecret, time.Hour, downRevoker{}, store.JWTOptions{})
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	a, err := app.New(context.Background(), app.Config{
		Store:       store.NewMemoryStore(),
		Objects:     storage.NewMemoryStore("https://cdn.test"),
		Sessions:    sessions,
		Mail:        &mailQueue{},
		FrontendURL: "https://shop.example.com",
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	srv, err := New(Config{App: a})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := &testServer{t: t, handler: srv.Router(), app: a}
	token, err := sessions.NewSession("user-1", "user")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	rec := ts.do(http.MethodGet, "/api/auth/check", token, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 body=%s", rec.Code, rec.Body.String())
	}
	var resp errorResponse
	decode(t, rec, &resp)
	if resp.Code != "SYSTEM_INTERNAL_ERROR" {
		t.Fatalf("code = %q", resp.Code)
	}

	rec = ts.do(http.MethodGet, "/api/auth/check", "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("invalid token status = %d, want 401", rec.Code)
	}
}
