package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ebookstore/internal/ratelimit"
	"ebookstore/internal/util"
	"ebookstore/pkg/domain"
	"ebookstore/services/storefront/internal/app"
)

const sessionCookie = "jwt"

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Limiter        ratelimit.Limiter
	TrustedProxies *util.TrustedProxies
	CORSOrigin     string
	CookieSecure   bool
	SessionTTL     time.Duration
	MaxUploadBytes int64
}

// Server exposes the storefront HTTP API.
type Server struct {
	app            *app.App
	limiter        ratelimit.Limiter
	trustedProxies *util.TrustedProxies
	corsOrigin     string
	cookieSecure   bool
	sessionTTL     time.Duration
	maxUploadBytes int64
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 100 * 1024 * 1024
	}
	sessionTTL := cfg.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = 15 * 24 * time.Hour
	}
	s := &Server{
		app:            cfg.App,
		limiter:        cfg.Limiter,
		trustedProxies: cfg.TrustedProxies,
		corsOrigin:     cfg.CORSOrigin,
		cookieSecure:   cfg.CookieSecure,
		sessionTTL:     sessionTTL,
		maxUploadBytes: maxUploadBytes,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("storefront", util.WithSecurityHeaders(s.trustedProxies, util.WithCORS(s.corsOrigin, s.mux)), "/healthz"))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	// accounts
	s.mux.Handle("POST /api/auth/signup", s.rateLimited("signup", http.HandlerFunc(s.handleSignup)))
	s.mux.Handle("POST /api/auth/login", s.rateLimited("login", http.HandlerFunc(s.handleLogin)))
	s.mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	s.mux.Handle("GET /api/auth/check", s.authenticated(s.handleCheck))
	s.mux.Handle("POST /api/auth/forgot-password", s.rateLimited("forgot", http.HandlerFunc(s.handleForgotPassword)))
	s.mux.Handle("PUT /api/auth/reset-password/{token}", s.rateLimited("reset", http.HandlerFunc(s.handleResetPassword)))

	// catalog
	s.mux.HandleFunc("GET /api/books", s.handleBrowseBooks)
	s.mux.Handle("GET /api/books/my-books", s.authenticated(s.handleMyBooks))
	s.mux.Handle("POST /api/books/{id}/request-download", s.authenticated(s.handleRequestDownload))
	s.mux.Handle("GET /api/books/{id}/download", s.authenticated(s.handleDownloadLink))

	// admin
	s.mux.Handle("GET /api/admin/users", s.adminOnly(s.handleListUsers))
	s.mux.Handle("PATCH /api/admin/approve-user/{userId}", s.adminOnly(s.handleApproveUser))
	s.mux.Handle("GET /api/admin/download-requests", s.adminOnly(s.handleListRequests))
	s.mux.Handle("PATCH /api/admin/approve-download/{requestId}", s.adminOnly(s.handleApproveRequest))
	s.mux.Handle("PATCH /api/admin/reject-download/{requestId}", s.adminOnly(s.handleRejectRequest))
	s.mux.Handle("POST /api/admin/upload-book", s.adminOnly(s.handleUploadBook))
	s.mux.Handle("PATCH /api/admin/books/{id}", s.adminOnly(s.handleUpdateBook))
	s.mux.Handle("DELETE /api/admin/books/{id}", s.adminOnly(s.handleDeleteBook))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := sessionToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "AUTH_INVALID_TOKEN", "unauthorized")
			return
		}
		user, err := s.app.Authenticate(token)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		next(w, r, user)
	})
}

func (s *Server) adminOnly(next userHandler) http.Handler {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, user domain.User) {
		if user.Role != domain.RoleAdmin {
			writeError(w, http.StatusForbidden, "AUTH_FORBIDDEN", "admin access required")
			return
		}
		next(w, r, user)
	})
}

// optionalUser resolves the caller when a valid session is present.
func (s *Server) optionalUser(r *http.Request) *domain.User {
	token, ok := sessionToken(r)
	if !ok {
		return nil
	}
	user, err := s.app.Authenticate(token)
	if err != nil {
		return nil
	}
	return &user
}

func (s *Server) rateLimited(scope string, next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := scope + ":" + util.RateLimitKey(r, s.trustedProxies)
		d := s.limiter.Allow(r.Context(), key)
		if !d.Allowed {
			retry := int(d.RetryAfter.Round(time.Second).Seconds())
			if retry < 1 {
				retry = 1
			}
			util.LoggerFromContext(r.Context()).Warn("rate limited", "scope", scope, "client_ip", util.ClientIP(r, s.trustedProxies))
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

// sessionToken reads a Bearer token, falling back to the session cookie.
func sessionToken(r *http.Request) (string, bool) {
	if v := strings.TrimSpace(r.Header.Get("Authorization")); v != "" {
		const prefix = "Bearer "
		if len(v) > len(prefix) && strings.EqualFold(v[:len(prefix)], prefix) {
			if token := strings.TrimSpace(v[len(prefix):]); token != "" {
				return token, true
			}
		}
		return "", false
	}
	if c, err := r.Cookie(sessionCookie); err == nil && strings.TrimSpace(c.Value) != "" {
		return c.Value, true
	}
	return "", false
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string               `json:"error"`
	Code      string               `json:"code"`
	Status    domain.RequestStatus `json:"status,omitempty"`
	RequestID string               `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

// writeAppError maps application errors to a status and a stable code.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var dup *app.DuplicateRequestError
	var verr *app.ValidationError
	switch {
	case errors.As(err, &dup):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:     dup.Error(),
			Code:      "REQUEST_DUPLICATE",
			Status:    dup.Status,
			RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
		})
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", verr.Error())
	case errors.Is(err, app.ErrBookNotFound):
		writeError(w, http.StatusNotFound, "BOOK_NOT_FOUND", app.ErrBookNotFound.Error())
	case errors.Is(err, app.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "USER_NOT_FOUND", app.ErrUserNotFound.Error())
	case errors.Is(err, app.ErrRequestNotFound):
		writeError(w, http.StatusNotFound, "REQUEST_NOT_FOUND", app.ErrRequestNotFound.Error())
	case errors.Is(err, app.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "AUTH_INVALID_TOKEN", "unauthorized")
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, "DOWNLOAD_FORBIDDEN", "download not approved")
	case errors.Is(err, app.ErrUserNotApproved):
		writeError(w, http.StatusForbidden, "USER_NOT_APPROVED", app.ErrUserNotApproved.Error())
	case errors.Is(err, app.ErrRequestClosed):
		writeError(w, http.StatusConflict, "REQUEST_CLOSED", err.Error())
	case errors.Is(err, app.ErrEmailTaken):
		writeError(w, http.StatusConflict, "EMAIL_TAKEN", app.ErrEmailTaken.Error())
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "AUTH_INVALID_CREDENTIALS", app.ErrInvalidCredentials.Error())
	case errors.Is(err, app.ErrInvalidResetToken):
		writeError(w, http.StatusBadRequest, "RESET_TOKEN_INVALID", app.ErrInvalidResetToken.Error())
	case errors.Is(err, app.ErrMailFailure):
		util.LoggerFromContext(r.Context()).Error("mail enqueue failed", "err", err)
		writeError(w, http.StatusBadGateway, "MAIL_FAILURE", app.ErrMailFailure.Error())
	case errors.Is(err, app.ErrStorage):
		util.LoggerFromContext(r.Context()).Error("object storage failed", "err", err)
		writeError(w, http.StatusBadGateway, "STORAGE_FAILURE", app.ErrStorage.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "SYSTEM_INTERNAL_ERROR", "internal error")
	}
}
