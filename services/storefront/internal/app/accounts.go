package app

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"ebookstore/internal/util"
	"ebookstore/pkg/auth"
	"ebookstore/pkg/domain"
	"ebookstore/pkg/queue"
	"ebookstore/pkg/store"
)

const resetTokenBytes = 32

// SignUp registers an unapproved reader account and opens a session.
func (a *App) SignUp(fullName, email, password string) (domain.User, string, error) {
	user, err := newUser(a.store, fullName, email, password, domain.RoleUser, false, a.now())
	if err != nil {
		return domain.User{}, "", err
	}
	token, err := a.sessions.NewSession(user.ID, user.Role)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("create session: %w", err)
	}
	return user, token, nil
}

// CreateAdmin registers an approved admin account. Admins are only created
// through bootstrap tooling.
func CreateAdmin(s store.Store, fullName, email, password string) (domain.User, error) {
	return newUser(s, fullName, email, password, domain.RoleAdmin, true, time.Now().UTC())
}

func newUser(s store.Store, fullName, email, password string, role domain.UserRole, approved bool, now time.Time) (domain.User, error) {
	fullName = strings.TrimSpace(fullName)
	email = normalizeEmail(email)
	switch {
	case fullName == "":
		return domain.User{}, missing("fullName")
	case email == "":
		return domain.User{}, missing("email")
	case password == "":
		return domain.User{}, missing("password")
	}
	if err := ValidateEmail(email); err != nil {
		return domain.User{}, err
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, &ValidationError{Field: "password", Message: err.Error()}
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	user := domain.User{
		ID:           util.NewID(),
		FullName:     fullName,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		IsApproved:   approved,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.CreateUser(user); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			return domain.User{}, ErrEmailTaken
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// ValidateEmail checks that email is a bare address.
func ValidateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return &ValidationError{Field: "email", Message: "email is invalid"}
	}
	return nil
}

// Login verifies credentials and opens a session.
func (a *App) Login(email, password string) (domain.User, string, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return domain.User{}, "", ErrInvalidCredentials
	}
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("load user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.sessions.NewSession(user.ID, user.Role)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("create session: %w", err)
	}
	return user, token, nil
}

// Logout revokes the session token.
func (a *App) Logout(token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	return a.sessions.DeleteSession(token)
}

// Authenticate resolves a session token to the stored user. The role and
// approval flag always come from the store, never from the token.
func (a *App) Authenticate(token string) (domain.User, error) {
	if strings.TrimSpace(token) == "" {
		return domain.User{}, ErrUnauthorized
	}
	userID, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil {
		if errors.Is(err, store.ErrInvalidSession) {
			return domain.User{}, ErrUnauthorized
		}
		return domain.User{}, fmt.Errorf("verify session: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUnauthorized
	}
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUnauthorized
	}
	return user, nil
}

// ForgotPassword mails a reset link to a known account. Unknown emails
// succeed silently.
func (a *App) ForgotPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return missing("email")
	}
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if !ok {
		return nil
	}
	token, err := randomToken(resetTokenBytes)
	if err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}
	if err := a.store.SetResetToken(user.ID, hashToken(token), a.now().Add(a.resetTokenTTL)); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}
	link := a.frontendURL + "/reset-password/" + token
	msg := queue.Message{
		To:      user.Email,
		Subject: "Password reset",
		Body: fmt.Sprintf("Hello %s,\n\nUse the link below to choose a new password. It expires in %d minutes.\n\n%s\n\nIf you did not ask for this, ignore this email.\n",
			user.FullName, int(a.resetTokenTTL.Minutes()), link),
	}
	if _, err := a.mail.Enqueue(ctx, msg); err != nil {
		if clearErr := a.store.ClearResetToken(user.ID); clearErr != nil {
			util.LoggerFromContext(ctx).Error("clear reset token failed", "user_id", user.ID, "err", clearErr)
		}
		return fmt.Errorf("%w: %v", ErrMailFailure, err)
	}
	return nil
}

// ResetPassword sets a new password for the holder of an unexpired reset
// token, revokes older sessions, and opens a new one.
func (a *App) ResetPassword(token, password string) (domain.User, string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.User{}, "", ErrInvalidResetToken
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, "", &ValidationError{Field: "password", Message: err.Error()}
	}
	now := a.now()
	user, ok, err := a.store.GetUserByResetToken(hashToken(token), now)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("load reset token: %w", err)
	}
	if !ok {
		return domain.User{}, "", ErrInvalidResetToken
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	if err := a.store.SetPassword(user.ID, hash); err != nil {
		return domain.User{}, "", fmt.Errorf("set password: %w", err)
	}
	if revoker, ok := a.sessions.(store.UserSessionRevoker); ok {
		if err := revoker.RevokeUserSessions(user.ID); err != nil {
			return domain.User{}, "", fmt.Errorf("revoke sessions: %w", err)
		}
	}
	session, err := a.sessions.NewSession(user.ID, user.Role)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("create session: %w", err)
	}
	user.PasswordHash = hash
	user.ResetTokenHash = ""
	user.ResetTokenExpires = nil
	return user, session, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
