package store

import (
	"errors"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"ebookstore/pkg/domain"
)

const testSecret = "test-secret-0123456789-abcdefghijklmnop"

func newTestSessionStore(t *testing.T, revoker TokenRevoker, opts JWTOptions) *JWTSessionStore {
	t.Helper()
	s, err := NewJWTSessionStore(testSecret, time.Hour, revoker, opts)
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	return s
}

func TestJWTSessionStoreRoundTrip(t *testing.T) {
	s := newTestSessionStore(t, NewMemoryTokenRevoker(), JWTOptions{})
	token, err := s.NewSession("user-1", domain.RoleAdmin)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	uid, ok, err := s.GetUserIDByToken(token)
	if err != nil || !ok {
		t.Fatalf("get user: ok=%v err=%v", ok, err)
	}
	if uid != "user-1" {
		t.Fatalf("subject = %q, want user-1", uid)
	}
}

func TestJWTSessionStoreRejectsShortSecret(t *testing.T) {
	if _, err := NewJWTSessionStore("short", time.Hour, nil, JWTOptions{}); err == nil {
		t.Fatalf("expected short secret to be rejected")
	}
}

func TestJWTSessionStoreEnforcesAudience(t *testing.T) {
	signing := newTestSessionStore(t, nil, JWTOptions{Issuer: "issuer-a", Audience: "aud-a", Leeway: time.Second})
	verify := newTestSessionStore(t, nil, JWTOptions{Issuer: "issuer-a", Audience: "aud-b", Leeway: time.Second})

	token, err := signing.NewSession("user-claim", domain.RoleUser)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, _, err := verify.GetUserIDByToken(token); err == nil {
		t.Fatalf("expected audience mismatch to fail")
	}
}

func TestJWTSessionStoreRevokesByJTI(t *testing.T) {
	s := newTestSessionStore(t, NewMemoryTokenRevoker(), JWTOptions{})

	token, err := s.NewSession("user-revoke", domain.RoleUser)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.DeleteSession(token); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, ok, err := s.GetUserIDByToken(token); err == nil || ok {
		t.Fatalf("expected revoked token to fail, ok=%v err=%v", ok, err)
	}
}

func TestJWTSessionStoreRevokesByUserCutoff(t *testing.T) {
	revoker := NewMemoryTokenRevoker()
	s := newTestSessionStore(t, revoker, JWTOptions{})

	token, err := s.NewSession("user-cutoff", domain.RoleUser)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.RevokeUserSessions("user-cutoff"); err != nil {
		t.Fatalf("revoke user: %v", err)
	}
	_, ok, err := s.GetUserIDByToken(token)
	if !errors.Is(err, ErrInvalidSession) || ok {
		t.Fatalf("expected user-revoked token to fail, ok=%v err=%v", ok, err)
	}
}

func TestJWTSessionStoreKeepsTokenIssuedAtCutoff(t *testing.T) {
	revoker := NewMemoryTokenRevoker()
	s := newTestSessionStore(t, revoker, JWTOptions{})

	if err := s.RevokeUserSessions("user-fresh"); err != nil {
		t.Fatalf("revoke user: %v", err)
	}
	token, err := s.NewSession("user-fresh", domain.RoleUser)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, ok, err := s.GetUserIDByToken(token); err != nil || !ok {
		t.Fatalf("token issued after cutoff should pass, ok=%v err=%v", ok, err)
	}
}

func TestJWTSessionStoreUserCutoffWithinSameSecond(t *testing.T) {
	revoker := NewMemoryTokenRevoker()
	s := newTestSessionStore(t, revoker, JWTOptions{})
	base := time.Now().UTC().Truncate(time.Second)
	at := func(d time.Duration) func() time.Time {
		return func() time.Time { return base.Add(d) }
	}

	s.now = at(100 * time.Millisecond)
	older, err := s.NewSession("user-same-second", domain.RoleUser)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	s.now = at(400 * time.Millisecond)
	if err := s.RevokeUserSessions("user-same-second"); err != nil {
		t.Fatalf("revoke user: %v", err)
	}
	s.now = at(400*time.Millisecond + time.Microsecond)
	newer, err := s.NewSession("user-same-second", domain.RoleUser)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	if _, ok, err := s.GetUserIDByToken(older); !errors.Is(err, ErrInvalidSession) || ok {
		t.Fatalf("session from earlier in the cutoff second must fail, ok=%v err=%v", ok, err)
	}
	if _, ok, err := s.GetUserIDByToken(newer); err != nil || !ok {
		t.Fatalf("session issued after cutoff should pass, ok=%v err=%v", ok, err)
	}
}

func TestJWTSessionStoreLegacyTokenWithinCutoffSecond(t *testing.T) {
	revoker := NewMemoryTokenRevoker()
	s := newTestSessionStore(t, revoker, JWTOptions{})
	now := time.Now().UTC()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-legacy",
			Issuer:    defaultJWTIssuer,
			Audience:  jwt.ClaimStrings{defaultJWTAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			ID:        "jti-legacy",
		},
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if err := revoker.RevokeUser("user-legacy", now.Truncate(time.Second).Add(500*time.Millisecond)); err != nil {
		t.Fatalf("revoke user: %v", err)
	}
	if _, ok, err := s.GetUserIDByToken(signed); !errors.Is(err, ErrInvalidSession) || ok {
		t.Fatalf("token without iat_ns in the cutoff second must fail, ok=%v err=%v", ok, err)
	}
}

type failingRevoker struct{ err error }

func (f failingRevoker) Revoke(string, time.Duration) error { return f.err }
func (f failingRevoker) IsRevoked(string) (bool, error) { return false, f.err }

func TestJWTSessionStoreSeparatesRevokerFailure(t *testing.T) {
	outage := errors.New("redis unavailable")
	s := newTestSessionStore(t, failingRevoker{err: outage}, JWTOptions{})

	token, err := s.NewSession("user-outage", domain.RoleUser)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	_, ok, err := s.GetUserIDByToken(token)
	if ok || !errors.Is(err, outage) || errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected wrapped backend error, ok=%v err=%v", ok, err)
	}
	if _, _, err := s.GetUserIDByToken("not-a-jwt"); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("malformed token should be ErrInvalidSession, got %v", err)
	}
}

func TestJWTSessionStoreRejectsFutureIssuedAt(t *testing.T) {
	s := newTestSessionStore(t, nil, JWTOptions{Issuer: "issuer-a", Audience: "aud-a", Leeway: time.Second})

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-future",
		Issuer:    "issuer-a",
		Audience:  jwt.ClaimStrings{"aud-a"},
		IssuedAt:  jwt.NewNumericDate(time.Now().Add(2 * time.Minute)),
		NotBefore: jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
		ID:        "jti-future",
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, _, err := s.GetUserIDByToken(signed); err == nil {
		t.Fatalf("expected future iat token to fail")
	}
}

func TestJWTSessionStoreRequiresJTIClaim(t *testing.T) {
	s := newTestSessionStore(t, nil, JWTOptions{})

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-missing-jti",
		Issuer:    defaultJWTIssuer,
		Audience:  jwt.ClaimStrings{defaultJWTAudience},
		IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
		NotBefore: jwt.NewNumericDate(time.Now().UTC()),
		ExpiresAt: jwt.NewNumericDate(time.Now().UTC().Add(5 * time.Minute)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, _, err := s.GetUserIDByToken(signed); err == nil {
		t.Fatalf("expected missing jti token to fail")
	}
}

func TestJWTSessionStoreRejectsOtherSigningMethod(t *testing.T) {
	s := newTestSessionStore(t, nil, JWTOptions{})

	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "user-none",
		Issuer:    defaultJWTIssuer,
		Audience:  jwt.ClaimStrings{defaultJWTAudience},
		IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
		ExpiresAt: jwt.NewNumericDate(time.Now().UTC().Add(5 * time.Minute)),
		ID:        "jti-none",
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, _, err := s.GetUserIDByToken(signed); err == nil {
		t.Fatalf("expected alg=none token to fail")
	}
}
