package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/database"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("admin123")
	if err != nil {
		t.Fatal(err)
	}
	if hash == "admin123" || !strings.HasPrefix(hash, "$2") {
		t.Errorf("hash = %q, want a bcrypt hash", hash)
	}
	if !CheckPassword(hash, "admin123") {
		t.Error("correct password rejected")
	}
	if CheckPassword(hash, "admin124") {
		t.Error("wrong password accepted")
	}
	if CheckPassword("", "") {
		t.Error("empty hash accepted")
	}

	if _, err := HashPassword(strings.Repeat("x", MaxPasswordBytes)); err != nil {
		t.Errorf("%d-byte password rejected: %v", MaxPasswordBytes, err)
	}
	if _, err := HashPassword(strings.Repeat("x", MaxPasswordBytes+1)); !errors.Is(err, ErrPasswordTooLong) {
		t.Errorf("err = %v, want ErrPasswordTooLong", err)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	m := NewTokenManager("test-secret", time.Hour)
	want := Identity{ID: 42, Type: database.RoleAdmin, Email: "admin@admin.com"}

	token, err := m.Issue(want)
	if err != nil {
		t.Fatal(err)
	}
	got, err := m.Parse(token)
	if err != nil {
		t.Fatal(err)
	}
	if *got != want {
		t.Errorf("Parse() = %+v, want %+v", *got, want)
	}
}

func TestTokenClaimsShape(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	m := NewTokenManager("test-secret", 2*time.Hour)
	m.now = func() time.Time { return now }

	token, err := m.Issue(Identity{ID: 7, Type: database.RoleUser, Email: "u@example.com"})
	if err != nil {
		t.Fatal(err)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		t.Fatal(err)
	}
	if claims["sub"] != "7" || claims["type"] != "user" || claims["email"] != "u@example.com" {
		t.Errorf("claims = %v", claims)
	}
	if exp, _ := claims.GetExpirationTime(); !exp.Equal(now.Add(2 * time.Hour)) {
		t.Errorf("exp = %v", exp)
	}
	if iat, _ := claims.GetIssuedAt(); !iat.Equal(now) {
		t.Errorf("iat = %v", iat)
	}
}

func TestParseRejects(t *testing.T) {
	m := NewTokenManager("test-secret", time.Hour)
	valid, _ := m.Issue(Identity{ID: 1, Type: database.RoleSuperAdmin, Email: "s@x"})

	other := NewTokenManager("other-secret", time.Hour)
	foreign, _ := other.Issue(Identity{ID: 1, Type: database.RoleSuperAdmin, Email: "s@x"})

	expired := NewTokenManager("test-secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _ := expired.Issue(Identity{ID: 1, Type: database.RoleUser, Email: "u@x"})

	badRole, _ := m.Issue(Identity{ID: 1, Type: "root", Email: "r@x"})
	badSubject, _ := m.Issue(Identity{ID: 0, Type: database.RoleUser, Email: "u@x"})

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "1", "type": "superadmin", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := map[string]string{
		"garbage":     "not.a.token",
		"foreign":     foreign,
		"expired":     old,
		"bad role":    badRole,
		"bad subject": badSubject,
		"alg none":    none,
		"tampered":    valid[:len(valid)-2] + "xx",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := m.Parse(token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Parse() error = %v, want ErrInvalidToken", err)
			}
		})
	}

	if _, err := m.Parse(""); !errors.Is(err, ErrMissingToken) {
		t.Errorf("empty token error = %v, want ErrMissingToken", err)
	}
}
