package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/emergency-dispatch/internal/apperr"
	"github.com/example/emergency-dispatch/internal/models"
	"github.com/example/emergency-dispatch/internal/storage"
)

func signToken(t *testing.T, secret []byte, userID int64, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, chatClaims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func TestVerifyAcceptsValidToken(t *testing.T) {
	store := storage.NewMemoryStore()
	store.PutUser(models.User{ID: 42, Username: "sam", Role: models.RoleUser})
	v := &TokenVerifier{Secret: []byte("test-secret"), Store: store}

	p, err := v.Verify(context.Background(), signToken(t, []byte("test-secret"), 42, "user"))
	if err != nil {
		t.Fatalf("expected valid token, got %v", err)
	}
	if p.UserID != 42 || p.Role != models.RoleUser {
		t.Fatalf("unexpected principal %+v", p)
	}
}

func TestVerifyRejectsMissingToken(t *testing.T) {
	v := &TokenVerifier{Secret: []byte("test-secret"), Store: storage.NewMemoryStore()}
	if _, err := v.Verify(context.Background(), ""); !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestVerifyRejectsWrongSignature(t *testing.T) {
	store := storage.NewMemoryStore()
	store.PutUser(models.User{ID: 42, Username: "sam", Role: models.RoleUser})
	v := &TokenVerifier{Secret: []byte("test-secret"), Store: store}

	bad := signToken(t, []byte("other-secret"), 42, "user")
	if _, err := v.Verify(context.Background(), bad); !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestVerifyRejectsUnknownUser(t *testing.T) {
	v := &TokenVerifier{Secret: []byte("test-secret"), Store: storage.NewMemoryStore()}
	if _, err := v.Verify(context.Background(), signToken(t, []byte("test-secret"), 9999, "user")); !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}
