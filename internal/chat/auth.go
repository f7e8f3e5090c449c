package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/emergency-dispatch/internal/apperr"
	"github.com/example/emergency-dispatch/internal/models"
	"github.com/example/emergency-dispatch/internal/storage"
)

type chatClaims struct {
	UserID int64  `json:"userId"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// TokenVerifier validates the bearer token a chat client passes as a
// connection query parameter. The token must be an HMAC-signed JWT naming
// an existing user; anything else is rejected before admission.
type TokenVerifier struct {
	Secret []byte
	Store  storage.Store
}

func (v *TokenVerifier) Verify(ctx context.Context, token string) (models.Principal, error) {
	if token == "" {
		return models.Principal{}, apperr.ErrUnauthenticated
	}
	var claims chatClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.Secret, nil
	})
	if err != nil || !parsed.Valid {
		return models.Principal{}, fmt.Errorf("%w: invalid token", apperr.ErrUnauthenticated)
	}
	user, err := v.Store.GetUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return models.Principal{}, fmt.Errorf("%w: unknown user", apperr.ErrUnauthenticated)
		}
		return models.Principal{}, err
	}
	role := models.Role(claims.Role)
	if role == "" {
		role = user.Role
	}
	return models.Principal{UserID: user.ID, Role: role}, nil
}
