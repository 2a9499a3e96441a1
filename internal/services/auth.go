package services

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/avarra/reelforge/internal/platform/ctxutil"
	"github.com/avarra/reelforge/internal/platform/logger"
)

// JWTClaims is the bearer token shape this service understands. owner_id is
// the only claim the rest of the system cares about; it is what every
// ownership check (checkpoint, artifact, job) is gated on.
type JWTClaims struct {
	OwnerUserID string `json:"owner_id"`
	jwt.RegisteredClaims
}

// AuthService verifies bearer tokens issued by an upstream identity provider
// and attaches the owner id to the request context. It does not issue or
// refresh tokens; that lifecycle lives outside this service's boundary.
type AuthService interface {
	SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error)
	GetAccessTTL() time.Duration
}

type authService struct {
	log          *logger.Logger
	jwtSecretKey string
	accessTTL    time.Duration
}

func NewAuthService(log *logger.Logger, jwtSecretKey string, accessTTL time.Duration) AuthService {
	return &authService{
		log:          log.With("service", "AuthService"),
		jwtSecretKey: jwtSecretKey,
		accessTTL:    accessTTL,
	}
}

func (as *authService) GetAccessTTL() time.Duration { return as.accessTTL }

func (as *authService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(as.jwtSecretKey), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	ownerID, err := uuid.Parse(claims.OwnerUserID)
	if err != nil {
		return nil, fmt.Errorf("invalid owner_id claim: %w", err)
	}
	return ctxutil.WithRequestData(ctx, &ctxutil.RequestData{UserID: ownerID}), nil
}
