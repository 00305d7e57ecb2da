package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/dashbite/apigw/internal/model"
	"github.com/dashbite/apigw/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenExpired       = errors.New("token expired")
	ErrOwnerInactive      = errors.New("owner account disabled")
)

// OwnerPrincipal identifies the owner behind a bearer token.
type OwnerPrincipal struct {
	OwnerID      string
	Email        string
	IsSuperAdmin bool
}

// AuthService handles owner sign-in and bearer tokens. It is the first-party
// trust domain and is independent of third-party API keys.
type AuthService struct {
	store      *store.Store
	jwtSecret  []byte
	bcryptCost int
}

func NewAuthService(st *store.Store, jwtSecret string, bcryptCost int) *AuthService {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &AuthService{
		store:      st,
		jwtSecret:  []byte(jwtSecret),
		bcryptCost: bcryptCost,
	}
}

// HashPassword returns the bcrypt hash of password.
func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CreateOwner registers a new owner account.
func (s *AuthService) CreateOwner(ctx context.Context, email, name, password string, superAdmin bool) (*model.Owner, error) {
	hash, err := s.HashPassword(password)
	if err != nil {
		return nil, err
	}
	owner := &model.Owner{
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		IsActive:     true,
		IsSuperAdmin: superAdmin,
	}
	if err := s.store.CreateOwner(ctx, owner); err != nil {
		return nil, err
	}
	return owner, nil
}

// Login verifies an owner's password and returns the account.
func (s *AuthService) Login(ctx context.Context, email, password string) (*model.Owner, error) {
	owner, err := s.store.GetOwnerByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(owner.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !owner.IsActive {
		return nil, ErrOwnerInactive
	}

	// Update last login timestamp (fire and forget)
	go s.store.UpdateOwnerLastLogin(context.Background(), owner.ID) //nolint:errcheck

	return owner, nil
}

// ValidateJWT verifies a bearer token and returns the associated owner identity.
func (s *AuthService) ValidateJWT(ctx context.Context, tokenStr string) (*OwnerPrincipal, error) {
	claims := &jwtClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidCredentials
	}

	if !token.Valid {
		return nil, ErrInvalidCredentials
	}

	return &OwnerPrincipal{
		OwnerID:      claims.OwnerID,
		Email:        claims.Email,
		IsSuperAdmin: claims.SuperAdmin,
	}, nil
}

// IssueJWT creates a new signed token for the given owner.
func (s *AuthService) IssueJWT(ctx context.Context, owner *model.Owner, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwtClaims{
		OwnerID:    owner.ID,
		Email:      owner.Email,
		SuperAdmin: owner.IsSuperAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   owner.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "apigw",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

type jwtClaims struct {
	OwnerID    string `json:"owner_id"`
	Email      string `json:"email"`
	SuperAdmin bool   `json:"super_admin,omitempty"`
	jwt.RegisteredClaims
}
