package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	internalauth "filevault/internal/auth"
	"filevault/internal/store"
)

// AuthService registers owners and issues and revokes access tokens.
type AuthService struct {
	store  store.AuthStore
	tokens *internalauth.TokenIssuer
}

type authLoginResult struct {
	User      *store.AuthUser
	Token     string
	ExpiresAt time.Time
}

func NewAuthService(authStore store.AuthStore, tokens *internalauth.TokenIssuer) *AuthService {
	if authStore == nil || tokens == nil {
		return nil
	}
	return &AuthService{store: authStore, tokens: tokens}
}

func (a *AuthService) Register(ctx context.Context, username, password string, now time.Time) (*store.AuthUser, error) {
	normalized, err := internalauth.NormalizeUsername(username)
	if err != nil {
		return nil, badRequestCode(err, ErrCodeInvalidUsername)
	}
	if err := internalauth.ValidatePassword(password); err != nil {
		return nil, badRequestCode(err, ErrCodeInvalidPassword)
	}
	hash, err := internalauth.HashPassword(password)
	if err != nil {
		return nil, internalError(err)
	}
	user, err := a.store.CreateUser(ctx, normalized, hash, now)
	if errors.Is(err, store.ErrConflict) {
		return nil, conflict(fmt.Errorf("username %q is taken", normalized))
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Login checks credentials and issues a token backed by a session row.
// Unknown users, disabled users, and wrong passwords are indistinguishable.
func (a *AuthService) Login(ctx context.Context, username, password string, now time.Time) (*authLoginResult, error) {
	normalized, err := internalauth.NormalizeUsername(username)
	if err != nil {
		_ = internalauth.CheckCredentials("", password)
		return nil, internalauth.ErrInvalidCredentials
	}

	user, err := a.store.GetUserByUsername(ctx, normalized)
	if err != nil {
		return nil, err
	}
	hash := ""
	if user != nil && !user.Disabled {
		hash = user.PasswordHash
	}
	if err := internalauth.CheckCredentials(hash, password); err != nil {
		return nil, err
	}

	token, claims, err := a.tokens.Issue(user.ID, now)
	if err != nil {
		return nil, internalError(err)
	}
	if err := a.store.CreateSession(ctx, claims.SessionID, user.ID, claims.ExpiresAt, now); err != nil {
		return nil, err
	}
	return &authLoginResult{User: user, Token: token, ExpiresAt: claims.ExpiresAt}, nil
}

// Logout revokes the session behind token. Tokens that no longer verify
// have nothing left to revoke.
func (a *AuthService) Logout(ctx context.Context, token string, now time.Time) error {
	claims, err := a.tokens.Parse(token, now)
	if err != nil {
		return nil
	}
	return a.store.RevokeSession(ctx, claims.SessionID, now)
}

func (a *AuthService) User(ctx context.Context, ownerID int64) (*store.AuthUser, error) {
	user, err := a.store.GetUserByID(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("owner %d: %w", ownerID, ErrUnauthorized)
	}
	return user, nil
}
