package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"table-bidding/internal/biddingerrors"
	"table-bidding/internal/models"
	"table-bidding/internal/repository"
	"table-bidding/utils"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword returns a bcrypt hash using the given cost
func HashPassword(plain string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPassword compares a bcrypt hash with a plain password
func VerifyPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// Authenticator checks bidder credentials against the user store
type Authenticator struct {
	users repository.UserStore
}

func NewAuthenticator(users repository.UserStore) *Authenticator {
	return &Authenticator{users: users}
}

// Authenticate returns the bidder identity for valid credentials
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (models.Identity, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return models.Anonymous(), biddingerrors.ErrInvalidCredentials
	}

	user, err := a.users.GetUserByUsername(ctx, username)
	if errors.Is(err, biddingerrors.ErrUserNotFound) {
		return models.Anonymous(), biddingerrors.ErrInvalidCredentials
	}
	if err != nil {
		return models.Anonymous(), fmt.Errorf("auth: load user %s: %w", username, err)
	}

	if !VerifyPassword(user.PasswordHash, password) {
		return models.Anonymous(), biddingerrors.ErrInvalidCredentials
	}
	return models.Bidder(user.UserID, user.Username), nil
}

// SeedDemoUsers upserts the user1..userN demo accounts and returns how many were written
func SeedDemoUsers(ctx context.Context, users repository.UserStore, n, cost int) (int, error) {
	for _, demo := range repository.DemoUsers(n) {
		hash, err := HashPassword(demo.Password, cost)
		if err != nil {
			return 0, fmt.Errorf("hash password for %s: %w", demo.Username, err)
		}
		user := models.User{UserID: utils.GenerateID(), Username: demo.Username, PasswordHash: hash}
		if err := users.UpsertUser(ctx, user); err != nil {
			return 0, fmt.Errorf("upsert user %s: %w", demo.Username, err)
		}
	}
	return n, nil
}
