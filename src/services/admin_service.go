package services

import (
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// AdminService authenticates the single configured operator.
type AdminService struct {
	username     string
	passwordHash []byte
}

// NewAdminService hashes the configured password once at startup. An empty
// password disables admin login.
func NewAdminService(username, password string) (*AdminService, error) {
	as := &AdminService{username: username}
	if password == "" {
		return as, nil
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("admin password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	as.passwordHash = hash
	return as, nil
}

// Enabled reports whether a password is configured
func (as *AdminService) Enabled() bool {
	return len(as.passwordHash) > 0
}

// Username returns the operator name used as the JWT subject
func (as *AdminService) Username() string {
	return as.username
}

// Authenticate verifies username and password
func (as *AdminService) Authenticate(username, password string) error {
	if !as.Enabled() {
		return ErrInvalidCredentials
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(as.username)) == 1
	passErr := bcrypt.CompareHashAndPassword(as.passwordHash, []byte(password))
	if !userOK || passErr != nil {
		return ErrInvalidCredentials
	}
	return nil
}
