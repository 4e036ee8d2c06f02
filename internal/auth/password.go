package auth

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	// bcrypt ignores input past 72 bytes.
	maxPasswordLength = 72
	maxUsernameLength = 32
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9._-]*[a-z0-9])?$`)

// ErrInvalidCredentials is returned for any username/password mismatch.
var ErrInvalidCredentials = errors.New("invalid username or password")

// NormalizeUsername returns canonical lowercase username and validates allowed characters.
func NormalizeUsername(raw string) (string, error) {
	username := strings.TrimSpace(strings.ToLower(raw))
	if username == "" {
		return "", fmt.Errorf("username is required")
	}
	if len(username) > maxUsernameLength {
		return "", fmt.Errorf("username too long (max %d characters)", maxUsernameLength)
	}
	if !usernamePattern.MatchString(username) {
		return "", fmt.Errorf("invalid username %q", raw)
	}
	return username, nil
}

// ValidatePassword checks minimal password requirements.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	if len(password) > maxPasswordLength {
		return fmt.Errorf("password must be at most %d bytes", maxPasswordLength)
	}
	return nil
}

// HashPassword hashes one plaintext password for persistent storage.
func HashPassword(password string) (string, error) {
	if err := ValidatePassword(password); err != nil {
		return "", err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

// VerifyPassword verifies plaintext password against a bcrypt hash.
func VerifyPassword(passwordHash, candidate string) bool {
	if strings.TrimSpace(passwordHash) == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(candidate)) == nil
}

// dummyHash is compared against when a username does not exist so that
// unknown users cost the same as wrong passwords.
var dummyHash = func() string {
	h, _ := bcrypt.GenerateFromPassword([]byte("filevault-timing-pad"), bcrypt.DefaultCost)
	return string(h)
}()

// CheckCredentials verifies candidate against passwordHash, burning one
// comparison when the user was not found (empty hash).
func CheckCredentials(passwordHash, candidate string) error {
	if strings.TrimSpace(passwordHash) == "" {
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(candidate))
		return ErrInvalidCredentials
	}
	if !VerifyPassword(passwordHash, candidate) {
		return ErrInvalidCredentials
	}
	return nil
}
