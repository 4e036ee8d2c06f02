package api

import "time"

// AuthCredentials is the body of register and login requests.
type AuthCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthUser is the public view of an account.
type AuthUser struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// AuthLoginResponse carries a bearer token for subsequent requests.
type AuthLoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      AuthUser  `json:"user"`
}

// AuthMeResponse describes the caller and its storage usage.
type AuthMeResponse struct {
	AuthUser
	Files      int   `json:"files"`
	UsageBytes int64 `json:"usage_bytes"`
}
