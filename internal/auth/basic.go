package auth

import (
	"crypto/subtle"
	"net/http"
)

// Basic authenticates a single configured user with HTTP basic auth.
// The username doubles as the user id.
type Basic struct {
	Username string
	Password string
}

// Enabled reports whether credentials are configured
func (b Basic) Enabled() bool {
	return b.Username != "" || b.Password != ""
}

// Authenticate checks the request's basic auth credentials
func (b Basic) Authenticate(r *http.Request) (string, error) {
	if !b.Enabled() {
		return "", ErrNoCredentials
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return "", ErrNoCredentials
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(b.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(b.Password)) == 1
	if !userOK || !passOK {
		return "", ErrInvalidCredentials
	}
	return b.Username, nil
}
