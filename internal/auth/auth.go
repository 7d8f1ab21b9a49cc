// Package auth resolves the principal of an HTTP request.
package auth

import (
	"errors"
	"net/http"
)

var (
	// ErrNoCredentials means the request carries no credentials this method understands
	ErrNoCredentials = errors.New("no credentials")
	// ErrInvalidCredentials means credentials were present but rejected
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Method resolves the user id of a request
type Method interface {
	Authenticate(r *http.Request) (string, error)
}

// Chain tries each method in order. A method returning ErrNoCredentials
// passes the request on; any other error stops the chain.
type Chain []Method

// Authenticate returns the first user id a method resolves
func (c Chain) Authenticate(r *http.Request) (string, error) {
	for _, m := range c {
		userID, err := m.Authenticate(r)
		if errors.Is(err, ErrNoCredentials) {
			continue
		}
		return userID, err
	}
	return "", ErrNoCredentials
}
