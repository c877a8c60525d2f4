// Package domain contains entity without logic, just meta-data.
package domain

import "errors"

const MaxUserIDLen = 36

var (
	ErrMissingUserID = errors.New("user id missing")
	ErrMissingToken  = errors.New("auth token missing")
)

type UserID string

// Identity is the authenticated identity supplied by the auth collaborator.
// A session cannot start without it.
type Identity struct {
	UserID UserID
	Token  string
}

func (id Identity) Validate() error {
	if id.UserID == "" {
		return ErrMissingUserID
	}
	if id.Token == "" {
		return ErrMissingToken
	}
	return nil
}
