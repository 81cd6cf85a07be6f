// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const (
	MaxUserIDLen   = 36
	MaxUsernameLen = 36
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

type UserID string

// UserInfo is the identity part of a participant as the server reports it.
type UserInfo struct {
	ID   UserID `json:"id"`
	Name string `json:"name"`
}

// NewUserInfo validates the display name before it is sent anywhere.
func NewUserInfo(id UserID, name string) (UserInfo, error) {
	if len(name) == 0 {
		return UserInfo{}, ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLen {
		return UserInfo{}, ErrUsernameTooLong
	}
	return UserInfo{ID: id, Name: name}, nil
}
