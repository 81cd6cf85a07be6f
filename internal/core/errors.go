package core

import (
	"errors"
	"fmt"
)

var (
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrConnection        = errors.New("connection error")
	ErrActionTimeout     = errors.New("action timeout")
	ErrRateLimited       = errors.New("rate limited")
)

// ServerError is a failure reported by the server for one request.
type ServerError struct {
	Name    string
	Message string
	Code    string
}

func (e *ServerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Name, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}
