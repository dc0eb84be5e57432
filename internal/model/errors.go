package model

import "fmt"

// RemoteAPIError is a failed call against the conversation API.
type RemoteAPIError struct {
	Op      string // e.g. conversations.history
	Code    string // slack error code or http status
	Message string
	Err     error
}

func (e *RemoteAPIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

func (e *RemoteAPIError) Unwrap() error { return e.Err }

// StoreError is a persistence failure. Callers treat it as fatal.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return "store " + e.Op + ": " + e.Err.Error() }

func (e *StoreError) Unwrap() error { return e.Err }
