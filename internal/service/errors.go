package service

import (
	"errors"
	"fmt"
)

// ErrInvalidTargetDomain is returned when no usable hostname can be derived
// from the session cookie or the request path.
var ErrInvalidTargetDomain = errors.New("invalid target domain")

// ErrUpstreamCall wraps network and transport failures while dispatching.
var ErrUpstreamCall = errors.New("upstream call failed")

// Where a rejected target domain came from.
const (
	SourceCookie = "cookie"
	SourcePath   = "path"
)

// TargetError reports a hostname that failed to parse or validate.
type TargetError struct {
	Source string // SourceCookie or SourcePath
	Value  string
	Err    error
}

func (e *TargetError) Error() string {
	msg := fmt.Sprintf("%s: %s %q", ErrInvalidTargetDomain, e.Source, e.Value)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches ErrInvalidTargetDomain.
func (e *TargetError) Is(target error) bool {
	return target == ErrInvalidTargetDomain
}

func (e *TargetError) Unwrap() error { return e.Err }

// UpgradeError is returned when the upstream answers a WebSocket upgrade
// with anything other than 101 Switching Protocols.
type UpgradeError struct {
	StatusCode int
	Status     string
}

func (e *UpgradeError) Error() string {
	if e.Status != "" {
		return "websocket upgrade failed: " + e.Status
	}
	return fmt.Sprintf("websocket upgrade failed: %d", e.StatusCode)
}
