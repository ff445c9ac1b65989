// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// ErrorKind separates transient reachability failures from server rejections.
type ErrorKind int

const (
	// KindNetworkUnreachable covers transport failures, timeouts and 5xx responses.
	KindNetworkUnreachable ErrorKind = iota + 1
	// KindRejected covers validation, not-found and authorization failures.
	KindRejected
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetworkUnreachable:
		return "network_unreachable"
	case KindRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Rejection codes carried by Rejected errors.
const (
	CodeValidation   = "validation"
	CodeNotFound     = "not_found"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeConflict     = "conflict"
)

// Sentinels usable with errors.Is against any *Error.
var (
	ErrNetworkUnreachable = errors.New("remote: network unreachable")
	ErrRejected           = errors.New("remote: rejected by server")
	ErrNotFound           = errors.New("remote: not found")
)

// Error is returned by Client implementations.
type Error struct {
	Kind       ErrorKind
	Code       string // rejection code, empty for network errors
	Status     int    // HTTP status when available
	Op         string // list, create, update, delete
	Collection string
	ID         string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	target := e.Collection
	if e.ID != "" {
		target += "/" + e.ID
	}
	msg := fmt.Sprintf("remote %s %s: %s", e.Op, target, e.Kind)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match the package sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNetworkUnreachable:
		return e.Kind == KindNetworkUnreachable
	case ErrRejected:
		return e.Kind == KindRejected
	case ErrNotFound:
		return e.Kind == KindRejected && e.Code == CodeNotFound
	}
	return false
}

// Unreachable builds a network error for op.
func Unreachable(op, collection, id string, err error) *Error {
	return &Error{Kind: KindNetworkUnreachable, Op: op, Collection: collection, ID: id, Err: err}
}

// Rejected builds a rejection for op with the given code.
func Rejected(op, collection, id, code, message string) *Error {
	return &Error{Kind: KindRejected, Code: code, Op: op, Collection: collection, ID: id, Message: message}
}

// IsNetworkUnreachable reports whether err should be handled by queueing.
func IsNetworkUnreachable(err error) bool { return errors.Is(err, ErrNetworkUnreachable) }

// IsRejected reports whether the server refused the operation.
func IsRejected(err error) bool { return errors.Is(err, ErrRejected) }

// IsNotFound reports whether the server reported the entity as absent.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// RejectionCode returns the rejection code of err, or "".
func RejectionCode(err error) string {
	var re *Error
	if errors.As(err, &re) && re.Kind == KindRejected {
		return re.Code
	}
	return ""
}

// isTransportError reports whether err came from the transport rather than the server.
func isTransportError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
