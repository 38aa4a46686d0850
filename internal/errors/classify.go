package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// Class groups errors by how a caller should react to them.
type Class int

const (
	// ClassPermanent errors fail the same way when replayed.
	ClassPermanent Class = iota
	// ClassTransient errors may succeed on a later attempt.
	ClassTransient
	// ClassDegraded errors come from a guard that is shedding load.
	ClassDegraded
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassDegraded:
		return "degraded"
	default:
		return "permanent"
	}
}

// ClassifiedError pins the class of the error it wraps. Message, when set,
// replaces the wrapped error text in user-facing output.
type ClassifiedError struct {
	Class   Class
	Err     error
	Message string
}

func (e *ClassifiedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s error: %v", e.Class, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Transient marks err as retryable.
func Transient(err error, message string) error {
	return &ClassifiedError{Class: ClassTransient, Err: err, Message: message}
}

// Permanent marks err as not retryable.
func Permanent(err error, message string) error {
	return &ClassifiedError{Class: ClassPermanent, Err: err, Message: message}
}

// Degraded marks err as produced by a load-shedding guard.
func Degraded(err error, message string) error {
	return &ClassifiedError{Class: ClassDegraded, Err: err, Message: message}
}

// Classify reports the class of err. Errors raised by the remote action or
// by the stream protocol are permanent: replaying the request would replay
// the action. Unknown errors default to permanent.
func Classify(err error) Class {
	if err == nil {
		return ClassPermanent
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Class
	}

	var (
		remoteErr     *RemoteError
		decodeErr     *ProtocolDecodeError
		incompleteErr *IncompleteRunError
		statusErr     *StatusError
	)
	switch {
	case errors.As(err, &remoteErr), errors.As(err, &decodeErr), errors.As(err, &incompleteErr):
		return ClassPermanent
	case errors.As(err, &statusErr):
		if retryableStatus(statusErr.StatusCode) {
			return ClassTransient
		}
		return ClassPermanent
	case errors.Is(err, context.Canceled):
		return ClassPermanent
	case isNetworkError(err):
		return ClassTransient
	}
	return ClassPermanent
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return err != nil && Classify(err) == ClassTransient
}

// IsPermanent reports whether err would fail again when retried.
func IsPermanent(err error) bool {
	return err != nil && Classify(err) == ClassPermanent
}

// IsDegraded reports whether err came from a load-shedding guard.
func IsDegraded(err error) bool {
	return err != nil && Classify(err) == ClassDegraded
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

var networkPatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"unexpected eof",
	"timeout",
}

func isNetworkError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range networkPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
