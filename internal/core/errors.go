package core

import (
	"fmt"

	"github.com/google/uuid"
)

// Kind is one of the six taxonomy buckets from the error handling design.
type Kind string

const (
	KindConfig      Kind = "config"
	KindTransport   Kind = "transport"
	KindUnsupported Kind = "unsupported"
	KindProvider    Kind = "provider"
	KindLockfile    Kind = "lockfile"
	KindInternal    Kind = "internal"
)

// Error is the common wrapped-error shape used across the pipeline, so callers
// can discriminate with errors.As(&core.Error{}) and switch on Kind.
type Error struct {
	Kind          Kind
	Message       string
	CorrelationID string
	Err           error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newErr(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func ConfigError(message string, err error) *Error      { return newErr(KindConfig, message, err) }
func TransportError(message string, err error) *Error   { return newErr(KindTransport, message, err) }
func UnsupportedError(message string, err error) *Error { return newErr(KindUnsupported, message, err) }
func ProviderError(message string, err error) *Error    { return newErr(KindProvider, message, err) }
func LockfileError(message string, err error) *Error    { return newErr(KindLockfile, message, err) }

// InternalError mints a fresh correlation id, the way a panic-recovery boundary
// needs to hand the caller something to report without leaking internals.
func InternalError(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err, CorrelationID: uuid.NewString()}
}

// RegistryErrorKind distinguishes provider-call outcomes for retry policy selection.
type RegistryErrorKind int

const (
	RegistryErrNotFound RegistryErrorKind = iota
	RegistryErrNetwork
	RegistryErrRateLimited
	RegistryErrMalformed
	RegistryErrUnsupported
)

// RegistryError is returned by registry and advisory providers.
type RegistryError struct {
	Kind RegistryErrorKind
	Op   string
	Err  error
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("registry %s: %v", e.Op, e.Err)
}

func (e *RegistryError) Unwrap() error {
	return e.Err
}

// rateLimitedFreeAttempts is the minimum guaranteed attempt count for a
// rate-limited call before further retries must draw from the shared budget.
const rateLimitedFreeAttempts = 3

// networkFreeAttempts gives a plain network error exactly one retry and no
// access to the shared per-request budget beyond it.
const networkFreeAttempts = 2

// Retriable reports whether the retry policy of §4.1 applies to this error.
func (e *RegistryError) Retriable() bool {
	return e.Kind == RegistryErrRateLimited || e.Kind == RegistryErrNetwork
}

// MaxFreeAttempts returns the total attempt count, including the first, that
// this error kind is guaranteed without drawing on the shared retry budget.
func (e *RegistryError) MaxFreeAttempts() int {
	if e.Kind == RegistryErrRateLimited {
		return rateLimitedFreeAttempts
	}
	return networkFreeAttempts
}

// BudgetEligible reports whether attempts beyond MaxFreeAttempts may draw
// from the shared per-request retry budget. Only rate-limited responses get
// this — a plain network error gets its one free retry and nothing more.
func (e *RegistryError) BudgetEligible() bool {
	return e.Kind == RegistryErrRateLimited
}
