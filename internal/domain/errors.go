package domain

import (
	"errors"
	"fmt"
	"time"
)

// Input errors: the submitted name cannot become a canonical nickname.
var (
	// ErrInvalidLength is returned when the normalized name is shorter than 3 or longer than 30 characters
	ErrInvalidLength = errors.New("nickname length must be between 3 and 30 characters after normalization")

	// ErrInvalidCharset is returned when a name contains characters outside [a-z0-9] after normalization
	ErrInvalidCharset = errors.New("nickname may only contain lowercase letters and digits")

	// ErrEmptyAfterNormalization is returned when normalization strips every character (e.g. emoji-only input)
	ErrEmptyAfterNormalization = errors.New("nickname is empty after normalization")

	// ErrInvalidInput is returned for malformed request fields (addresses, signatures, hashes)
	ErrInvalidInput = errors.New("invalid input")
)

// Policy errors: the name is valid but claiming it is not allowed.
var (
	// ErrNicknameReserved is returned when the normalized name matches the reserved seed table
	ErrNicknameReserved = errors.New("nickname is reserved")

	// ErrNicknameProfane is returned when the normalized name matches the profanity list
	ErrNicknameProfane = errors.New("nickname is not allowed by content policy")
)

// Conflict errors: the claim lost a uniqueness race or violates single-ownership.
var (
	// ErrNicknameTaken is returned when the normalized name or its name hash is already registered
	ErrNicknameTaken = errors.New("nickname already taken")

	// ErrOwnerHasNickname is returned when the owner address already holds an active nickname
	ErrOwnerHasNickname = errors.New("owner already has an active nickname")
)

var (
	// ErrNicknameNotFound is returned when resolution finds no active record.
	// Resolution never substitutes a zero address for a missing name.
	ErrNicknameNotFound = errors.New("nickname not found")

	// ErrBatchNotFound is returned when a migration batch ID is unknown
	ErrBatchNotFound = errors.New("migration batch not found")
)

// Signature errors.
var (
	// ErrInvalidSignature is returned when a claim intent or migration
	// authorization does not recover to the claimed owner address
	ErrInvalidSignature = errors.New("signature verification failed")

	// ErrEnvelopeExpired is returned when a signed resolution envelope is past its expiry
	ErrEnvelopeExpired = errors.New("signed envelope expired")
)

// ErrRateLimited is returned when an owner exceeds the claim rate limit
var ErrRateLimited = errors.New("rate limit exceeded")

// ErrInvalidStatusTransition is returned when a migration status change
// violates the off-chain -> authorized -> migrated ordering
var ErrInvalidStatusTransition = errors.New("invalid migration status transition")

// ReservedNameError carries the seed-table reason alongside ErrNicknameReserved
type ReservedNameError struct {
	Name   string
	Reason string
}

func (e *ReservedNameError) Error() string {
	return fmt.Sprintf("nickname %q is reserved: %s", e.Name, e.Reason)
}

func (e *ReservedNameError) Unwrap() error {
	return ErrNicknameReserved
}

// RateLimitError carries the retry hint alongside ErrRateLimited
type RateLimitError struct {
	Owner      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for owner %s, retry after %s", e.Owner, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// IsInputError reports whether err belongs to the input class
func IsInputError(err error) bool {
	return errors.Is(err, ErrInvalidLength) ||
		errors.Is(err, ErrInvalidCharset) ||
		errors.Is(err, ErrEmptyAfterNormalization) ||
		errors.Is(err, ErrInvalidInput)
}

// IsPolicyError reports whether err belongs to the policy class
func IsPolicyError(err error) bool {
	return errors.Is(err, ErrNicknameReserved) || errors.Is(err, ErrNicknameProfane)
}

// IsConflictError reports whether err belongs to the conflict class
func IsConflictError(err error) bool {
	return errors.Is(err, ErrNicknameTaken) || errors.Is(err, ErrOwnerHasNickname)
}

// IsNotFoundError reports whether err belongs to the not-found class
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNicknameNotFound) || errors.Is(err, ErrBatchNotFound)
}

// IsSignatureError reports whether err belongs to the signature class
func IsSignatureError(err error) bool {
	return errors.Is(err, ErrInvalidSignature) || errors.Is(err, ErrEnvelopeExpired)
}
