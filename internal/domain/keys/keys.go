// Package keys defines security key material references and the key
// management error type.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// Purpose is what a key is used for.
type Purpose string

const (
	PurposePublishable Purpose = "publishable"
	PurposeSecret      Purpose = "secret"
	PurposeWebhook     Purpose = "webhook"
)

// Environment is the deployment stage a key belongs to.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Sentinel causes wrapped by Error.
var (
	ErrNotFound    = errors.New("key not found")
	ErrEmptySecret = errors.New("secret is empty")
	ErrInvalidRef  = errors.New("invalid purpose or environment")
	ErrReadOnly    = errors.New("key store is read-only")
)

// Ref identifies one slot of key material.
type Ref struct {
	Purpose     Purpose     `json:"purpose"`
	Environment Environment `json:"environment"`
}

// NewRef validates purpose and environment.
func NewRef(purpose, environment string) (Ref, error) {
	r := Ref{Purpose: Purpose(purpose), Environment: Environment(environment)}
	if err := r.Validate(); err != nil {
		return Ref{}, err
	}
	return r, nil
}

// Validate checks both components against the known sets.
func (r Ref) Validate() error {
	switch r.Purpose {
	case PurposePublishable, PurposeSecret, PurposeWebhook:
	default:
		return &Error{Op: "validate", Ref: r, Err: ErrInvalidRef}
	}
	switch r.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		return &Error{Op: "validate", Ref: r, Err: ErrInvalidRef}
	}
	return nil
}

// String renders "purpose/environment".
func (r Ref) String() string {
	return string(r.Purpose) + "/" + string(r.Environment)
}

// Error is the key management error. It is always returned to the caller of
// key operations.
type Error struct {
	Op  string
	Ref Ref
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("key %s %s: %v", e.Op, e.Ref, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap builds an Error unless err is nil or already an *Error.
func Wrap(op string, ref Ref, err error) error {
	if err == nil {
		return nil
	}
	var ke *Error
	if errors.As(err, &ke) {
		return err
	}
	return &Error{Op: op, Ref: ref, Err: err}
}

// fingerprintLen is the number of hex characters kept from the digest.
const fingerprintLen = 12

// Fingerprint returns a truncated SHA-256 digest of secret. It is the only
// representation of key material allowed in logs.
func Fingerprint(secret []byte) string {
	if len(secret) == 0 {
		return ""
	}
	sum := sha256.Sum256(secret)
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}
