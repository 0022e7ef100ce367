package webhook

import (
	"errors"
	"fmt"
)

// ErrValidation is the parent of every signature/header rejection. Validation
// errors are never retried.
var ErrValidation = errors.New("webhook: validation failed")

var (
	ErrMalformedHeader           = fmt.Errorf("%w: malformed signature header", ErrValidation)
	ErrTimestampOutsideTolerance = fmt.Errorf("%w: timestamp outside tolerance", ErrValidation)
	ErrNoSignatureMatch          = fmt.Errorf("%w: no matching signature", ErrValidation)
	ErrEmptySecret               = fmt.Errorf("%w: empty secret", ErrValidation)
)

// ErrMissingRequiredFields marks a recognized event whose object lacks fields
// its handler needs. Permanent: never retried.
var ErrMissingRequiredFields = errors.New("webhook: missing required fields")

// ErrTransient marks a downstream failure worth retrying.
var ErrTransient = errors.New("webhook: transient failure")

// Transient wraps err so that errors.Is(err, ErrTransient) holds.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}
