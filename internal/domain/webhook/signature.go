package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance is the accepted clock skew between the provider timestamp
// and local time.
const DefaultTolerance = 300 * time.Second

const (
	schemeTimestamp = "t"
	schemeV1        = "v1"
)

// Verifier checks timestamped HMAC-SHA256 signature headers of the form
// "t=<unix>,v1=<hex>[,v1=<hex>...]".
type Verifier struct {
	Tolerance time.Duration
	now       func() time.Time
}

// NewVerifier creates a Verifier. A non-positive tolerance falls back to
// DefaultTolerance.
func NewVerifier(tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{Tolerance: tolerance, now: time.Now}
}

// WithClock returns a copy of v that reads time from now.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	cp := *v
	cp.now = now
	return &cp
}

// Verify reports whether header authenticates payload under secret.
// It never panics and never returns an error.
func (v *Verifier) Verify(payload []byte, header, secret string) bool {
	return v.VerifyDetailed(payload, header, secret) == nil
}

// VerifyDetailed is Verify with the rejection reason. All returned errors
// wrap ErrValidation.
func (v *Verifier) VerifyDetailed(payload []byte, header, secret string) error {
	if secret == "" {
		return ErrEmptySecret
	}

	ts, sigs, err := parseHeader(header)
	if err != nil {
		return err
	}

	// Compared in whole seconds on the now side only; ts may be any int64.
	now := v.now().Unix()
	tol := int64(v.Tolerance / time.Second)
	if ts < now-tol || ts > now+tol {
		return ErrTimestampOutsideTolerance
	}

	expected := computeMAC(payload, secret, ts)
	for _, sig := range sigs {
		got, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			return nil
		}
	}
	return ErrNoSignatureMatch
}

// Sign produces a header for payload at timestamp ts.
func Sign(payload []byte, secret string, ts time.Time) string {
	unix := ts.Unix()
	mac := computeMAC(payload, secret, unix)
	return schemeTimestamp + "=" + strconv.FormatInt(unix, 10) + "," + schemeV1 + "=" + hex.EncodeToString(mac)
}

// computeMAC hashes "<ts>.<payload>" over the raw payload bytes.
func computeMAC(payload []byte, secret string, ts int64) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte{'.'})
	mac.Write(payload)
	return mac.Sum(nil)
}

// parseHeader extracts the timestamp and every v1 candidate. Unknown schemes
// are skipped.
func parseHeader(header string) (ts int64, sigs []string, err error) {
	if strings.TrimSpace(header) == "" {
		return 0, nil, ErrMalformedHeader
	}

	haveTS := false
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case schemeTimestamp:
			n, perr := strconv.ParseInt(value, 10, 64)
			if perr != nil {
				return 0, nil, ErrMalformedHeader
			}
			ts = n
			haveTS = true
		case schemeV1:
			if value != "" {
				sigs = append(sigs, value)
			}
		}
	}

	if !haveTS {
		return 0, nil, ErrMalformedHeader
	}
	if len(sigs) == 0 {
		return 0, nil, ErrNoSignatureMatch
	}
	return ts, sigs, nil
}
