package webhook

import (
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test_3f9a"

var fixedNow = time.Unix(1_760_000_000, 0)

func fixedVerifier() *Verifier {
	return NewVerifier(DefaultTolerance).WithClock(func() time.Time { return fixedNow })
}

func TestVerify_ValidSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"invoice.payment_succeeded"}`)
	header := Sign(payload, testSecret, fixedNow)

	assert.True(t, fixedVerifier().Verify(payload, header, testSecret))
}

func TestVerify_FlippedPayloadByte(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"invoice.payment_succeeded"}`)
	header := Sign(payload, testSecret, fixedNow)
	v := fixedVerifier()

	for i := range payload {
		mutated := append([]byte(nil), payload...)
		mutated[i] ^= 0x01
		assert.False(t, v.Verify(mutated, header, testSecret), "byte %d flipped", i)
	}
}

func TestVerify_FlippedSecretByte(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	header := Sign(payload, testSecret, fixedNow)
	v := fixedVerifier()

	for i := range len(testSecret) {
		b := []byte(testSecret)
		b[i] ^= 0x01
		assert.False(t, v.Verify(payload, header, string(b)), "secret byte %d flipped", i)
	}
}

func TestVerify_StaleTimestamp(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	header := Sign(payload, testSecret, fixedNow.Add(-400*time.Second))

	v := fixedVerifier()
	assert.False(t, v.Verify(payload, header, testSecret))
	assert.ErrorIs(t, v.VerifyDetailed(payload, header, testSecret), ErrTimestampOutsideTolerance)
}

func TestVerify_FutureTimestampOutsideTolerance(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	header := Sign(payload, testSecret, fixedNow.Add(301*time.Second))
	assert.False(t, fixedVerifier().Verify(payload, header, testSecret))
}

func TestVerify_ExtremeTimestampsRejected(t *testing.T) {
	payload := []byte(`{"id":"evt_far"}`)
	v := fixedVerifier()

	for _, ts := range []int64{1 << 62, 9_000_000_000_000_000_000} {
		header := Sign(payload, testSecret, time.Unix(ts, 0))
		assert.ErrorIs(t, v.VerifyDetailed(payload, header, testSecret), ErrTimestampOutsideTolerance, "t=%d", ts)
	}
}

func TestVerify_ToleranceBoundaryAccepted(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	v := fixedVerifier()

	assert.True(t, v.Verify(payload, Sign(payload, testSecret, fixedNow.Add(-300*time.Second)), testSecret))
	assert.True(t, v.Verify(payload, Sign(payload, testSecret, fixedNow.Add(300*time.Second)), testSecret))
}

func TestVerify_RotatedSecrets(t *testing.T) {
	payload := []byte(`{"id":"evt_rot"}`)
	good := Sign(payload, testSecret, fixedNow)
	// good is "t=...,v1=<mac>"; prepend a wrong v1 candidate.
	ts := strconv.FormatInt(fixedNow.Unix(), 10)
	wrong := Sign(payload, "old_secret", fixedNow)
	header := fmt.Sprintf("t=%s,v1=%s,v1=%s", ts, wrong[len("t="+ts+",v1="):], good[len("t="+ts+",v1="):])

	assert.True(t, fixedVerifier().Verify(payload, header, testSecret))
}

func TestVerify_Rejections(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	ts := strconv.FormatInt(fixedNow.Unix(), 10)
	valid := Sign(payload, testSecret, fixedNow)

	tests := []struct {
		name   string
		header string
		secret string
		want   error
	}{
		{"empty header", "", testSecret, ErrMalformedHeader},
		{"missing timestamp", "v1=abcd", testSecret, ErrMalformedHeader},
		{"unparseable timestamp", "t=yesterday,v1=abcd", testSecret, ErrMalformedHeader},
		{"no v1", "t=" + ts, testSecret, ErrNoSignatureMatch},
		{"non-hex mac", "t=" + ts + ",v1=zzzz", testSecret, ErrNoSignatureMatch},
		{"only v0 scheme", "t=" + ts + ",v0=abcd", testSecret, ErrNoSignatureMatch},
		{"empty secret", valid, "", ErrEmptySecret},
	}

	v := fixedVerifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.VerifyDetailed(payload, tt.header, tt.secret)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, errors.Is(err, ErrValidation))
			assert.False(t, v.Verify(payload, tt.header, tt.secret))
		})
	}
}

func TestVerify_WhitespaceInHeader(t *testing.T) {
	payload := []byte(`{"id":"evt_ws"}`)
	header := Sign(payload, testSecret, fixedNow)
	spaced := header[:len("t=1760000000")] + ", " + header[len("t=1760000000,"):]
	assert.True(t, fixedVerifier().Verify(payload, spaced, testSecret))
}

func TestNewVerifier_DefaultTolerance(t *testing.T) {
	assert.Equal(t, DefaultTolerance, NewVerifier(0).Tolerance)
	assert.Equal(t, time.Minute, NewVerifier(time.Minute).Tolerance)
}
