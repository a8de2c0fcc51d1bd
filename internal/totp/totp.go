// Package totp implements RFC 6238 time-based one-time passwords with the
// parameters every mainstream authenticator app defaults to: SHA-1, 6
// digits, 30-second steps.
package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"time"
)

const (
	// Digits in a generated code.
	Digits = 6
	// Period is the time-step size in seconds.
	Period = 30
	// SkewSteps is the verification tolerance on either side of now,
	// allowing ±60s of client clock drift.
	SkewSteps = 2

	secretBytes = 20
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateSecret returns a fresh random shared secret, base32-encoded the
// way authenticator apps expect it.
func GenerateSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return b32.EncodeToString(buf), nil
}

// EnrollmentURI builds the otpauth:// URI encoded into the QR code the
// user scans during enrollment.
func EnrollmentURI(issuer, accountLabel, secret string) string {
	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", issuer)
	v.Set("algorithm", "SHA1")
	v.Set("digits", fmt.Sprintf("%d", Digits))
	v.Set("period", fmt.Sprintf("%d", Period))
	label := url.PathEscape(issuer + ":" + accountLabel)
	return "otpauth://totp/" + label + "?" + v.Encode()
}

// GenerateCode computes the code for the time step containing t.
func GenerateCode(secret string, t time.Time) (string, error) {
	key, err := b32.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("malformed totp secret: %w", err)
	}
	counter := uint64(t.Unix()) / Period
	return hotp(key, counter), nil
}

// Verify checks a submitted code against the secret, accepting codes from
// up to SkewSteps time steps before or after now. The comparison is
// constant-time so verification adds no timing side channel of its own.
func Verify(secret, code string, now time.Time) bool {
	if len(code) != Digits {
		return false
	}
	key, err := b32.DecodeString(secret)
	if err != nil {
		return false
	}

	counter := int64(uint64(now.Unix()) / Period)
	matched := false
	for step := counter - SkewSteps; step <= counter+SkewSteps; step++ {
		if step < 0 {
			continue
		}
		expected := hotp(key, uint64(step))
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			matched = true
		}
	}
	return matched
}

// hotp is the RFC 4226 truncation over an HMAC-SHA1 of the counter.
func hotp(key []byte, counter uint64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	value := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff
	return fmt.Sprintf("%06d", value%1000000)
}
