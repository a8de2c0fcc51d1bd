package app

import (
	"unicode"

	"github.com/voyago/identity-service/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

// PasswordPolicy validates candidate passwords and hashes accepted ones.
type PasswordPolicy struct {
	MinLength int
	Cost      int
}

// Validate collects every violation rather than stopping at the first, so
// the caller can report the full list back to the user.
func (p PasswordPolicy) Validate(password string) []string {
	var violations []string

	minLength := p.MinLength
	if minLength <= 0 {
		minLength = 12
	}
	if len(password) < minLength {
		violations = append(violations, "password must be at least the configured minimum length")
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSymbol = true
		}
	}
	if !hasUpper {
		violations = append(violations, "password must contain at least one uppercase letter")
	}
	if !hasLower {
		violations = append(violations, "password must contain at least one lowercase letter")
	}
	if !hasDigit {
		violations = append(violations, "password must contain at least one number")
	}
	if !hasSymbol {
		violations = append(violations, "password must contain at least one special character")
	}
	return violations
}

// Hash runs the password through bcrypt at the configured cost.
func (p PasswordPolicy) Hash(password string) (string, error) {
	cost := p.Cost
	if cost == 0 {
		cost = 12
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// VerifyPassword compares a candidate against a stored hash. bcrypt's own
// comparison is constant-time over the digest.
func VerifyPassword(password, storedHash string) bool {
	if storedHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(password)) == nil
}

// checkPassword wraps policy validation into the domain error type.
func (p PasswordPolicy) checkPassword(password string) error {
	if violations := p.Validate(password); len(violations) > 0 {
		return &domain.WeakCredentialError{Violations: violations}
	}
	return nil
}
