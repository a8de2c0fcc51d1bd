/**
 * @description
 * This package issues and verifies the two bearer credentials of the
 * platform: short-lived access tokens and longer-lived refresh tokens.
 * The two are signed with distinct secrets so a leaked access secret can
 * never mint refresh tokens. A refresh token is only trusted when an
 * active, unexpired session row still holds the exact token string —
 * the signature alone is never enough, which is what makes revocation work.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: JWT signing and parsing.
 * - github.com/google/uuid: Session identifiers.
 * - internal/domain, internal/store: Domain models and session persistence.
 */

package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/voyago/identity-service/internal/domain"
	"github.com/voyago/identity-service/internal/store"
)

// Claims is the payload carried by both token kinds.
type Claims struct {
	AccountKind domain.AccountKind `json:"account_type"`
	jwt.RegisteredClaims
}

// Pair is an issued access/refresh token pair.
type Pair struct {
	AccessToken  string
	RefreshToken string
}

// Service signs, verifies, and rotates token pairs.
type Service struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	sessionTTL    time.Duration
	sessions      store.SessionRepository
	now           func() time.Time
}

// NewService creates a token service backed by the given session registry.
// sessionTTL bounds how long a session row stays live; the effective refresh
// window is the smaller of sessionTTL and refreshTTL. A zero sessionTTL
// falls back to refreshTTL.
func NewService(
	accessSecret, refreshSecret string,
	accessTTL, refreshTTL, sessionTTL time.Duration,
	sessions store.SessionRepository,
) *Service {
	if sessionTTL <= 0 {
		sessionTTL = refreshTTL
	}
	return &Service{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		sessionTTL:    sessionTTL,
		sessions:      sessions,
		now:           time.Now,
	}
}

// Issue signs a new token pair for the account and persists the refresh
// token into the session registry with the caller's device metadata.
func (s *Service) Issue(
	ctx context.Context,
	accountID string,
	kind domain.AccountKind,
	device domain.Device,
) (Pair, error) {
	now := s.now()

	accessToken, err := s.sign(s.accessSecret, accountID, kind, now, s.accessTTL)
	if err != nil {
		return Pair{}, err
	}
	refreshToken, err := s.sign(s.refreshSecret, accountID, kind, now, s.refreshTTL)
	if err != nil {
		return Pair{}, err
	}

	sessionToken, err := randomToken()
	if err != nil {
		return Pair{}, err
	}

	session := &domain.Session{
		ID:           uuid.NewString(),
		AccountID:    accountID,
		AccountKind:  kind,
		SessionToken: sessionToken,
		RefreshToken: refreshToken,
		ExpiresAt:    now.Add(s.sessionTTL),
	}
	if device.UserAgent != "" {
		session.UserAgent = &device.UserAgent
	}
	if device.IPAddress != "" {
		session.IPAddress = &device.IPAddress
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return Pair{}, err
	}

	return Pair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// VerifyAccess parses and validates an access token.
func (s *Service) VerifyAccess(tokenString string) (*Claims, error) {
	return s.verify(tokenString, s.accessSecret)
}

// VerifyRefresh validates a refresh token's signature and then confirms an
// active, unexpired session still holds the exact token string. A token
// with a valid signature but no live session has been revoked and is
// rejected.
func (s *Service) VerifyRefresh(ctx context.Context, tokenString string) (*Claims, error) {
	claims, err := s.verify(tokenString, s.refreshSecret)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.FindSessionByRefreshToken(ctx, tokenString)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.ErrInvalidToken
	}
	return claims, nil
}

// Rotate exchanges a refresh token for a fresh pair. The old session is
// revoked before the new one is created: every refresh token is single-use,
// which bounds the replay window of a stolen token to one rotation.
func (s *Service) Rotate(
	ctx context.Context,
	oldRefreshToken string,
	device domain.Device,
) (Pair, *Claims, error) {
	claims, err := s.VerifyRefresh(ctx, oldRefreshToken)
	if err != nil {
		return Pair{}, nil, err
	}

	if err := s.sessions.RevokeSessionByRefreshToken(ctx, oldRefreshToken); err != nil {
		return Pair{}, nil, err
	}

	pair, err := s.Issue(ctx, claims.Subject, claims.AccountKind, device)
	if err != nil {
		return Pair{}, nil, err
	}
	return pair, claims, nil
}

// AccessTTL exposes the configured access token lifetime for response
// payloads (expiresIn).
func (s *Service) AccessTTL() time.Duration {
	return s.accessTTL
}

func (s *Service) sign(
	secret []byte,
	accountID string,
	kind domain.AccountKind,
	now time.Time,
	ttl time.Duration,
) (string, error) {
	claims := Claims{
		AccountKind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			// The jti keeps every signed token unique; without it two tokens
			// minted in the same second would be byte-identical, which breaks
			// the UNIQUE refresh_token column and single-use rotation.
			ID:        uuid.NewString(),
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (s *Service) verify(tokenString string, secret []byte) (*Claims, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}), jwt.WithLeeway(30*time.Second))
	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, domain.ErrInvalidToken
	}
	if claims.Subject == "" || !claims.AccountKind.Valid() {
		return nil, domain.ErrInvalidToken
	}
	return claims, nil
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
