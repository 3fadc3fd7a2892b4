package usecase

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenTTL = 24 * time.Hour

var ErrEmptySubject = errors.New("token subject is required")

// TokenIssuer mints the Bearer tokens accepted on /runs. The subject ends up
// in the run record as its submitter.
type TokenIssuer struct {
	jwtKey []byte
	now    func() time.Time
}

func NewTokenIssuer(jwtKey []byte) *TokenIssuer {
	return &TokenIssuer{jwtKey: jwtKey, now: time.Now}
}

// Issue returns a signed HS256 JWT for subject. ttl <= 0 uses a day.
func (i *TokenIssuer) Issue(subject string, ttl time.Duration) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", ErrEmptySubject
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	now := i.now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(i.jwtKey)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}
