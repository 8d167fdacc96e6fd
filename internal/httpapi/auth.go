package httpapi

import (
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"dapurstok/backend/internal/domain"
)

const tokenIssuer = "dapurstok"

// Authenticator verifies HS256 bearer tokens issued by the back office. The
// subject becomes the actor id recorded on ledger and audit rows.
type Authenticator struct {
	secret   []byte
	tokenTTL time.Duration
}

type actorClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role,omitempty"`
}

func NewAuthenticator(secret string, tokenTTL time.Duration) *Authenticator {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &Authenticator{secret: []byte(secret), tokenTTL: tokenTTL}
}

func (a *Authenticator) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &actorClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{ID: sub, Role: claims.Role}, nil
}

// Issue signs a token for subject. Used by the CLI to mint operator tokens.
func (a *Authenticator) Issue(subject, role string) (string, time.Time, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", time.Time{}, errors.New("subject is required")
	}
	now := time.Now().UTC()
	expiresAt := now.Add(a.tokenTTL)
	claims := actorClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
		},
		Role: role,
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}
