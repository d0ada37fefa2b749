package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"wediscuss/domain"
)

// CustomClaims defines the structure of the data stored inside the JWT.
type CustomClaims struct {
	UserID  int  `json:"user_id"`
	IsAdmin bool `json:"is_admin"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and validates session tokens. The secret comes from
// configuration; it must never be hardcoded in the binary.
type TokenIssuer struct {
	secret   []byte
	duration time.Duration
}

func NewTokenIssuer(secret string, duration time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), duration: duration}
}

// Generate creates a signed JWT for the user, valid for the configured
// duration.
func (t *TokenIssuer) Generate(user domain.User) (string, error) {
	claims := &CustomClaims{
		UserID:  int(user.ID),
		IsAdmin: user.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(t.duration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "wediscuss",
		},
	}

	// HS256, HMAC with SHA256
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Validate parses the token and checks signature and expiration.
func (t *TokenIssuer) Validate(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*CustomClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrSignatureInvalid
}
