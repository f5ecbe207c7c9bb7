package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenTypeAccess = "access"

var ErrTokenType = errors.New("token type mismatch")

type Claims struct {
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenVerifier проверяет access-токены, выпущенные сервисом учетных записей.
// Сервис прогнозов токены не выпускает.
type TokenVerifier struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// NewTokenVerifier создает проверяющего HS256 токенов с заданным издателем.
func NewTokenVerifier(secret string, issuer string) *TokenVerifier {
	return &TokenVerifier{
		secret: []byte(secret),
		issuer: issuer,
		leeway: 30 * time.Second,
	}
}

// Verify валидирует access-токен и возвращает claims.
func (v *TokenVerifier) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	)
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("token is invalid")
	}

	if claims.TokenType != "" && claims.TokenType != tokenTypeAccess {
		return nil, ErrTokenType
	}

	return claims, nil
}
