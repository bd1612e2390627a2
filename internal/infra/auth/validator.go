package auth

import (
	"crypto/rsa"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/spaceai-control-plane/internal/domain"
)

// BaseValidator проверяет bearer-токены операторов.
// Поддерживает RS256 (публичный ключ) и HS256 (общий секрет); что настроено, то и принимается.
type BaseValidator struct {
	publicKey  *rsa.PublicKey
	hmacSecret []byte
}

func NewBaseValidator(pubKey *rsa.PublicKey, hmacSecret []byte) *BaseValidator {
	return &BaseValidator{publicKey: pubKey, hmacSecret: hmacSecret}
}

// Enabled: есть ли хоть один ключ проверки.
func (v *BaseValidator) Enabled() bool {
	return v != nil && (v.publicKey != nil || len(v.hmacSecret) > 0)
}

// VerifyToken реализует TokenValidator.
func (v *BaseValidator) VerifyToken(tokenStr string) (*domain.OperatorClaims, error) {
	tokenStr = strings.TrimPrefix(tokenStr, "Bearer ")
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return nil, fmt.Errorf("empty token")
	}

	token, err := jwt.ParseWithClaims(tokenStr, &domain.OperatorClaims{}, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodRSA:
			if v.publicKey == nil {
				return nil, fmt.Errorf("rsa verification is not configured")
			}
			return v.publicKey, nil
		case *jwt.SigningMethodHMAC:
			if len(v.hmacSecret) == 0 {
				return nil, fmt.Errorf("hmac verification is not configured")
			}
			return v.hmacSecret, nil
		default:
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*domain.OperatorClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims")
	}
	return claims, nil
}

// ParseRSAPublicKey превращает PEM в ключ для проверки подписи.
func ParseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("public key data is empty")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}
