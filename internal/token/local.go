package token

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xela07ax/spaceai-control-plane/internal/domain"
)

// LocalSigner: HS256 JWT, dev-режим и последний рубеж цепочки.
type LocalSigner struct {
	secret []byte
}

func NewLocalSigner(secret []byte) *LocalSigner {
	return &LocalSigner{secret: secret}
}

func (s *LocalSigner) Name() string { return "local" }
func (s *LocalSigner) Kind() Kind   { return KindLocal }

func (s *LocalSigner) Sign(_ context.Context, claims *domain.ExecutionClaims) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("local signer: empty secret")
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *LocalSigner) Verify(tokenStr string) (*domain.ExecutionClaims, error) {
	claims := &domain.ExecutionClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	return claims, nil
}
