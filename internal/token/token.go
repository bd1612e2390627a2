// Package token выпускает короткоживущие токены исполнения.
// Подписанты пробуются строго по порядку: remote, kms, local. Первый успех выигрывает.
package token

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-control-plane/internal/domain"
)

// Kind: явный дискриминант: envelope нельзя проверить без публичного ключа KMS.
type Kind string

const (
	KindRemote   Kind = "remote"
	KindEnvelope Kind = "envelope"
	KindLocal    Kind = "local"
)

const DefaultTTL = 300 * time.Second

var (
	ErrTokenIssuance = errors.New(domain.ReasonTokenIssuance)
	ErrInvalidToken  = errors.New("invalid token")
)

type Signer interface {
	Name() string
	Kind() Kind
	Sign(ctx context.Context, claims *domain.ExecutionClaims) (string, error)
}

type Request struct {
	Subject   string
	Scope     []string
	ExpiresIn time.Duration
	Metadata  map[string]any
}

// Token не сохраняется нигде, кроме ответа вызывающему.
type Token struct {
	Value     string
	Kind      Kind
	Signer    string
	ExpiresAt time.Time
	Claims    domain.ExecutionClaims
}

type Options struct {
	Issuer     string
	DefaultTTL time.Duration
	Remote     Signer
	KMS        Signer
	Local      *LocalSigner
	// OnAttempt вызывается на каждую попытку подписи (метрика signer/result).
	OnAttempt func(signer, result string)
}

type Issuer struct {
	chain     []Signer
	local     *LocalSigner
	issuer    string
	ttl       time.Duration
	onAttempt func(signer, result string)
	logger    *zap.Logger
	now       func() time.Time
}

func NewIssuer(opts Options, logger *zap.Logger) *Issuer {
	var chain []Signer
	if opts.Remote != nil {
		chain = append(chain, opts.Remote)
	}
	if opts.KMS != nil {
		chain = append(chain, opts.KMS)
	}
	if opts.Local != nil {
		chain = append(chain, opts.Local)
	}
	ttl := opts.DefaultTTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	onAttempt := opts.OnAttempt
	if onAttempt == nil {
		onAttempt = func(string, string) {}
	}
	return &Issuer{
		chain:     chain,
		local:     opts.Local,
		issuer:    opts.Issuer,
		ttl:       ttl,
		onAttempt: onAttempt,
		logger:    logger.Named("token"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Issue подписывает claims первым доступным подписантом.
func (i *Issuer) Issue(ctx context.Context, req Request) (*Token, error) {
	ttl := req.ExpiresIn
	if ttl <= 0 {
		ttl = i.ttl
	}
	scope := req.Scope
	if len(scope) == 0 {
		scope = []string{domain.DefaultScope}
	}

	now := i.now()
	claims := domain.ExecutionClaims{
		Scope:    scope,
		Metadata: req.Metadata,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    i.issuer,
			Subject:   req.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	var errs []error
	for _, s := range i.chain {
		value, err := s.Sign(ctx, &claims)
		if err != nil {
			i.onAttempt(s.Name(), "error")
			i.logger.Warn("signer failed, falling through",
				zap.String("signer", s.Name()), zap.String("sub", req.Subject), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		i.onAttempt(s.Name(), "ok")
		i.logger.Debug("token issued", zap.String("signer", s.Name()), zap.String("sub", req.Subject))
		return &Token{
			Value:     value,
			Kind:      s.Kind(),
			Signer:    s.Name(),
			ExpiresAt: claims.ExpiresAt.Time,
			Claims:    claims,
		}, nil
	}

	if len(errs) == 0 {
		errs = append(errs, errors.New("no signer configured"))
	}
	return nil, fmt.Errorf("%w: %w", ErrTokenIssuance, errors.Join(errs...))
}

// Verification: результат Verify. Verified=false у envelope: подпись не проверялась.
type Verification struct {
	Kind      Kind                   `json:"kind"`
	Verified  bool                   `json:"verified"`
	Envelope  bool                   `json:"envelope"`
	Claims    domain.ExecutionClaims `json:"claims"`
	Signature []byte                 `json:"signature,omitempty"`
}

// Verify сначала проверяет локальную подпись, затем пробует разобрать envelope.
func (i *Issuer) Verify(tokenStr string) (*Verification, error) {
	var localErr error
	if i.local != nil {
		claims, err := i.local.Verify(tokenStr)
		if err == nil {
			return &Verification{Kind: KindLocal, Verified: true, Claims: *claims}, nil
		}
		localErr = err
	}

	if strings.Count(tokenStr, ".") == 1 {
		return ParseEnvelope(tokenStr)
	}
	if localErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, localErr)
	}
	return nil, ErrInvalidToken
}

// ParseEnvelope разбирает base64url(payload).base64url(signature) без проверки подписи.
func ParseEnvelope(tokenStr string) (*Verification, error) {
	payloadPart, sigPart, ok := strings.Cut(tokenStr, ".")
	if !ok || strings.Contains(sigPart, ".") {
		return nil, ErrInvalidToken
	}
	payload, err := base64.RawURLEncoding.DecodeString(payloadPart)
	if err != nil {
		return nil, fmt.Errorf("%w: envelope payload: %w", ErrInvalidToken, err)
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigPart)
	if err != nil {
		return nil, fmt.Errorf("%w: envelope signature: %w", ErrInvalidToken, err)
	}
	var claims domain.ExecutionClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: envelope claims: %w", ErrInvalidToken, err)
	}
	return &Verification{Kind: KindEnvelope, Envelope: true, Verified: false, Claims: claims, Signature: sig}, nil
}
