package token

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/xela07ax/spaceai-control-plane/internal/domain"
)

// KMSAPI: то, что нужно от клиента KMS; в тестах подменяется.
type KMSAPI interface {
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
}

// KMSSigner подписывает SHA-256 дайджест claims асимметричным ключом KMS
// и собирает envelope: base64url(payload) + "." + base64url(signature).
type KMSSigner struct {
	client    KMSAPI
	keyID     string
	algorithm types.SigningAlgorithmSpec
}

func NewKMSSigner(client KMSAPI, keyID string) *KMSSigner {
	return &KMSSigner{
		client:    client,
		keyID:     keyID,
		algorithm: types.SigningAlgorithmSpecEcdsaSha256,
	}
}

// NewKMSClient собирает клиента из стандартной цепочки учетных данных AWS.
func NewKMSClient(ctx context.Context, region string) (*kms.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("kms: load aws config: %w", err)
	}
	return kms.NewFromConfig(cfg), nil
}

func (s *KMSSigner) Name() string { return "kms" }
func (s *KMSSigner) Kind() Kind   { return KindEnvelope }

func (s *KMSSigner) Sign(ctx context.Context, claims *domain.ExecutionClaims) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("kms signer: encode: %w", err)
	}
	digest := sha256.Sum256(payload)

	out, err := s.client.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(s.keyID),
		Message:          digest[:],
		MessageType:      types.MessageTypeDigest,
		SigningAlgorithm: s.algorithm,
	})
	if err != nil {
		return "", fmt.Errorf("kms signer: %w", err)
	}
	if len(out.Signature) == 0 {
		return "", errors.New("kms signer: empty signature")
	}
	return base64.RawURLEncoding.EncodeToString(payload) + "." + base64.RawURLEncoding.EncodeToString(out.Signature), nil
}
