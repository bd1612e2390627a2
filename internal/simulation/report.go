// Package simulation: подписанные отчеты dry-run и их проверка перед рискованным запуском.
package simulation

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xela07ax/spaceai-control-plane/internal/domain"
)

var (
	ErrReportInvalid   = errors.New(domain.ReasonSimulationMissing)
	ErrTriggerMismatch = errors.New(domain.ReasonSimulationMismatch)
	ErrPolicyFailed    = errors.New(domain.ReasonSimulationPolicy)
)

type Report struct {
	Trigger    domain.Trigger  `json:"trigger"`
	Payload    map[string]any  `json:"payload"`
	Evaluation domain.Decision `json:"evaluation"`
	CreatedAt  time.Time       `json:"created_at"`
}

// document: формат файла: отчет в исходных байтах и отсоединенная подпись над ними.
type document struct {
	Report    json.RawMessage `json:"report"`
	Signature string          `json:"signature"`
	Alg       string          `json:"alg"`
}

// seal подписывает сериализованный отчет HS256.
func seal(r Report, secret []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("simulation: empty signing secret")
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("simulation: encode report: %w", err)
	}
	sig, err := jwt.SigningMethodHS256.Sign(string(raw), secret)
	if err != nil {
		return nil, fmt.Errorf("simulation: sign report: %w", err)
	}
	return json.MarshalIndent(document{
		Report:    raw,
		Signature: base64.RawURLEncoding.EncodeToString(sig),
		Alg:       jwt.SigningMethodHS256.Alg(),
	}, "", "  ")
}

// open проверяет подпись и возвращает отчет. Любая проблема: ErrReportInvalid.
func open(data []byte, secret []byte) (*Report, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrReportInvalid, err)
	}
	if doc.Alg != "" && doc.Alg != jwt.SigningMethodHS256.Alg() {
		return nil, fmt.Errorf("%w: unsupported alg %q", ErrReportInvalid, doc.Alg)
	}
	sig, err := base64.RawURLEncoding.DecodeString(doc.Signature)
	if err != nil || len(sig) == 0 {
		return nil, fmt.Errorf("%w: bad signature encoding", ErrReportInvalid)
	}
	if err := jwt.SigningMethodHS256.Verify(string(doc.Report), sig, secret); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReportInvalid, err)
	}
	var r Report
	if err := json.Unmarshal(doc.Report, &r); err != nil {
		return nil, fmt.Errorf("%w: decode report: %w", ErrReportInvalid, err)
	}
	return &r, nil
}
