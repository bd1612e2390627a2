package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/xela07ax/spaceai-control-plane/internal/domain"
)

// RemoteSigner отправляет claims во внешний сервис подписи и ждет {"token": "..."}.
type RemoteSigner struct {
	url    string
	client *http.Client
}

func NewRemoteSigner(url string, timeout time.Duration) *RemoteSigner {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &RemoteSigner{url: url, client: &http.Client{Timeout: timeout}}
}

func (s *RemoteSigner) Name() string { return "remote" }
func (s *RemoteSigner) Kind() Kind   { return KindRemote }

type remoteResponse struct {
	Token string `json:"token"`
}

func (s *RemoteSigner) Sign(ctx context.Context, claims *domain.ExecutionClaims) (string, error) {
	body, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("remote signer: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("remote signer: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("remote signer: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("remote signer: read: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("remote signer: status %d", resp.StatusCode)
	}
	var out remoteResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("remote signer: decode: %w", err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("remote signer: empty token")
	}
	return out.Token, nil
}
