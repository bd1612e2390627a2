package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xela07ax/spaceai-control-plane/internal/domain"
)

// RuleSource отдает упорядоченный список правил. Вызывается на каждую оценку.
type RuleSource interface {
	Rules(ctx context.Context) ([]domain.PolicyRule, error)
}

// StaticSource: фиксированный набор правил.
type StaticSource []domain.PolicyRule

func (s StaticSource) Rules(_ context.Context) ([]domain.PolicyRule, error) {
	out := make([]domain.PolicyRule, len(s))
	copy(out, s)
	return out, nil
}

// FileSource читает YAML или JSON заново при каждом вызове, правки видны без рестарта.
// Допустимы оба вида: список правил или документ с ключом rules.
type FileSource struct {
	Path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

type ruleDocument struct {
	Rules []domain.PolicyRule `json:"rules" yaml:"rules"`
}

func (f *FileSource) Rules(_ context.Context) ([]domain.PolicyRule, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("policy: read rules %s: %w", f.Path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}

	if strings.EqualFold(filepath.Ext(f.Path), ".json") {
		return decodeJSON(data)
	}
	return decodeYAML(data)
}

func decodeJSON(data []byte) ([]domain.PolicyRule, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var list []domain.PolicyRule
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("policy: decode json rules: %w", err)
		}
		return list, nil
	}
	var doc ruleDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("policy: decode json rules: %w", err)
	}
	return doc.Rules, nil
}

func decodeYAML(data []byte) ([]domain.PolicyRule, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("policy: decode yaml rules: %w", err)
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	if node.Content[0].Kind == yaml.SequenceNode {
		var list []domain.PolicyRule
		if err := node.Decode(&list); err != nil {
			return nil, fmt.Errorf("policy: decode yaml rules: %w", err)
		}
		return list, nil
	}
	var doc ruleDocument
	if err := node.Decode(&doc); err != nil {
		return nil, fmt.Errorf("policy: decode yaml rules: %w", err)
	}
	return doc.Rules, nil
}
