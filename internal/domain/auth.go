package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// OperatorClaims: claims bearer-токена оператора для kill-switch эндпоинтов.
// Роль может прийти в role, roles или в scopes ("ops": true).
type OperatorClaims struct {
	UserID string          `json:"user_id,omitempty"`
	Role   string          `json:"role,omitempty"`
	Roles  []string        `json:"roles,omitempty"`
	Scopes map[string]bool `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// OperatorRoles: роли, которым разрешено переключать kill-switch.
var OperatorRoles = []string{"admin", "ops", "operator"}

// HasOperatorRole проверяет все три места, где может лежать роль.
func (c *OperatorClaims) HasOperatorRole() bool {
	for _, r := range OperatorRoles {
		if c.Role == r || c.Scopes[r] {
			return true
		}
		for _, have := range c.Roles {
			if have == r {
				return true
			}
		}
	}
	return false
}

// Identity возвращает имя оператора для аудита.
func (c *OperatorClaims) Identity() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

// ExecutionClaims: полезная нагрузка токена исполнения.
type ExecutionClaims struct {
	Scope    []string       `json:"scope"`
	Metadata map[string]any `json:"metadata,omitempty"`
	jwt.RegisteredClaims
}
