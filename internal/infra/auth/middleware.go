package auth

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/xela07ax/spaceai-control-plane/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	HeaderOperatorID  = "X-Operator-Id"
	HeaderOperatorKey = "X-Operator-Key"
)

// TokenValidator: проверка bearer-токена оператора.
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.OperatorClaims, error)
}

type ctxKey string

const operatorKey ctxKey = "operator"

// Operator: известный оператор из allow-list. KeyHash опционален.
type Operator struct {
	ID      string
	KeyHash string
}

// OperatorGuard пропускает только операторов: заголовок из allow-list или
// bearer-токен с ролью admin/ops/operator. Иначе 403 до любого изменения состояния.
type OperatorGuard struct {
	operators map[string]Operator
	validator TokenValidator
	logger    *zap.Logger
}

func NewOperatorGuard(operators []Operator, validator TokenValidator, logger *zap.Logger) *OperatorGuard {
	m := make(map[string]Operator, len(operators))
	for _, op := range operators {
		if op.ID != "" {
			m[op.ID] = op
		}
	}
	return &OperatorGuard{operators: m, validator: validator, logger: logger.Named("operator-guard")}
}

// Authorize возвращает имя оператора или пустую строку.
func (g *OperatorGuard) Authorize(r *http.Request) (string, bool) {
	if id := r.Header.Get(HeaderOperatorID); id != "" {
		if op, ok := g.operators[id]; ok {
			if op.KeyHash == "" {
				return id, true
			}
			key := r.Header.Get(HeaderOperatorKey)
			if key != "" && bcrypt.CompareHashAndPassword([]byte(op.KeyHash), []byte(key)) == nil {
				return id, true
			}
			g.logger.Warn("operator key mismatch", zap.String("operator", id))
		}
	}

	if authHeader := r.Header.Get("Authorization"); authHeader != "" && g.validator != nil {
		claims, err := g.validator.VerifyToken(authHeader)
		if err != nil {
			g.logger.Warn("auth failure", zap.Error(err))
			return "", false
		}
		if claims.HasOperatorRole() {
			return claims.Identity(), true
		}
		g.logger.Warn("token without operator role", zap.String("sub", claims.Subject))
	}
	return "", false
}

func (g *OperatorGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		operator, ok := g.Authorize(r)
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
			return
		}
		ctx := context.WithValue(r.Context(), operatorKey, operator)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OperatorFromContext: имя оператора, прошедшего guard.
func OperatorFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(operatorKey).(string); ok {
		return v
	}
	return ""
}
