package policy

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// Pattern: значение из when правила в разобранном виде.
// Варианты: Exact, Wildcard, Regex. DotPath связывает путь с паттерном.
type Pattern interface {
	Match(v any, defined bool) bool
}

// Exact сравнивает строковые представления; числа нормализуются.
type Exact struct {
	Value any
}

func (e Exact) Match(v any, defined bool) bool {
	if !defined {
		return false
	}
	return canonical(v) == canonical(e.Value)
}

// Wildcard "*" совпадает с любым определенным значением.
type Wildcard struct{}

func (Wildcard) Match(_ any, defined bool) bool {
	return defined
}

// Regex: паттерн вида "re:<expr>". Некорректное выражение не совпадает ни с чем.
type Regex struct {
	Expr string
	re   *regexp.Regexp
}

func (r Regex) Match(v any, defined bool) bool {
	if !defined || r.re == nil {
		return false
	}
	return r.re.MatchString(canonical(v))
}

// DotPath: проверка поля по пути вида "a.b.c".
type DotPath struct {
	Path    string
	Pattern Pattern
}

const regexPrefix = "re:"

var regexCache sync.Map // expr -> *regexp.Regexp (nil для некорректных)

// ParsePattern превращает сырое значение из when в Pattern.
func ParsePattern(raw any) Pattern {
	s, ok := raw.(string)
	if !ok {
		return Exact{Value: raw}
	}
	switch {
	case s == "*":
		return Wildcard{}
	case strings.HasPrefix(s, regexPrefix):
		expr := strings.TrimPrefix(s, regexPrefix)
		return Regex{Expr: expr, re: compileCached(expr)}
	default:
		return Exact{Value: s}
	}
}

func compileCached(expr string) *regexp.Regexp {
	if v, ok := regexCache.Load(expr); ok {
		re, _ := v.(*regexp.Regexp)
		return re
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		regexCache.Store(expr, (*regexp.Regexp)(nil))
		return nil
	}
	regexCache.Store(expr, re)
	return re
}

// Resolve ходит по вложенным map/slice. defined=false, если путь не существует.
func Resolve(root any, path string) (any, bool) {
	if path == "" {
		return root, root != nil
	}
	cur := root
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, cur != nil
}

// Falsy: отсутствие, nil, false, 0, NaN и пустая строка.
func Falsy(v any, defined bool) bool {
	if !defined || v == nil {
		return true
	}
	switch x := v.(type) {
	case bool:
		return !x
	case string:
		return x == ""
	}
	if f, ok := toFloat(v); ok {
		return f == 0 || math.IsNaN(f)
	}
	return false
}

func canonical(v any) string {
	if f, ok := toFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprint(v)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	}
	return 0, false
}
