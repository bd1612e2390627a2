// Package handler: HTTP-обработчики control plane.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/xela07ax/spaceai-control-plane/internal/domain"
)

type errorBody struct {
	Error  string              `json:"error"`
	Fields []domain.FieldError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// decodeBody: пустое тело: не ошибка, v остается нулевым.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// statusOf переводит класс отказа в HTTP-код.
// Отказы гейтов запуска (kill-switch, политика, симуляция) идут как 403, а не 500:
// это штатный запрет, 5xx остается за токеном и бэкендом. Причина всегда в теле ответа.
func statusOf(kind domain.RejectionKind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
