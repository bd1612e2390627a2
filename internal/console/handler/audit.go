package handler

import (
	"net/http"
	"strconv"

	"github.com/xela07ax/spaceai-control-plane/internal/audit"
)

type AuditReader interface {
	Recent(n int) []audit.Entry
	ByAction(action string) []audit.Entry
}

type AuditHandler struct {
	log AuditReader
}

func NewAuditHandler(log AuditReader) *AuditHandler {
	return &AuditHandler{log: log}
}

const defaultAuditLimit = 100

// GetLogs: GET /audit?limit=50&action=trigger.start, новые первыми.
func (h *AuditHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	var entries []audit.Entry
	if action := r.URL.Query().Get("action"); action != "" {
		all := h.log.ByAction(action)
		for i := len(all) - 1; i >= 0 && len(entries) < limit; i-- {
			entries = append(entries, all[i])
		}
	} else {
		entries = h.log.Recent(limit)
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
