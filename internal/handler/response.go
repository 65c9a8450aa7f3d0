package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
)

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", slog.String("error", err.Error()))
	}
}

// navigation はビューが要求した遷移先を記録する。dashboard.Navigator として渡す。
type navigation struct {
	mu   sync.Mutex
	path string
}

func (n *navigation) Navigate(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.path = path
}

// PathOr は記録された遷移先を返す。未記録の場合はfallbackを返す。
func (n *navigation) PathOr(fallback string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.path == "" {
		return fallback
	}
	return n.path
}
