package handler

import (
	"context"
	"log/slog"
	"net/http"
)

// Pinger はデータベースの疎通確認を行う。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Health はヘルスチェック結果を返す。
// GET /health
func Health(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			slog.Warn("health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
