// Package cleanup は期限切れセッションの定期削除ジョブを提供する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SessionPurger は期限切れセッションを削除し、削除件数を返す。
// repository.SessionRepository が実装する。
type SessionPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// CleanupJob は期限切れセッションの削除ジョブ。
// 冪等であり、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	sessions SessionPurger
	logger   *slog.Logger
	Interval time.Duration // 実行間隔（デフォルト: 1時間）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(sessions SessionPurger, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		sessions: sessions,
		logger:   logger,
		Interval: time.Hour,
	}
}

// Start は起動直後に1回実行し、以降Intervalごとに実行する。ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context) {
	j.logger.Info("セッションクリーンアップジョブを開始します",
		slog.Duration("interval", j.Interval),
	)

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		// 失敗はRun内でログ済み。次回に再試行する
		_ = j.Run(ctx)

		select {
		case <-ctx.Done():
			j.logger.Info("セッションクリーンアップジョブを停止します")
			return
		case <-ticker.C:
		}
	}
}

// Run は期限切れセッションを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deletedCount, err := j.sessions.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("セッションクリーンアップの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}
