package hatebu

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/hitoshi/smartmark/internal/repository"
)

// BookmarkCounter ははてなブックマーク数取得のインターフェース。
type BookmarkCounter interface {
	GetBookmarkCounts(ctx context.Context, urls []string) (map[string]int, error)
}

// Recorder は更新件数を記録する。metrics.Collector が実装する。
type Recorder interface {
	RecordHatebuUpdated(count int)
}

// BatchConfig はバッチジョブの設定パラメータ。
type BatchConfig struct {
	// BatchInterval はバッチジョブの実行間隔（デフォルト: 10分）。
	BatchInterval time.Duration
	// APIInterval はAPI呼び出しの最低間隔（デフォルト: 5秒）。
	APIInterval time.Duration
	// MaxCallsPerCycle は1サイクルあたりの最大API呼び出し回数（デフォルト: 100）。
	MaxCallsPerCycle int
	// HatebuTTL はブックマーク数の再取得間隔（デフォルト: 24時間）。
	HatebuTTL time.Duration
}

// DefaultBatchConfig はデフォルトのバッチジョブ設定を返す。
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		BatchInterval:    10 * time.Minute,
		APIInterval:      5 * time.Second,
		MaxCallsPerCycle: 100,
		HatebuTTL:        24 * time.Hour,
	}
}

// BatchJob ははてなブックマーク数のバッチ取得ジョブ。
// hatebu_fetched_atが未設定またはTTLを過ぎたブックマークのURLを対象にAPIを呼び出す。
type BatchJob struct {
	repo     repository.HatebuBookmarkRepository
	client   BookmarkCounter
	logger   *slog.Logger
	config   BatchConfig
	recorder Recorder
	now      func() time.Time

	consecutiveErrors int
	backoffUntil      time.Time
}

// NewBatchJob はBatchJobの新しいインスタンスを生成する。recorderはnil可。
func NewBatchJob(
	repo repository.HatebuBookmarkRepository,
	client BookmarkCounter,
	logger *slog.Logger,
	config BatchConfig,
	recorder Recorder,
) *BatchJob {
	return &BatchJob{
		repo:     repo,
		client:   client,
		logger:   logger,
		config:   config,
		recorder: recorder,
		now:      time.Now,
	}
}

// Start は起動直後に1回、以降BatchIntervalごとにRunOnceを実行する。
// コンテキストがキャンセルされるまでブロックする。
func (b *BatchJob) Start(ctx context.Context) {
	ticker := time.NewTicker(b.config.BatchInterval)
	defer ticker.Stop()

	b.logger.Info("はてなブックマークバッチジョブを開始しました",
		slog.Duration("batch_interval", b.config.BatchInterval),
		slog.Duration("api_interval", b.config.APIInterval),
		slog.Int("max_calls_per_cycle", b.config.MaxCallsPerCycle),
	)

	for {
		if err := b.RunOnce(ctx); err != nil && ctx.Err() == nil {
			b.logger.Error("はてなブックマークバッチサイクルの実行に失敗しました",
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
			b.logger.Info("はてなブックマークバッチジョブを停止しました")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce は1回のバッチサイクルを実行する。
// 対象URLを50件単位でAPIに問い合わせ、同じURLを持つ全ブックマークの件数を更新する。
func (b *BatchJob) RunOnce(ctx context.Context) error {
	start := b.now()

	if !b.backoffUntil.IsZero() && start.Before(b.backoffUntil) {
		b.logger.Info("はてなブックマークバッチジョブはバックオフ中のためスキップします",
			slog.Time("backoff_until", b.backoffUntil),
		)
		return nil
	}

	limit := b.config.MaxCallsPerCycle * maxURLsPerRequest
	urls, err := b.repo.ListURLsNeedingHatebuFetch(ctx, b.config.HatebuTTL, limit)
	if err != nil {
		return fmt.Errorf("はてブ取得対象URLの取得に失敗しました: %w", err)
	}
	if len(urls) == 0 {
		b.logger.Debug("はてなブックマーク取得対象のURLはありません")
		return nil
	}

	b.logger.Info("はてなブックマークバッチサイクルを開始します",
		slog.Int("target_urls", len(urls)),
	)

	var apiCalls, updated int
	hadError := false

	for chunk := range slices.Chunk(urls, maxURLsPerRequest) {
		if apiCalls >= b.config.MaxCallsPerCycle {
			b.logger.Info("1サイクルあたりの最大API呼び出し回数に達しました",
				slog.Int("api_call_count", apiCalls),
			)
			break
		}

		// 初回以外はAPI呼び出し間隔を空ける
		if apiCalls > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.config.APIInterval):
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}

		apiCalls++
		counts, err := b.client.GetBookmarkCounts(ctx, chunk)
		if err != nil {
			hadError = true
			b.consecutiveErrors++
			b.logger.Error("はてなブックマークAPIの呼び出しに失敗しました",
				slog.String("error", err.Error()),
				slog.Int("chunk_size", len(chunk)),
				slog.Int("consecutive_errors", b.consecutiveErrors),
			)
			if backoff := b.calculateErrorBackoff(b.consecutiveErrors); backoff > 0 {
				b.backoffUntil = b.now().Add(backoff)
				b.logger.Warn("連続エラーによりバックオフを適用します",
					slog.Duration("backoff_duration", backoff),
				)
				break
			}
			// このチャンクは前回値を維持して次へ
			continue
		}

		updated += b.applyCounts(ctx, chunk, counts)
	}

	if !hadError {
		b.consecutiveErrors = 0
		b.backoffUntil = time.Time{}
	}
	if b.recorder != nil && updated > 0 {
		b.recorder.RecordHatebuUpdated(updated)
	}

	b.logger.Info("はてなブックマークバッチサイクルが完了しました",
		slog.Int("api_call_count", apiCalls),
		slog.Int("updated_urls", updated),
		slog.Int("target_urls", len(urls)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// applyCounts はチャンク内の各URLの件数を保存し、成功件数を返す。
// レスポンスに含まれないURLは0件として保存する。
func (b *BatchJob) applyCounts(ctx context.Context, chunk []string, counts map[string]int) int {
	fetchedAt := b.now()
	updated := 0
	for _, u := range chunk {
		count := counts[u]
		if err := b.repo.UpdateHatebuCountByURL(ctx, u, count, fetchedAt); err != nil {
			b.logger.Error("はてなブックマーク数の更新に失敗しました",
				slog.String("url", u),
				slog.Int("count", count),
				slog.String("error", err.Error()),
			)
			continue
		}
		updated++
	}
	return updated
}

// calculateErrorBackoff は連続エラー回数に基づくバックオフ時間を計算する。
// 3回連続: 30分、5回連続: 1時間、10回連続: 6時間。
func (b *BatchJob) calculateErrorBackoff(consecutiveErrors int) time.Duration {
	switch {
	case consecutiveErrors >= 10:
		return 6 * time.Hour
	case consecutiveErrors >= 5:
		return time.Hour
	case consecutiveErrors >= 3:
		return 30 * time.Minute
	default:
		return 0
	}
}
