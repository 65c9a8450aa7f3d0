package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/smartmark/internal/model"
)

// PostgresBookmarkRepo はPostgreSQLを使用したブックマークリポジトリ。
// 書き込みはbookmarks_notifyトリガー経由でbookmark_changesチャネルに通知される。
type PostgresBookmarkRepo struct {
	db *sql.DB
}

// NewPostgresBookmarkRepo はPostgresBookmarkRepoを生成する。
func NewPostgresBookmarkRepo(db *sql.DB) *PostgresBookmarkRepo {
	return &PostgresBookmarkRepo{db: db}
}

// Create はブックマークを作成する。
func (r *PostgresBookmarkRepo) Create(ctx context.Context, bookmark *model.Bookmark) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO bookmarks (id, user_id, title, url, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		bookmark.ID, bookmark.UserID, bookmark.Title, bookmark.URL, bookmark.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create bookmark: %w", err)
	}
	return nil
}

// ListByUserID はユーザーのブックマークをcreated_at降順で返す。
func (r *PostgresBookmarkRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Bookmark, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, title, url, created_at, hatebu_count, hatebu_fetched_at
		 FROM bookmarks
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookmarks: %w", err)
	}
	defer rows.Close()

	bookmarks := []*model.Bookmark{}
	for rows.Next() {
		b := &model.Bookmark{}
		var hatebuFetchedAt sql.NullTime
		if err := rows.Scan(&b.ID, &b.UserID, &b.Title, &b.URL, &b.CreatedAt, &b.HatebuCount, &hatebuFetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bookmark: %w", err)
		}
		if hatebuFetchedAt.Valid {
			b.HatebuFetchedAt = &hatebuFetchedAt.Time
		}
		bookmarks = append(bookmarks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bookmarks: %w", err)
	}

	return bookmarks, nil
}

// DeleteByIDAndUserID は所有者が一致するブックマークを削除する。
func (r *PostgresBookmarkRepo) DeleteByIDAndUserID(ctx context.Context, id, userID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM bookmarks WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete bookmark: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteByUserID はユーザーの全ブックマークを削除する。
func (r *PostgresBookmarkRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM bookmarks WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user bookmarks: %w", err)
	}
	return nil
}

// ListURLsNeedingHatebuFetch ははてなブックマーク数の取得が必要なURLを返す。
// hatebu_fetched_at IS NULL（未取得）を優先し、次にhatebu_fetched_atが古い順に処理する。
func (r *PostgresBookmarkRepo) ListURLsNeedingHatebuFetch(ctx context.Context, ttl time.Duration, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT url
		 FROM bookmarks
		 WHERE hatebu_fetched_at IS NULL
		    OR hatebu_fetched_at < $1
		 GROUP BY url
		 ORDER BY bool_or(hatebu_fetched_at IS NULL) DESC, min(hatebu_fetched_at) ASC NULLS FIRST
		 LIMIT $2`,
		time.Now().Add(-ttl), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("はてブ取得対象URLの一覧取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("はてブ取得対象URLの行読み取りに失敗しました: %w", err)
		}
		urls = append(urls, url)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("はてブ取得対象URLの走査に失敗しました: %w", err)
	}

	return urls, nil
}

// UpdateHatebuCountByURL は同一URLを持つ全ブックマークのはてなブックマーク数を更新する。
func (r *PostgresBookmarkRepo) UpdateHatebuCountByURL(ctx context.Context, url string, count int, fetchedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE bookmarks SET hatebu_count = $2, hatebu_fetched_at = $3
		 WHERE url = $1`,
		url, count, fetchedAt,
	)
	if err != nil {
		return fmt.Errorf("はてなブックマーク数の更新に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ BookmarkRepository = (*PostgresBookmarkRepo)(nil)
var _ HatebuBookmarkRepository = (*PostgresBookmarkRepo)(nil)
