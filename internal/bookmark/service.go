// Package bookmark はブックマーク管理のドメインロジックを提供する。
package bookmark

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/smartmark/internal/model"
	"github.com/hitoshi/smartmark/internal/repository"
	"github.com/hitoshi/smartmark/internal/security"
)

const (
	// MaxTitleLength はタイトルの最大文字数（rune数）。
	MaxTitleLength = 500
	// MaxURLLength はURLの最大バイト長。通知ペイロードの8000バイト制限に収まる値。
	MaxURLLength = 2048
)

// Recorder はブックマーク操作のメトリクス記録インターフェース。
type Recorder interface {
	RecordBookmarkCreated()
	RecordBookmarkDeleted()
	RecordValidationFailure(reason string)
}

type nopRecorder struct{}

func (nopRecorder) RecordBookmarkCreated()         {}
func (nopRecorder) RecordBookmarkDeleted()         {}
func (nopRecorder) RecordValidationFailure(string) {}

// Service はブックマーク管理のサービス層。
// 作成時の入力検証とタイトルのサニタイズを担う。
type Service struct {
	repo      repository.BookmarkRepository
	sanitizer security.TitleSanitizerService
	recorder  Recorder
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// recorderがnilの場合はメトリクスを記録しない。
func NewService(repo repository.BookmarkRepository, sanitizer security.TitleSanitizerService, recorder Recorder) *Service {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		recorder:  recorder,
		now:       time.Now,
	}
}

// Create はユーザーのブックマークを作成する。
// title、urlは前後の空白を除去してから検証する。
func (s *Service) Create(ctx context.Context, userID, title, rawURL string) (*model.Bookmark, error) {
	if userID == "" {
		return nil, model.NewUnauthorizedError("You must be logged in to add bookmarks")
	}

	title = strings.TrimSpace(title)
	rawURL = strings.TrimSpace(rawURL)
	if title == "" || rawURL == "" {
		s.recorder.RecordValidationFailure("missing_fields")
		return nil, model.NewMissingFieldsError()
	}

	if s.sanitizer != nil {
		title = s.sanitizer.Sanitize(title)
		if title == "" {
			s.recorder.RecordValidationFailure("missing_fields")
			return nil, model.NewMissingFieldsError()
		}
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		s.recorder.RecordValidationFailure("title_too_long")
		return nil, model.NewFieldTooLongError("Title", MaxTitleLength)
	}

	if err := ValidateURL(rawURL); err != nil {
		s.recorder.RecordValidationFailure("invalid_url")
		return nil, err
	}

	b := &model.Bookmark{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     title,
		URL:       rawURL,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("ブックマークの作成に失敗しました: %w", err)
	}

	s.recorder.RecordBookmarkCreated()
	slog.Info("ブックマークを作成しました",
		slog.String("user_id", userID),
		slog.String("bookmark_id", b.ID),
	)
	return b, nil
}

// List はユーザーのブックマークをcreated_at降順で返す。
func (s *Service) List(ctx context.Context, userID string) ([]*model.Bookmark, error) {
	if userID == "" {
		return nil, model.NewUnauthorizedError("")
	}
	bookmarks, err := s.repo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ブックマーク一覧の取得に失敗しました: %w", err)
	}
	return bookmarks, nil
}

// Delete はユーザーのブックマークを削除する。
// 他ユーザーのブックマークや存在しないIDは未検出エラーとして扱う。
func (s *Service) Delete(ctx context.Context, userID, bookmarkID string) error {
	if userID == "" {
		return model.NewUnauthorizedError("")
	}
	if _, err := uuid.Parse(bookmarkID); err != nil {
		return model.NewBookmarkNotFoundError(bookmarkID)
	}

	deleted, err := s.repo.DeleteByIDAndUserID(ctx, bookmarkID, userID)
	if err != nil {
		return fmt.Errorf("ブックマークの削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewBookmarkNotFoundError(bookmarkID)
	}

	s.recorder.RecordBookmarkDeleted()
	return nil
}

// DeleteByUserID はユーザーの全ブックマークを削除する。退会処理から呼ばれる。
func (s *Service) DeleteByUserID(ctx context.Context, userID string) error {
	if err := s.repo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("ブックマークの一括削除に失敗しました: %w", err)
	}
	return nil
}

// ValidateURL はブックマークURLの形式を検証する。
// イントラネットのページも登録できるよう、ホストの到達性やIP範囲は検証しない。
func ValidateURL(rawURL string) error {
	if len(rawURL) > MaxURLLength {
		return model.NewFieldTooLongError("URL", MaxURLLength)
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return model.NewInvalidURLError("could not be parsed")
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return model.NewInvalidURLError("scheme must be http or https")
	}
	if parsed.Host == "" || parsed.Hostname() == "" {
		return model.NewInvalidURLError("host is missing")
	}
	return nil
}
