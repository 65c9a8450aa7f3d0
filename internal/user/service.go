// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/smartmark/internal/model"
)

// UserStore は退会処理で使うユーザー操作。
type UserStore interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	DeleteByID(ctx context.Context, id string) error
}

// BookmarkDeleter はブックマークの一括削除インターフェース。
type BookmarkDeleter interface {
	DeleteByUserID(ctx context.Context, userID string) error
}

// SessionTerminator はユーザーの全セッションを破棄する。session.Client が実装する。
type SessionTerminator interface {
	SignOutUser(ctx context.Context, userID string) error
}

// Service はユーザー管理のサービス層。
type Service struct {
	users     UserStore
	bookmarks BookmarkDeleter
	sessions  SessionTerminator
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(users UserStore, bookmarks BookmarkDeleter, sessions SessionTerminator) *Service {
	return &Service{
		users:     users,
		bookmarks: bookmarks,
		sessions:  sessions,
	}
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: bookmarks → sessions → user（+ CASCADE: identities）
// ブックマークを先に消すことで、購読中のダッシュボードにDELETEイベントが届く。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	// 1. ブックマークを削除
	if err := s.bookmarks.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("ブックマークの削除に失敗しました: %w", err)
	}

	// 2. セッションを破棄（SIGNED_OUTが各ダッシュボードへ通知される）
	if err := s.sessions.SignOutUser(ctx, userID); err != nil {
		return fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}

	// 3. ユーザーを削除
	if err := s.users.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
	)

	return nil
}
