// Package dashboard はダッシュボード画面のビューモデルを提供する。
//
// View がセッション確認と認証状態の遷移を管理し、Form・List・Navbar を束ねる。
// 各オブジェクトはHTTPリクエストやSSE接続ごとに生成され、複数ゴルーチンから安全に呼べる。
package dashboard

import (
	"context"
	"errors"

	"github.com/hitoshi/smartmark/internal/model"
	"github.com/hitoshi/smartmark/internal/realtime"
	"github.com/hitoshi/smartmark/internal/session"
)

// Sessions はダッシュボードが利用するセッションクライアントの操作。session.Client が実装する。
type Sessions interface {
	GetSession(ctx context.Context, token string) (*model.Session, error)
	GetUser(ctx context.Context, token string) (*model.User, error)
	SignOut(ctx context.Context, token string) error
	OnAuthStateChange(listener session.Listener) session.Unsubscribe
}

// Store はユーザーでスコープされたブックマーク操作。bookmark.Service が実装する。
type Store interface {
	Create(ctx context.Context, userID, title, url string) (*model.Bookmark, error)
	List(ctx context.Context, userID string) ([]*model.Bookmark, error)
	Delete(ctx context.Context, userID, bookmarkID string) error
}

// Feed はユーザー単位の変更フィード。realtime.Hub が実装する。
type Feed interface {
	Subscribe(userID string) *realtime.Subscription
}

// Navigator は画面遷移を行う。HTTPハンドラではリダイレクト先の記録に使う。
type Navigator func(path string)

// errorMessage は画面に表示するメッセージを返す。内部エラーの詳細は表示しない。
func errorMessage(err error, fallback string) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return fallback
}
