package dashboard

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/smartmark/internal/model"
	"github.com/hitoshi/smartmark/internal/realtime"
)

// List はユーザーのブックマーク一覧を保持する。
// 最後に読み込んだスナップショットとその後に受信した変更イベントを Reconcile した状態を持つ。
type List struct {
	store Store

	mu         sync.Mutex
	userID     string
	items      []*model.Bookmark
	pending    []model.BookmarkEvent
	loading    bool
	inflight   bool
	err        string
	generation uint64
	closed     bool
}

// NewList はListを生成する。最初のLoadが完了するまでLoadingはtrueを返す。
func NewList(store Store) *List {
	return &List{store: store, loading: true}
}

// SetUser は一覧の所有ユーザーを設定する。
func (l *List) SetUser(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.userID = userID
}

// Load はブックマーク一覧を読み込み直す。
// ユーザー未設定の場合はエラーメッセージを設定して空一覧とする。
// ストアのエラーは警告ログのみ記録し、空一覧として扱う。
// 後発のLoadが開始された後やClose後に届いた結果は破棄する。
func (l *List) Load(ctx context.Context) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.generation++
	gen := l.generation
	userID := l.userID
	l.err = ""
	if userID == "" {
		l.err = "You must be logged in"
		l.items = nil
		l.loading = false
		l.mu.Unlock()
		return
	}
	l.inflight = true
	l.pending = nil
	l.mu.Unlock()

	rows, err := l.store.List(ctx, userID)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || gen != l.generation {
		slog.Debug("stale bookmark list discarded",
			slog.String("user_id", userID),
			slog.Uint64("generation", gen),
		)
		return
	}

	l.loading = false
	l.inflight = false
	if err != nil {
		slog.Warn("ブックマーク一覧の取得に失敗したため空一覧を表示します",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		l.items = nil
		l.pending = nil
		return
	}

	l.items = Reconcile(rows, l.pending)
	l.pending = nil
}

// Delete はブックマークを削除する。成功した場合は即座に一覧から除去する。
// 失敗した場合は一覧を変更せずにエラーを返す。
func (l *List) Delete(ctx context.Context, bookmarkID string) error {
	l.mu.Lock()
	userID := l.userID
	l.mu.Unlock()

	if userID == "" {
		return model.NewUnauthorizedError("")
	}

	if err := l.store.Delete(ctx, userID, bookmarkID); err != nil {
		slog.Warn("ブックマークの削除に失敗しました",
			slog.String("user_id", userID),
			slog.String("bookmark_id", bookmarkID),
			slog.String("error", err.Error()),
		)
		return err
	}

	l.Apply(model.BookmarkEvent{
		Type:     model.BookmarkEventDelete,
		Bookmark: model.Bookmark{ID: bookmarkID, UserID: userID},
	})
	return nil
}

// Apply は変更イベントを一覧に反映する。所有ユーザー以外のイベントは無視する。
func (l *List) Apply(ev model.BookmarkEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.userID == "" || ev.Bookmark.UserID != l.userID {
		return
	}
	if l.inflight {
		l.pending = append(l.pending, ev)
	}
	l.items = Reconcile(l.items, []model.BookmarkEvent{ev})
}

// Watch はユーザーの変更フィードを購読し、ctxが終了するまでイベントを一覧に反映する。
// notifyがnilでない場合、反映したイベントごとに呼ばれる。
func (l *List) Watch(ctx context.Context, feed Feed, notify func(model.BookmarkEvent)) {
	if sub := l.Subscribe(feed); sub != nil {
		l.Follow(ctx, sub, notify)
	}
}

// Subscribe は所有ユーザーの変更フィードを購読する。未設定またはClose後はnilを返す。
func (l *List) Subscribe(feed Feed) *realtime.Subscription {
	l.mu.Lock()
	userID := l.userID
	closed := l.closed
	l.mu.Unlock()

	if closed || userID == "" {
		return nil
	}
	return feed.Subscribe(userID)
}

// Follow はctxが終了するかフィードが閉じるまでsubのイベントを一覧に反映し、最後に購読を解除する。
func (l *List) Follow(ctx context.Context, sub *realtime.Subscription, notify func(model.BookmarkEvent)) {
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			l.Apply(ev)
			if notify != nil {
				notify(ev)
			}
		}
	}
}

// Items は現在の一覧のコピーを返す。
func (l *List) Items() []model.Bookmark {
	l.mu.Lock()
	defer l.mu.Unlock()

	items := make([]model.Bookmark, len(l.items))
	for i, b := range l.items {
		items[i] = *b
	}
	return items
}

// Loading は初回の読み込みが完了していない場合にtrueを返す。
func (l *List) Loading() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loading
}

// Error は表示用のエラーメッセージを返す。
func (l *List) Error() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Close は一覧を破棄する。以降に届いた読み込み結果やイベントは反映しない。
func (l *List) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.pending = nil
}
