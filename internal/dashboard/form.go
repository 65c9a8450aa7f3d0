package dashboard

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/hitoshi/smartmark/internal/model"
)

// Form はブックマーク追加フォームの状態を保持する。
type Form struct {
	store   Store
	onAdded func(ctx context.Context, b *model.Bookmark)

	mu         sync.Mutex
	userID     string
	title      string
	url        string
	err        string
	submitting bool
}

// NewForm はFormを生成する。onAddedは追加成功後に呼ばれる。
func NewForm(store Store, onAdded func(ctx context.Context, b *model.Bookmark)) *Form {
	return &Form{store: store, onAdded: onAdded}
}

// SetUser はブックマークの所有ユーザーを設定する。空文字列は未ログインを表す。
func (f *Form) SetUser(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userID = userID
}

// Submit はフォームの入力値でブックマークを追加する。
// 失敗した場合は入力値を保持したままエラーメッセージを設定する。
func (f *Form) Submit(ctx context.Context, title, url string) error {
	f.mu.Lock()
	f.title = title
	f.url = url
	f.err = ""
	userID := f.userID
	f.mu.Unlock()

	title = strings.TrimSpace(title)
	url = strings.TrimSpace(url)

	if title == "" || url == "" {
		return f.fail(model.NewMissingFieldsError())
	}
	if userID == "" {
		return f.fail(model.NewUnauthorizedError("You must be logged in to add bookmarks"))
	}

	f.mu.Lock()
	f.submitting = true
	f.mu.Unlock()

	b, err := f.store.Create(ctx, userID, title, url)

	f.mu.Lock()
	f.submitting = false
	if err != nil {
		f.err = errorMessage(err, "Failed to add bookmark")
		f.mu.Unlock()
		slog.Error("ブックマークの追加に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return err
	}
	f.title = ""
	f.url = ""
	f.mu.Unlock()

	if f.onAdded != nil {
		f.onAdded(ctx, b)
	}
	return nil
}

func (f *Form) fail(apiErr *model.APIError) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = apiErr.Message
	return apiErr
}

// Values は現在の入力値を返す。
func (f *Form) Values() (title, url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.title, f.url
}

// Error は表示用のエラーメッセージを返す。エラーが無い場合は空文字列。
func (f *Form) Error() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Submitting は追加処理の実行中にtrueを返す。
func (f *Form) Submitting() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitting
}
