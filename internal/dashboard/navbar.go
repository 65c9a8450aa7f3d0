package dashboard

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/smartmark/internal/model"
)

// Navbar はナビゲーションバーの表示とログアウト操作を扱う。
type Navbar struct {
	sessions Sessions
	token    string
	navigate Navigator

	mu   sync.Mutex
	user *model.User
	busy bool
}

// NewNavbar はNavbarを生成する。
func NewNavbar(sessions Sessions, token string, navigate Navigator) *Navbar {
	return &Navbar{sessions: sessions, token: token, navigate: navigate}
}

// SetUser は表示するユーザーを設定する。
func (n *Navbar) SetUser(user *model.User) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.user = user
}

// Email は表示用メールアドレスを返す。
func (n *Navbar) Email() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.user.DisplayEmail()
}

// SignOut はログアウトしてトップページへ遷移する。
// 失敗した場合はエラーをログに記録し、遷移しない。
func (n *Navbar) SignOut(ctx context.Context) error {
	n.mu.Lock()
	n.busy = true
	n.mu.Unlock()

	defer func() {
		n.mu.Lock()
		n.busy = false
		n.mu.Unlock()
	}()

	if err := n.sessions.SignOut(ctx, n.token); err != nil {
		slog.Error("ログアウトに失敗しました", slog.String("error", err.Error()))
		return err
	}
	if n.navigate != nil {
		n.navigate("/")
	}
	return nil
}

// Busy はログアウト処理中にtrueを返す。
func (n *Navbar) Busy() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.busy
}
