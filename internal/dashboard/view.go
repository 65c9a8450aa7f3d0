package dashboard

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/smartmark/internal/model"
	"github.com/hitoshi/smartmark/internal/session"
)

// State はダッシュボードの認証状態。
type State string

const (
	StateLoading         State = "loading"
	StateAuthenticated   State = "authenticated"
	StateUnauthenticated State = "unauthenticated"
)

// View はダッシュボード画面の状態機械。
// loading から authenticated または unauthenticated へ遷移し、unauthenticated は終端状態。
// unauthenticated に入るとNavigatorで "/" へ遷移する。
type View struct {
	Form   *Form
	List   *List
	Navbar *Navbar

	sessions Sessions
	token    string
	navigate Navigator

	mu             sync.Mutex
	state          State
	session        *model.Session
	user           *model.User
	refreshTrigger int
	unsubscribe    session.Unsubscribe
	cancels        []context.CancelFunc
	done           chan struct{}
	closed         bool
	skipLoad       bool
}

// ViewOption はViewの生成オプション。
type ViewOption func(*View)

// WithoutInitialLoad はStart時の一覧読み込みを省略する。
// 変更フィードのみを配信する接続で使う。
func WithoutInitialLoad() ViewOption {
	return func(v *View) { v.skipLoad = true }
}

// NewView はセッショントークンに対するViewを生成する。
func NewView(sessions Sessions, store Store, token string, navigate Navigator, opts ...ViewOption) *View {
	v := &View{
		sessions: sessions,
		token:    token,
		navigate: navigate,
		state:    StateLoading,
		done:     make(chan struct{}),
		List:     NewList(store),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.Form = NewForm(store, func(ctx context.Context, _ *model.Bookmark) {
		v.NotifyMutation(ctx)
	})
	v.Navbar = NewNavbar(sessions, token, navigate)
	return v
}

// Start は認証状態の監視を開始し、初回のセッション確認を行う。
// 認証済みの場合のみブックマーク一覧を読み込む（WithoutInitialLoad指定時を除く）。遷移後の状態を返す。
func (v *View) Start(ctx context.Context) State {
	v.mu.Lock()
	if v.state != StateLoading || v.closed {
		state := v.state
		v.mu.Unlock()
		return state
	}
	v.unsubscribe = v.sessions.OnAuthStateChange(v.HandleAuthEvent)
	v.mu.Unlock()

	sess, err := v.sessions.GetSession(ctx, v.token)
	if err != nil {
		slog.Warn("セッションの確認に失敗しました", slog.String("error", err.Error()))
	}
	if sess == nil {
		v.signOutLocally()
		return StateUnauthenticated
	}

	user, err := v.sessions.GetUser(ctx, v.token)
	if err != nil {
		slog.Warn("ユーザーの取得に失敗しました", slog.String("error", err.Error()))
	}
	if user == nil {
		v.signOutLocally()
		return StateUnauthenticated
	}

	v.mu.Lock()
	if v.state != StateLoading || v.closed {
		state := v.state
		v.mu.Unlock()
		return state
	}
	v.state = StateAuthenticated
	v.session = sess
	v.user = user
	v.Form.SetUser(user.ID)
	v.List.SetUser(user.ID)
	v.Navbar.SetUser(user)
	skipLoad := v.skipLoad
	v.mu.Unlock()

	if !skipLoad {
		v.List.Load(ctx)
	}
	return StateAuthenticated
}

// Revalidate は認証済みのセッションがまだ有効かを確認する。
// 失効や削除でセッションが見つからない場合はunauthenticatedへ遷移する。
// 確認自体のエラーは一時的なものとして状態を変えない。遷移後の状態を返す。
func (v *View) Revalidate(ctx context.Context) State {
	if state := v.State(); state != StateAuthenticated {
		return state
	}

	sess, err := v.sessions.GetSession(ctx, v.token)
	if err != nil {
		slog.Warn("セッションの再確認に失敗しました", slog.String("error", err.Error()))
		return v.State()
	}
	if sess == nil {
		v.signOutLocally()
		return StateUnauthenticated
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == StateAuthenticated {
		v.session = sess
	}
	return v.state
}

// HandleAuthEvent は認証状態の変化を反映する。session.Listener として登録される。
// このViewのセッション以外のイベントは無視する。
func (v *View) HandleAuthEvent(ev session.AuthEvent) {
	if ev.SessionID != v.token {
		return
	}

	switch ev.Type {
	case session.EventSignedOut:
		v.signOutLocally()
	case session.EventSignedIn, session.EventTokenRefreshed:
		v.mu.Lock()
		defer v.mu.Unlock()
		if v.closed || v.state == StateUnauthenticated || ev.Session == nil {
			return
		}
		// ユーザーはトークンに固定されるため、更新するのはセッションの有効期限のみ
		v.session = ev.Session
	}
}

// signOutLocally はunauthenticatedへ遷移し、トップページへ遷移する。
func (v *View) signOutLocally() {
	v.mu.Lock()
	if v.state == StateUnauthenticated {
		v.mu.Unlock()
		return
	}
	v.enterUnauthenticatedLocked()
	v.mu.Unlock()

	v.navigateHome()
}

func (v *View) enterUnauthenticatedLocked() {
	v.state = StateUnauthenticated
	v.session = nil
	v.user = nil
	v.Form.SetUser("")
	v.Navbar.SetUser(nil)
	v.List.Close()
	for _, cancel := range v.cancels {
		cancel()
	}
	v.cancels = nil
	close(v.done)
}

func (v *View) navigateHome() {
	if v.navigate != nil {
		v.navigate("/")
	}
}

// NotifyMutation はリフレッシュトリガーを進め、一覧を読み込み直す。
// 認証済みでない場合は何もしない。
func (v *View) NotifyMutation(ctx context.Context) {
	v.mu.Lock()
	if v.state != StateAuthenticated || v.closed {
		v.mu.Unlock()
		return
	}
	v.refreshTrigger++
	v.mu.Unlock()

	v.List.Load(ctx)
}

// Watch は変更フィードを購読し、受信したイベントをバックグラウンドで一覧に反映する。
// 購読は戻る前に完了しているため、呼び出し後に発行されたイベントは取りこぼさない。
// 反映はctxの終了、unauthenticatedへの遷移、Closeで止まる。認証済みでなければ購読せずfalseを返す。
func (v *View) Watch(ctx context.Context, feed Feed, notify func(model.BookmarkEvent)) bool {
	v.mu.Lock()
	if v.state != StateAuthenticated || v.closed {
		v.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(ctx)
	v.cancels = append(v.cancels, cancel)
	v.mu.Unlock()

	sub := v.List.Subscribe(feed)
	if sub == nil {
		cancel()
		return false
	}
	go func() {
		defer cancel()
		v.List.Follow(ctx, sub, notify)
	}()
	return true
}

// Done はunauthenticatedへ遷移した時点でクローズされるチャネルを返す。
func (v *View) Done() <-chan struct{} {
	return v.done
}

// State は現在の状態を返す。
func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// User は認証済みユーザーを返す。認証済みでない場合はnil。
func (v *View) User() *model.User {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.user
}

// Session は現在のセッションを返す。
func (v *View) Session() *model.Session {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.session
}

// RefreshTrigger は一覧の再読み込みが要求された回数を返す。
func (v *View) RefreshTrigger() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.refreshTrigger
}

// Close は認証状態の監視と変更フィードの購読を解除する。複数回呼んでも安全。
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	unsubscribe := v.unsubscribe
	cancels := v.cancels
	v.cancels = nil
	v.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	for _, cancel := range cancels {
		cancel()
	}
	v.List.Close()
}
