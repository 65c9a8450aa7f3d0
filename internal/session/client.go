// Package session はセッションの解決・キャッシュと認証状態の変化通知を提供する。
//
// Client はプロセス全体で1つ生成し、終了時にCloseで破棄する。
// セッションが「存在しない」ことはエラーではなく nil として返す。
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/smartmark/internal/model"
)

// EventType は認証状態の変化の種類。
type EventType string

const (
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
)

// AuthEvent は認証状態の変化を表す。SIGNED_OUTの場合Sessionはnil。
type AuthEvent struct {
	Type      EventType
	SessionID string
	UserID    string
	Session   *model.Session
}

// Listener は認証状態の変化を受け取る関数。
// 通知は発生元のゴルーチンで同期的に呼ばれるため、ブロックしないこと。
type Listener func(AuthEvent)

// Unsubscribe はリスナーの登録を解除する。複数回呼んでも安全。
type Unsubscribe func()

// Backend はセッションとユーザーの永続化・コード交換を担う。auth.Service が実装する。
type Backend interface {
	ExchangeCodeForSession(ctx context.Context, code string) (*model.Session, error)
	FindSession(ctx context.Context, sessionID string) (*model.Session, error)
	FindUser(ctx context.Context, userID string) (*model.User, error)
	ExtendSession(ctx context.Context, session *model.Session) (*model.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
	DeleteUserSessions(ctx context.Context, userID string) ([]string, error)
	SessionMaxAge() time.Duration
}

// CacheRecorder はキャッシュのヒット・ミスを記録する。metrics.Collector が実装する。
type CacheRecorder interface {
	RecordSessionCacheLookup(hit bool)
}

// Config はClientの設定。
type Config struct {
	// CacheTTL は解決済みセッションをキャッシュする期間。0以下の場合キャッシュしない。
	CacheTTL time.Duration
	// Recorder は省略可能。
	Recorder CacheRecorder
}

type cacheEntry struct {
	session  model.Session
	cachedAt time.Time
}

// Client はセッションの取得・サインアウト・コード交換と認証イベントの配信を行う。
type Client struct {
	backend  Backend
	ttl      time.Duration
	recorder CacheRecorder
	now      func() time.Time

	mu     sync.RWMutex
	cache  map[string]cacheEntry
	closed bool

	listenersMu sync.Mutex
	listeners   map[uint64]Listener
	nextID      uint64

	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewClient はClientを生成し、キャッシュの掃除ゴルーチンを起動する。
func NewClient(backend Backend, cfg Config) *Client {
	c := &Client{
		backend:   backend,
		ttl:       cfg.CacheTTL,
		recorder:  cfg.Recorder,
		now:       time.Now,
		cache:     make(map[string]cacheEntry),
		listeners: make(map[uint64]Listener),
		stop:      make(chan struct{}),
	}

	if c.ttl > 0 {
		c.wg.Add(1)
		go c.janitor()
	}
	return c
}

// Close はキャッシュを破棄し、全リスナーを解除する。複数回呼んでも安全。
// Close後もGetSession等は利用できるが、キャッシュを経由せず常にBackendへ問い合わせる。
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		c.wg.Wait()

		c.mu.Lock()
		c.closed = true
		c.cache = make(map[string]cacheEntry)
		c.mu.Unlock()

		c.listenersMu.Lock()
		c.listeners = make(map[uint64]Listener)
		c.listenersMu.Unlock()
	})
}

// GetSession はトークンに対応する有効なセッションを返す。
// トークンが空・未知・期限切れの場合は nil, nil を返す。
func (c *Client) GetSession(ctx context.Context, token string) (*model.Session, error) {
	if token == "" {
		return nil, nil
	}

	if s, ok := c.cached(token); ok {
		c.record(true)
		return s, nil
	}
	c.record(false)

	s, err := c.backend.FindSession(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if s == nil || s.Expired(c.now()) {
		c.evict(token)
		return nil, nil
	}

	c.store(s)
	return copySession(s), nil
}

// GetUser はトークンに対応するユーザーを返す。セッションが無い場合は nil, nil を返す。
func (c *Client) GetUser(ctx context.Context, token string) (*model.User, error) {
	s, err := c.GetSession(ctx, token)
	if err != nil || s == nil {
		return nil, err
	}

	user, err := c.backend.FindUser(ctx, s.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// ExchangeCodeForSession は認可コードをセッションに交換し、SIGNED_INを通知する。
func (c *Client) ExchangeCodeForSession(ctx context.Context, code string) (*model.Session, error) {
	s, err := c.backend.ExchangeCodeForSession(ctx, code)
	if err != nil {
		return nil, err
	}

	c.store(s)
	c.emit(AuthEvent{Type: EventSignedIn, SessionID: s.ID, UserID: s.UserID, Session: copySession(s)})
	return copySession(s), nil
}

// Refresh は有効期間の後半に入ったセッションを延長し、TOKEN_REFRESHEDを通知する。
// 延長不要な場合は現在のセッションをそのまま返す。セッションが無い場合は nil, nil を返す。
func (c *Client) Refresh(ctx context.Context, token string) (*model.Session, error) {
	s, err := c.GetSession(ctx, token)
	if err != nil || s == nil {
		return nil, err
	}
	if !s.NeedsRefresh(c.now(), c.backend.SessionMaxAge()) {
		return s, nil
	}

	extended, err := c.backend.ExtendSession(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}
	if extended == nil {
		c.evict(token)
		return nil, nil
	}

	c.store(extended)
	slog.Debug("session refreshed", slog.String("user_id", extended.UserID))
	c.emit(AuthEvent{Type: EventTokenRefreshed, SessionID: extended.ID, UserID: extended.UserID, Session: copySession(extended)})
	return copySession(extended), nil
}

// SignOut はセッションを破棄し、SIGNED_OUTを通知する。
// 空・未知のトークンに対しては何もせず成功する。
func (c *Client) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	s, ok := c.cached(token)
	if !ok {
		found, err := c.backend.FindSession(ctx, token)
		if err != nil {
			return fmt.Errorf("failed to sign out: %w", err)
		}
		s = found
	}

	if err := c.backend.DeleteSession(ctx, token); err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	c.evict(token)

	if s != nil {
		slog.Info("user signed out", slog.String("user_id", s.UserID))
		c.emit(AuthEvent{Type: EventSignedOut, SessionID: token, UserID: s.UserID})
	}
	return nil
}

// SignOutUser はユーザーの全セッションを破棄し、セッションごとにSIGNED_OUTを通知する。
func (c *Client) SignOutUser(ctx context.Context, userID string) error {
	ids, err := c.backend.DeleteUserSessions(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to sign out user: %w", err)
	}

	c.mu.Lock()
	for token, e := range c.cache {
		if e.session.UserID == userID {
			delete(c.cache, token)
		}
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.emit(AuthEvent{Type: EventSignedOut, SessionID: id, UserID: userID})
	}
	return nil
}

// OnAuthStateChange はリスナーを登録し、登録解除用の関数を返す。
func (c *Client) OnAuthStateChange(l Listener) Unsubscribe {
	c.listenersMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	c.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.listenersMu.Lock()
			delete(c.listeners, id)
			c.listenersMu.Unlock()
		})
	}
}

func (c *Client) emit(ev AuthEvent) {
	c.listenersMu.Lock()
	snapshot := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		snapshot = append(snapshot, l)
	}
	c.listenersMu.Unlock()

	for _, l := range snapshot {
		l(ev)
	}
}

func (c *Client) cached(token string) (*model.Session, bool) {
	c.mu.RLock()
	e, ok := c.cache[token]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	now := c.now()
	if now.Sub(e.cachedAt) >= c.ttl || e.session.Expired(now) {
		c.evict(token)
		return nil, false
	}
	return copySession(&e.session), true
}

func (c *Client) store(s *model.Session) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.cache[s.ID] = cacheEntry{session: *s, cachedAt: c.now()}
}

func (c *Client) evict(token string) {
	c.mu.Lock()
	delete(c.cache, token)
	c.mu.Unlock()
}

func (c *Client) record(hit bool) {
	if c.recorder != nil && c.ttl > 0 {
		c.recorder.RecordSessionCacheLookup(hit)
	}
}

// janitor は期限切れのキャッシュエントリを定期的に削除する。
func (c *Client) janitor() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Client) sweep() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for token, e := range c.cache {
		if now.Sub(e.cachedAt) >= c.ttl || e.session.Expired(now) {
			delete(c.cache, token)
		}
	}
}

// cacheSize はキャッシュ中のエントリ数を返す。テスト用。
func (c *Client) cacheSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

func copySession(s *model.Session) *model.Session {
	cp := *s
	return &cp
}
