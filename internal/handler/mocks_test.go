package handler

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/smartmark/internal/middleware"
	"github.com/hitoshi/smartmark/internal/model"
	"github.com/hitoshi/smartmark/internal/preview"
	"github.com/hitoshi/smartmark/internal/session"
	"github.com/hitoshi/smartmark/internal/web"
)

// --- モック定義 ---

type mockSessionClient struct {
	getSessionFn func(ctx context.Context, token string) (*model.Session, error)
	getUserFn    func(ctx context.Context, token string) (*model.User, error)
	signOutFn    func(ctx context.Context, token string) error
	exchangeFn   func(ctx context.Context, code string) (*model.Session, error)
	refreshFn    func(ctx context.Context, token string) (*model.Session, error)

	mu        sync.Mutex
	listeners map[int]session.Listener
	nextID    int
}

func (m *mockSessionClient) GetSession(ctx context.Context, token string) (*model.Session, error) {
	if m.getSessionFn != nil {
		return m.getSessionFn(ctx, token)
	}
	return nil, nil
}

func (m *mockSessionClient) GetUser(ctx context.Context, token string) (*model.User, error) {
	if m.getUserFn != nil {
		return m.getUserFn(ctx, token)
	}
	return nil, nil
}

func (m *mockSessionClient) SignOut(ctx context.Context, token string) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx, token)
	}
	return nil
}

func (m *mockSessionClient) ExchangeCodeForSession(ctx context.Context, code string) (*model.Session, error) {
	if m.exchangeFn != nil {
		return m.exchangeFn(ctx, code)
	}
	return nil, nil
}

func (m *mockSessionClient) Refresh(ctx context.Context, token string) (*model.Session, error) {
	if m.refreshFn != nil {
		return m.refreshFn(ctx, token)
	}
	return m.GetSession(ctx, token)
}

func (m *mockSessionClient) OnAuthStateChange(l session.Listener) session.Unsubscribe {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listeners == nil {
		m.listeners = make(map[int]session.Listener)
	}
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

func (m *mockSessionClient) emit(ev session.AuthEvent) {
	m.mu.Lock()
	ls := make([]session.Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		ls = append(ls, l)
	}
	m.mu.Unlock()
	for _, l := range ls {
		l(ev)
	}
}

func (m *mockSessionClient) listenerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

// signedInClient は token のみを有効なセッションとして扱うモックを返す。
func signedInClient(token string, user *model.User) *mockSessionClient {
	return &mockSessionClient{
		getSessionFn: func(ctx context.Context, got string) (*model.Session, error) {
			if got != token {
				return nil, nil
			}
			return &model.Session{
				ID:        token,
				UserID:    user.ID,
				ExpiresAt: time.Now().Add(time.Hour),
			}, nil
		},
		getUserFn: func(ctx context.Context, got string) (*model.User, error) {
			if got != token {
				return nil, nil
			}
			return user, nil
		},
	}
}

type mockStore struct {
	createFn func(ctx context.Context, userID, title, url string) (*model.Bookmark, error)
	listFn   func(ctx context.Context, userID string) ([]*model.Bookmark, error)
	deleteFn func(ctx context.Context, userID, bookmarkID string) error
}

func (m *mockStore) Create(ctx context.Context, userID, title, url string) (*model.Bookmark, error) {
	if m.createFn != nil {
		return m.createFn(ctx, userID, title, url)
	}
	return &model.Bookmark{ID: "bm-new", UserID: userID, Title: title, URL: url, CreatedAt: time.Now()}, nil
}

func (m *mockStore) List(ctx context.Context, userID string) ([]*model.Bookmark, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockStore) Delete(ctx context.Context, userID, bookmarkID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, userID, bookmarkID)
	}
	return nil
}

type mockStateVerifier struct {
	issueFn  func() (string, error)
	verifyFn func(queryState, cookieState string) error
}

func (m *mockStateVerifier) Issue() (string, error) {
	if m.issueFn != nil {
		return m.issueFn()
	}
	return "state-123", nil
}

func (m *mockStateVerifier) Verify(queryState, cookieState string) error {
	if m.verifyFn != nil {
		return m.verifyFn(queryState, cookieState)
	}
	return nil
}

type mockLoginURL struct{}

func (mockLoginURL) GetLoginURL(state string) string {
	return "https://accounts.google.com/o/oauth2/auth?state=" + state
}

type mockPreviewFetcher struct {
	fetchFn func(ctx context.Context, rawURL string) (*preview.Preview, error)
}

func (m *mockPreviewFetcher) Fetch(ctx context.Context, rawURL string) (*preview.Preview, error) {
	if m.fetchFn != nil {
		return m.fetchFn(ctx, rawURL)
	}
	return &preview.Preview{URL: rawURL}, nil
}

type mockUserService struct {
	withdrawFn func(ctx context.Context, userID string) error
}

func (m *mockUserService) Withdraw(ctx context.Context, userID string) error {
	if m.withdrawFn != nil {
		return m.withdrawFn(ctx, userID)
	}
	return nil
}

// --- ヘルパー ---

func newTestRenderer(t *testing.T) *web.Renderer {
	t.Helper()
	r, err := web.NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	return r
}

func withUserID(req *http.Request, userID string) *http.Request {
	return req.WithContext(middleware.ContextWithUserID(req.Context(), userID))
}

func withSessionCookie(req *http.Request, token string) *http.Request {
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: token})
	return req
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func containsStr(s, substr string) bool {
	return strings.Contains(s, substr)
}
