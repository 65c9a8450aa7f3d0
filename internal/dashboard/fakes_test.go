package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/smartmark/internal/model"
	"github.com/hitoshi/smartmark/internal/session"
)

// --- モック ---

type fakeSessions struct {
	mu         sync.Mutex
	sessions   map[string]*model.Session
	users      map[string]*model.User
	getErr     error
	signOutErr error
	listeners  map[int]session.Listener
	nextID     int
	signedOut  []string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		sessions:  make(map[string]*model.Session),
		users:     make(map[string]*model.User),
		listeners: make(map[int]session.Listener),
	}
}

func (f *fakeSessions) addUser(token string, user *model.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[token] = &model.Session{ID: token, UserID: user.ID, ExpiresAt: time.Now().Add(time.Hour)}
	f.users[user.ID] = user
}

// drop はイベントを発行せずにセッションを消す。有効期限切れを再現する。
func (f *fakeSessions) drop(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, token)
}

func (f *fakeSessions) GetSession(ctx context.Context, token string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.sessions[token], nil
}

func (f *fakeSessions) GetUser(ctx context.Context, token string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	s := f.sessions[token]
	if s == nil {
		return nil, nil
	}
	return f.users[s.UserID], nil
}

func (f *fakeSessions) SignOut(ctx context.Context, token string) error {
	f.mu.Lock()
	if f.signOutErr != nil {
		f.mu.Unlock()
		return f.signOutErr
	}
	s := f.sessions[token]
	delete(f.sessions, token)
	f.signedOut = append(f.signedOut, token)
	f.mu.Unlock()

	if s != nil {
		f.emit(session.AuthEvent{Type: session.EventSignedOut, SessionID: token, UserID: s.UserID})
	}
	return nil
}

func (f *fakeSessions) OnAuthStateChange(l session.Listener) session.Unsubscribe {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = l
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

func (f *fakeSessions) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *fakeSessions) emit(ev session.AuthEvent) {
	f.mu.Lock()
	snapshot := make([]session.Listener, 0, len(f.listeners))
	for _, l := range f.listeners {
		snapshot = append(snapshot, l)
	}
	f.mu.Unlock()

	for _, l := range snapshot {
		l(ev)
	}
}

type fakeStore struct {
	mu        sync.Mutex
	createFn  func(ctx context.Context, userID, title, url string) (*model.Bookmark, error)
	listFn    func(ctx context.Context, userID string) ([]*model.Bookmark, error)
	deleteFn  func(ctx context.Context, userID, id string) error
	listCalls int
	created   []*model.Bookmark
}

func (s *fakeStore) Create(ctx context.Context, userID, title, url string) (*model.Bookmark, error) {
	if s.createFn != nil {
		return s.createFn(ctx, userID, title, url)
	}
	b := &model.Bookmark{ID: "new-" + title, UserID: userID, Title: title, URL: url, CreatedAt: time.Now()}
	s.mu.Lock()
	s.created = append(s.created, b)
	s.mu.Unlock()
	return b, nil
}

func (s *fakeStore) List(ctx context.Context, userID string) ([]*model.Bookmark, error) {
	s.mu.Lock()
	s.listCalls++
	s.mu.Unlock()
	if s.listFn != nil {
		return s.listFn(ctx, userID)
	}
	return nil, nil
}

func (s *fakeStore) Delete(ctx context.Context, userID, id string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, userID, id)
	}
	return nil
}

func (s *fakeStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls
}

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func bm(id, userID string, minutes int) *model.Bookmark {
	return &model.Bookmark{
		ID:        id,
		UserID:    userID,
		Title:     "title " + id,
		URL:       "https://example.com/" + id,
		CreatedAt: baseTime.Add(time.Duration(minutes) * time.Minute),
	}
}

func ids(items []model.Bookmark) []string {
	out := make([]string, len(items))
	for i, b := range items {
		out[i] = b.ID
	}
	return out
}
