// Package realtime はbookmarksテーブルの変更フィードをユーザー単位で配信する。
package realtime

import (
	"log/slog"
	"sync"

	"github.com/hitoshi/smartmark/internal/model"
)

// DefaultBufferSize は購読者ごとのイベントバッファ長。
const DefaultBufferSize = 32

// Recorder は配信状況を記録する。metrics.Collector が実装する。
type Recorder interface {
	RecordRealtimeEvent(eventType string)
	RecordRealtimeDropped()
	SetRealtimeSubscribers(n int)
}

type nopRecorder struct{}

func (nopRecorder) RecordRealtimeEvent(string) {}
func (nopRecorder) RecordRealtimeDropped()     {}
func (nopRecorder) SetRealtimeSubscribers(int) {}

// Hub は変更イベントを所有ユーザーの購読者にファンアウトする。
// 配信はノンブロッキングで、バッファが埋まった購読者へのイベントは破棄する。
type Hub struct {
	bufferSize int
	recorder   Recorder

	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	count  int
	closed bool
}

// NewHub はHubを生成する。bufferSizeが0以下の場合はDefaultBufferSizeを使う。
func NewHub(bufferSize int, recorder Recorder) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Hub{
		bufferSize: bufferSize,
		recorder:   recorder,
		subs:       make(map[string]map[*Subscription]struct{}),
	}
}

// Subscription はユーザー単位の変更フィード購読。
type Subscription struct {
	userID string
	ch     chan model.BookmarkEvent
	hub    *Hub
	once   sync.Once
}

// Events はイベントを受信するチャネルを返す。Close後またはHubのClose後にクローズされる。
func (s *Subscription) Events() <-chan model.BookmarkEvent {
	return s.ch
}

// UserID は購読対象のユーザーIDを返す。
func (s *Subscription) UserID() string {
	return s.userID
}

// Close は購読を解除する。複数回呼んでも安全。
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Subscribe は指定ユーザーの変更フィードを購読する。
// Close済みのHubに対してはクローズ済みチャネルを持つ購読を返す。
func (h *Hub) Subscribe(userID string) *Subscription {
	sub := &Subscription{
		userID: userID,
		ch:     make(chan model.BookmarkEvent, h.bufferSize),
		hub:    h,
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		sub.once.Do(func() { close(sub.ch) })
		return sub
	}

	set, ok := h.subs[userID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[userID] = set
	}
	set[sub] = struct{}{}
	h.count++
	h.recorder.SetRealtimeSubscribers(h.count)

	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.subs[sub.userID]; ok {
		if _, ok := set[sub]; ok {
			delete(set, sub)
			h.count--
			h.recorder.SetRealtimeSubscribers(h.count)
			if len(set) == 0 {
				delete(h.subs, sub.userID)
			}
		}
	}
	sub.once.Do(func() { close(sub.ch) })
}

// Publish はイベントを所有ユーザーの全購読者へ配信する。
func (h *Hub) Publish(ev model.BookmarkEvent) {
	h.recorder.RecordRealtimeEvent(string(ev.Type))

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}

	for sub := range h.subs[ev.Bookmark.UserID] {
		select {
		case sub.ch <- ev:
		default:
			h.recorder.RecordRealtimeDropped()
			slog.Warn("realtime subscriber buffer full, event dropped",
				slog.String("user_id", sub.userID),
				slog.String("bookmark_id", ev.Bookmark.ID),
			)
		}
	}
}

// Subscribers は現在の購読者数を返す。
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Close は全購読を終了する。複数回呼んでも安全。
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for _, set := range h.subs {
		for sub := range set {
			sub.once.Do(func() { close(sub.ch) })
		}
	}
	h.subs = make(map[string]map[*Subscription]struct{})
	h.count = 0
	h.recorder.SetRealtimeSubscribers(0)
}
