package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/smartmark/internal/model"
)

// Channel はbookmarks_notifyトリガーが通知するチャネル名。
const Channel = "bookmark_changes"

const (
	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
	pingInterval         = 90 * time.Second
)

// Publisher はデコード済みのイベントを受け取る。Hub が実装する。
type Publisher interface {
	Publish(ev model.BookmarkEvent)
}

// PGListener はPostgreSQLのLISTEN/NOTIFYでbookmarksの変更を受信し、Publisherへ流す。
type PGListener struct {
	listener  *pq.Listener
	publisher Publisher
}

// NewPGListener はbookmark_changesチャネルをLISTENするPGListenerを生成する。
func NewPGListener(databaseURL string, publisher Publisher) (*PGListener, error) {
	l := pq.NewListener(databaseURL, minReconnectInterval, maxReconnectInterval, logListenerEvent)
	if err := l.Listen(Channel); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", Channel, err)
	}
	return &PGListener{listener: l, publisher: publisher}, nil
}

// Run はctxがキャンセルされるまで通知を受信し続ける。
func (p *PGListener) Run(ctx context.Context) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	slog.Info("realtime listener started", slog.String("channel", Channel))

	for {
		select {
		case <-ctx.Done():
			slog.Info("realtime listener stopped")
			return nil
		case n, ok := <-p.listener.Notify:
			if !ok {
				return fmt.Errorf("listener notify channel closed")
			}
			if n == nil {
				// 再接続後は取りこぼしの可能性がある。クライアント側は再読込で整合させる。
				slog.Warn("realtime listener reconnected, notifications may have been missed")
				continue
			}
			p.handle(n.Extra)
		case <-ticker.C:
			if err := p.listener.Ping(); err != nil {
				slog.Warn("realtime listener ping failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Close はLISTEN接続を閉じる。
func (p *PGListener) Close() error {
	return p.listener.Close()
}

func (p *PGListener) handle(payload string) {
	ev, err := DecodeEvent(payload)
	if err != nil {
		slog.Warn("failed to decode bookmark notification",
			slog.String("error", err.Error()),
		)
		return
	}
	p.publisher.Publish(ev)
}

// DecodeEvent はトリガーが送るJSONペイロードをBookmarkEventに変換する。
func DecodeEvent(payload string) (model.BookmarkEvent, error) {
	var ev model.BookmarkEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ev, fmt.Errorf("invalid payload: %w", err)
	}
	switch ev.Type {
	case model.BookmarkEventInsert, model.BookmarkEventDelete:
	default:
		return ev, fmt.Errorf("unknown event type %q", ev.Type)
	}
	if ev.Bookmark.ID == "" || ev.Bookmark.UserID == "" {
		return ev, fmt.Errorf("payload is missing id or user_id")
	}
	return ev, nil
}

func logListenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		slog.Info("realtime listener connected")
	case pq.ListenerEventDisconnected:
		slog.Warn("realtime listener disconnected", slog.Any("error", err))
	case pq.ListenerEventReconnected:
		slog.Info("realtime listener reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		slog.Warn("realtime listener connection attempt failed", slog.Any("error", err))
	}
}
