// Package model はドメインモデルを定義する。
package model

import "time"

// Bookmark はユーザーが保存したURLブックマークを表す。
// 更新操作は存在せず、作成と削除のみ行う。
type Bookmark struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	Title           string     `json:"title"`
	URL             string     `json:"url"`
	CreatedAt       time.Time  `json:"created_at"`
	HatebuCount     int        `json:"hatebu_count"`
	HatebuFetchedAt *time.Time `json:"hatebu_fetched_at,omitempty"`
}

// BookmarkEventType は変更フィードのイベント種別を表す。
type BookmarkEventType string

const (
	// BookmarkEventInsert はブックマークの追加イベント。
	BookmarkEventInsert BookmarkEventType = "INSERT"
	// BookmarkEventDelete はブックマークの削除イベント。
	BookmarkEventDelete BookmarkEventType = "DELETE"
)

// BookmarkEvent はbookmarksテーブルの行単位の変更通知を表す。
// DELETEの場合、BookmarkにはIDとUserIDのみが設定される。
type BookmarkEvent struct {
	Type     BookmarkEventType `json:"type"`
	Bookmark Bookmark          `json:"record"`
}
