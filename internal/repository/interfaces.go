// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/smartmark/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// UpdateProfile はIdPから再取得したemail、name、metadataでユーザーを更新する。
	UpdateProfile(ctx context.Context, user *model.User) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentities、sessions、bookmarksはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)

	// ListByUserID はユーザーに紐付くidentityを作成順に返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Identity, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// Extend はセッションの有効期限を延長する。対象が無い場合はfalseを返す。
	Extend(ctx context.Context, id string, expiresAt, refreshedAt time.Time) (bool, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除し、削除したセッションIDを返す。
	DeleteByUserID(ctx context.Context, userID string) ([]string, error)
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// BookmarkRepository はブックマークの永続化インターフェース。
// すべての操作は所有ユーザーでスコープされる。
type BookmarkRepository interface {
	// Create はブックマークを作成する。IDとCreatedAtは呼び出し側で設定済みであること。
	Create(ctx context.Context, bookmark *model.Bookmark) error

	// ListByUserID はユーザーのブックマークをcreated_at降順（同時刻はid降順）で返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Bookmark, error)

	// DeleteByIDAndUserID は所有者が一致するブックマークを削除する。
	// 該当行が無い場合はfalseを返す。
	DeleteByIDAndUserID(ctx context.Context, id, userID string) (bool, error)

	// DeleteByUserID はユーザーの全ブックマークを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// HatebuBookmarkRepository ははてなブックマーク数の取得に必要なブックマーク操作のインターフェース。
type HatebuBookmarkRepository interface {
	// ListURLsNeedingHatebuFetch ははてなブックマーク数の取得が必要なURLを返す。
	// 未取得のものを優先し、次に取得日時が古い順に並べる。
	ListURLsNeedingHatebuFetch(ctx context.Context, ttl time.Duration, limit int) ([]string, error)

	// UpdateHatebuCountByURL は同一URLを持つ全ブックマークのはてなブックマーク数と取得日時を更新する。
	UpdateHatebuCountByURL(ctx context.Context, url string, count int, fetchedAt time.Time) error
}
