// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// IdPから取得した情報で作成され、アプリケーションからは読み取りのみ行う。
type User struct {
	ID        string
	Email     string
	Name      string
	Metadata  map[string]string // IdP由来の付加情報（email, picture, email_verified 等）
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DisplayEmail は表示用のメールアドレスを返す。
// Emailが空の場合はMetadataのemailにフォールバックし、どちらも無い場合は"User"を返す。
func (u *User) DisplayEmail() string {
	if u == nil {
		return "User"
	}
	if u.Email != "" {
		return u.Email
	}
	if email := u.Metadata["email"]; email != "" {
		return email
	}
	return "User"
}

// Identity は外部IdPとの紐付け情報を表す。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
// IDはCookieに格納される不透明なトークン。
type Session struct {
	ID          string
	UserID      string
	ExpiresAt   time.Time
	CreatedAt   time.Time
	RefreshedAt time.Time
}

// Expired はセッションが指定時刻時点で期限切れかを返す。
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// NeedsRefresh はセッションが有効期間の後半に入っているかを返す。
// 後半に入ったセッションはスライディング方式で延長する。
func (s *Session) NeedsRefresh(now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 || s.Expired(now) {
		return false
	}
	return s.ExpiresAt.Sub(now) < maxAge/2
}
