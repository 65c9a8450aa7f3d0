// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/smartmark/internal/model"
)

// SessionCookieName はセッショントークンを保持するCookieの名前。
const SessionCookieName = "smartmark_session"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userIDContextKey    = contextKey("user_id")
	sessionIDContextKey = contextKey("session_id")
	userIDSinkKey       = contextKey("user_id_sink")
)

// SessionRefresher はセッションの解決とスライディング延長を行う。session.Client が実装する。
type SessionRefresher interface {
	Refresh(ctx context.Context, token string) (*model.Session, error)
}

// SessionConfig はセッションCookieの再発行に使う設定。
type SessionConfig struct {
	CookieDomain string
	CookieSecure bool
}

// NewSessionMiddleware はCookieのセッションを検証し、ユーザーIDとセッションIDをコンテキストに注入する。
// 未認証の場合、/api/ 配下は401のJSONを返し、それ以外は "/" へ303でリダイレクトする。
// 延長されたセッションはCookieの有効期限も更新する。
func NewSessionMiddleware(sessions SessionRefresher, config SessionConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, ok := resolveSession(w, r, sessions, config)
			if !ok {
				rejectUnauthenticated(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewOptionalSessionMiddleware は有効なセッションがあればコンテキストに注入し、無くてもそのまま通す。
func NewOptionalSessionMiddleware(sessions SessionRefresher, config SessionConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ctx, ok := resolveSession(w, r, sessions, config); ok {
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func resolveSession(w http.ResponseWriter, r *http.Request, sessions SessionRefresher, config SessionConfig) (context.Context, bool) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, false
	}

	start := time.Now()
	session, err := sessions.Refresh(r.Context(), cookie.Value)
	if err != nil {
		slog.Error("failed to resolve session", slog.String("error", err.Error()))
		return nil, false
	}
	if session == nil {
		return nil, false
	}

	if !session.RefreshedAt.Before(start) {
		SetSessionCookie(w, session, config)
	}

	if sink, ok := r.Context().Value(userIDSinkKey).(*string); ok {
		*sink = session.UserID
	}

	ctx := context.WithValue(r.Context(), userIDContextKey, session.UserID)
	ctx = context.WithValue(ctx, sessionIDContextKey, session.ID)
	return ctx, true
}

// withUserIDSink は内側のミドルウェアで解決したユーザーIDを外側へ返すための格納先を設定する。
func withUserIDSink(ctx context.Context, sink *string) context.Context {
	return context.WithValue(ctx, userIDSinkKey, sink)
}

func rejectUnauthenticated(w http.ResponseWriter, r *http.Request) {
	if IsAPIRequest(r) {
		WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError(""))
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// IsAPIRequest はJSON APIへのリクエストかを判定する。
func IsAPIRequest(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/")
}

// SetSessionCookie はセッションの有効期限に合わせたHttpOnly Cookieを設定する。
func SetSessionCookie(w http.ResponseWriter, session *model.Session, config SessionConfig) {
	maxAge := int(time.Until(session.ExpiresAt).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie はセッションCookieを削除する。
func ClearSessionCookie(w http.ResponseWriter, config SessionConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// SessionToken はリクエストのセッションCookieの値を返す。無い場合は空文字列。
func SessionToken(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// SessionIDFromContext はリクエストコンテキストからセッションIDを取得する。
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDContextKey).(string)
	return id
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// ContextWithSession はコンテキストにユーザーIDとセッションIDを注入する。
func ContextWithSession(ctx context.Context, userID, sessionID string) context.Context {
	ctx = context.WithValue(ctx, userIDContextKey, userID)
	return context.WithValue(ctx, sessionIDContextKey, sessionID)
}
