// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/smartmark/internal/dashboard"
	"github.com/hitoshi/smartmark/internal/middleware"
	"github.com/hitoshi/smartmark/internal/model"
	"github.com/hitoshi/smartmark/internal/web"
)

const (
	oauthStateCookie = "oauth_state"
	oauthStateMaxAge = 600 // 10分

	defaultAuthErrorMessage = "Something went wrong during sign in."
)

// SessionClient はハンドラーが利用するセッション操作。session.Client が実装する。
type SessionClient interface {
	dashboard.Sessions
	ExchangeCodeForSession(ctx context.Context, code string) (*model.Session, error)
}

// LoginURLProvider はOAuth認証URLを生成する。auth.Service が実装する。
type LoginURLProvider interface {
	GetLoginURL(state string) string
}

// StateVerifier はOAuthのstateパラメータを発行・検証する。auth.StateSigner が実装する。
type StateVerifier interface {
	Issue() (string, error)
	Verify(queryState, cookieState string) error
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	sessions SessionClient
	login    LoginURLProvider
	states   StateVerifier
	renderer *web.Renderer
	cookies  middleware.SessionConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(
	sessions SessionClient,
	login LoginURLProvider,
	states StateVerifier,
	renderer *web.Renderer,
	cookies middleware.SessionConfig,
) *AuthHandler {
	return &AuthHandler{
		sessions: sessions,
		login:    login,
		states:   states,
		renderer: renderer,
		cookies:  cookies,
	}
}

// Login はGoogle OAuthフローを開始する。
// GET /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := h.states.Issue()
	if err != nil {
		slog.Error("failed to issue oauth state", slog.String("error", err.Error()))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	h.setStateCookie(w, state, oauthStateMaxAge)
	http.Redirect(w, r, h.login.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// GET /auth/callback?code=xxx&state=yyy
//
//  1. プロバイダーがerrorを返した場合は /auth-error へ
//  2. codeが無い場合は交換せずに / へ
//  3. stateが一致しない場合は /auth-error?error=invalid_state へ
//  4. 交換に失敗した場合は / へ（再試行しない）
//  5. 成功した場合はセッションCookieを設定して /dashboard へ
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if providerErr := q.Get("error"); providerErr != "" {
		slog.Warn("oauth provider returned error", slog.String("error", providerErr))
		h.clearStateCookie(w)
		redirectToAuthError(w, r, providerErr)
		return
	}

	code := q.Get("code")
	if code == "" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	var cookieState string
	if c, err := r.Cookie(oauthStateCookie); err == nil {
		cookieState = c.Value
	}
	h.clearStateCookie(w)

	if err := h.states.Verify(q.Get("state"), cookieState); err != nil {
		slog.Warn("oauth state verification failed", slog.String("error", err.Error()))
		redirectToAuthError(w, r, "invalid_state")
		return
	}

	session, err := h.sessions.ExchangeCodeForSession(r.Context(), code)
	if err != nil || session == nil {
		if err != nil {
			slog.Error("oauth code exchange failed", slog.String("error", err.Error()))
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	middleware.SetSessionCookie(w, session, h.cookies)
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// Redirect はログイン直後にダッシュボードへ移動する中継ページを表示する。
// GET /auth/redirect
func (h *AuthHandler) Redirect(w http.ResponseWriter, r *http.Request) {
	h.renderer.Render(w, http.StatusOK, "redirect.html", web.Page{
		Title:     "Signing in",
		CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
	})
}

// AuthError はサインイン失敗画面を表示する。
// GET /auth-error?error=xxx
func (h *AuthHandler) AuthError(w http.ResponseWriter, r *http.Request) {
	message := r.URL.Query().Get("error")
	if message == "" {
		message = defaultAuthErrorMessage
	}
	h.renderer.Render(w, http.StatusOK, "auth_error.html", web.Page{
		Title:     "Sign in failed",
		CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
		Data:      struct{ Message string }{message},
	})
}

// Logout はセッションを破棄してトップページへ戻る。
// 破棄に失敗した場合はCookieを残したままダッシュボードへ戻す。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	nav := &navigation{}
	navbar := dashboard.NewNavbar(h.sessions, middleware.SessionToken(r), nav.Navigate)

	if err := navbar.SignOut(r.Context()); err != nil {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}

	middleware.ClearSessionCookie(w, h.cookies)
	http.Redirect(w, r, nav.PathOr("/"), http.StatusSeeOther)
}

// meResponse はログインユーザー情報のAPIレスポンス。
type meResponse struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
}

// Me は現在のログインユーザー情報を返す。
// GET /api/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.sessions.GetUser(r.Context(), middleware.SessionToken(r))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if user == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError(""))
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		ID:      user.ID,
		Email:   user.DisplayEmail(),
		Name:    user.Name,
		Picture: user.Metadata["picture"],
	})
}

func (h *AuthHandler) setStateCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    value,
		Path:     "/auth",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.cookies.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearStateCookie(w http.ResponseWriter) {
	h.setStateCookie(w, "", -1)
}

func redirectToAuthError(w http.ResponseWriter, r *http.Request, reason string) {
	http.Redirect(w, r, "/auth-error?error="+url.QueryEscape(reason), http.StatusSeeOther)
}
