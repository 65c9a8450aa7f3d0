package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/smartmark/internal/middleware"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// Withdraw はユーザーの退会処理を実行する。
	// ブックマーク、セッション、ユーザーの順に削除する。
	Withdraw(ctx context.Context, userID string) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	cookies middleware.SessionConfig
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, cookies middleware.SessionConfig) *UserHandler {
	return &UserHandler{
		service: service,
		cookies: cookies,
	}
}

// Withdraw はユーザーの退会処理を実行し、セッションCookieを削除する。
// DELETE /api/users/me
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Withdraw(r.Context(), userID); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	middleware.ClearSessionCookie(w, h.cookies)
	w.WriteHeader(http.StatusNoContent)
}
