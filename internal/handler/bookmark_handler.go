package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/smartmark/internal/dashboard"
	"github.com/hitoshi/smartmark/internal/middleware"
	"github.com/hitoshi/smartmark/internal/model"
	"github.com/hitoshi/smartmark/internal/preview"
)

const maxBookmarkBodySize = 16 << 10

// PreviewFetcher はURLプレビューを取得する。preview.Service が実装する。
type PreviewFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*preview.Preview, error)
}

// BookmarkHandler はブックマークAPIのHTTPハンドラー。
type BookmarkHandler struct {
	store   dashboard.Store
	preview PreviewFetcher
}

// NewBookmarkHandler はBookmarkHandlerを生成する。
func NewBookmarkHandler(store dashboard.Store, preview PreviewFetcher) *BookmarkHandler {
	return &BookmarkHandler{store: store, preview: preview}
}

type createBookmarkRequest struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// List はログインユーザーのブックマーク一覧を新しい順で返す。
// GET /api/bookmarks
func (h *BookmarkHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	bookmarks, err := h.store.List(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if bookmarks == nil {
		bookmarks = []*model.Bookmark{}
	}
	writeJSON(w, http.StatusOK, bookmarks)
}

// Create はブックマークを追加する。
// POST /api/bookmarks
func (h *BookmarkHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createBookmarkRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBookmarkBodySize)).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	b, err := h.store.Create(r.Context(), userID, req.Title, req.URL)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// Delete はブックマークを削除する。
// DELETE /api/bookmarks/{id}
func (h *BookmarkHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Preview はURLのタイトル等を取得する。
// GET /api/bookmarks/preview?url=xxx
func (h *BookmarkHandler) Preview(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUserID(w, r); !ok {
		return
	}

	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewMissingFieldsError())
		return
	}

	p, err := h.preview.Fetch(r.Context(), rawURL)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// requireUserID はコンテキストのユーザーIDを返す。無い場合は401を書き込む。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError(""))
		return "", false
	}
	return userID, true
}
