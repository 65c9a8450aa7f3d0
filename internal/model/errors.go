// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, bookmark, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeMissingFields    = "MISSING_FIELDS"
	ErrCodeInvalidURL       = "INVALID_URL"
	ErrCodeFieldTooLong     = "FIELD_TOO_LONG"
	ErrCodeBookmarkNotFound = "BOOKMARK_NOT_FOUND"
	ErrCodeUserNotFound     = "USER_NOT_FOUND"
	ErrCodeSSRFBlocked      = "SSRF_BLOCKED"
	ErrCodeFetchFailed      = "FETCH_FAILED"
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// カテゴリ
const (
	CategoryAuth       = "auth"
	CategoryValidation = "validation"
	CategoryBookmark   = "bookmark"
	CategorySystem     = "system"
)

// NewUnauthorizedError は未認証エラーを生成する。
// messageが空の場合は汎用メッセージを使用する。
func NewUnauthorizedError(message string) *APIError {
	if message == "" {
		message = "You must be logged in"
	}
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  message,
		Category: CategoryAuth,
		Action:   "Sign in again.",
	}
}

// NewMissingFieldsError はタイトルまたはURLが空の場合のエラーを生成する。
func NewMissingFieldsError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingFields,
		Message:  "Please fill in both fields",
		Category: CategoryValidation,
		Action:   "Enter both a title and a URL.",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("Invalid URL: %s", reason),
		Category: CategoryValidation,
		Action:   "Enter a URL starting with http:// or https://.",
	}
}

// NewFieldTooLongError は入力が上限長を超えた場合のエラーを生成する。
func NewFieldTooLongError(field string, max int) *APIError {
	return &APIError{
		Code:     ErrCodeFieldTooLong,
		Message:  fmt.Sprintf("%s must be at most %d characters", field, max),
		Category: CategoryValidation,
		Action:   "Shorten the value and try again.",
	}
}

// NewBookmarkNotFoundError はブックマーク未検出エラーを生成する。
func NewBookmarkNotFoundError(bookmarkID string) *APIError {
	return &APIError{
		Code:     ErrCodeBookmarkNotFound,
		Message:  fmt.Sprintf("Bookmark not found: %s", bookmarkID),
		Category: CategoryBookmark,
		Action:   "Reload the page to see your current bookmarks.",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found.",
		Category: CategoryAuth,
		Action:   "Sign in again.",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "Access to the given URL is blocked by security policy.",
		Category: CategoryValidation,
		Action:   "Use the URL of a publicly reachable website.",
	}
}

// NewFetchFailedError はプレビュー取得失敗エラーを生成する。
func NewFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("Failed to fetch the URL: %s", reason),
		Category: CategoryBookmark,
		Action:   "Check the URL or enter the title manually.",
	}
}

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "Failed to parse the request body.",
		Category: CategoryValidation,
		Action:   "Send a valid JSON or form request.",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "An internal error occurred.",
		Category: CategorySystem,
		Action:   "Wait a moment and try again.",
	}
}
