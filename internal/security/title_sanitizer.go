// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TitleSanitizer はブックマークのタイトルからマークアップを取り除き、
// SSRFGuard はURLプレビュー取得時の内部ネットワークへのアクセスを防ぐ。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TitleSanitizerService はプレーンテキストのタイトルを得るためのインターフェース。
type TitleSanitizerService interface {
	// Sanitize は全てのタグを除去し、HTMLエンティティを復元し、連続する空白を1つにまとめる。
	// 出力はテンプレート側でエスケープされる前提のプレーンテキスト。
	Sanitize(raw string) string
}

// titleSanitizer はTitleSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフ。
type titleSanitizer struct {
	policy *bluemonday.Policy
}

// NewTitleSanitizer はStrictPolicyに基づくTitleSanitizerServiceを生成する。
func NewTitleSanitizer() *titleSanitizer {
	return &titleSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタイトルをプレーンテキストに正規化する。
func (s *titleSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := html.UnescapeString(s.policy.Sanitize(raw))
	return strings.Join(strings.Fields(stripped), " ")
}
