package security

import "testing"

func TestTitleSanitizer_Sanitize(t *testing.T) {
	sanitizer := NewTitleSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"プレーンテキストはそのまま", "Go言語入門", "Go言語入門"},
		{"空文字列", "", ""},
		{"タグを除去する", "<b>太字</b>タイトル", "太字タイトル"},
		{"scriptは中身ごと除去する", `Title<script>alert("x")</script>`, "Title"},
		{"イベント属性付きタグを除去する", `<img src=x onerror=alert(1)>画像`, "画像"},
		{"エンティティを復元する", "Tom &amp; Jerry", "Tom & Jerry"},
		{"アンパサンドを二重エスケープしない", "Tom & Jerry", "Tom & Jerry"},
		{"連続空白をまとめる", "  Hello \n\t  World  ", "Hello World"},
		{"空白のみは空になる", "   \n ", ""},
		{"タグのみは空になる", "<br><hr>", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizer.Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTitleSanitizer_Idempotent(t *testing.T) {
	sanitizer := NewTitleSanitizer()

	inputs := []string{
		"<p>Hello</p> World",
		"A &amp; B",
		"  spaced   out  ",
	}
	for _, in := range inputs {
		once := sanitizer.Sanitize(in)
		twice := sanitizer.Sanitize(once)
		if once != twice {
			t.Errorf("Sanitize is not stable for %q: %q -> %q", in, once, twice)
		}
	}
}

func TestTitleSanitizerInterface(t *testing.T) {
	var _ TitleSanitizerService = NewTitleSanitizer()
}
