// Package web はサーバー描画ページのテンプレートと静的ファイルを提供する。
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

const layoutFile = "layout.html"

// Page は全ページ共通のテンプレートデータ。ページ固有の値はDataに入れる。
type Page struct {
	Title     string
	CSRFToken string
	Data      any
}

// Renderer はレイアウトと各ページを組み合わせたテンプレートを保持する。
type Renderer struct {
	pages map[string]*template.Template
}

var funcs = template.FuncMap{
	"host": func(raw string) string {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return raw
		}
		return u.Hostname()
	},
	"datetime": func(t time.Time) string {
		return t.UTC().Format(time.RFC3339)
	},
	"date": func(t time.Time) string {
		return t.Local().Format("2006-01-02 15:04")
	},
}

// NewRenderer は埋め込みテンプレートを読み込む。ページごとにlayout.htmlと組み合わせて解析する。
func NewRenderer() (*Renderer, error) {
	pages, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	r := &Renderer{pages: make(map[string]*template.Template)}
	for _, page := range pages {
		name := page[len("templates/"):]
		if name == layoutFile {
			continue
		}
		t, err := template.New(name).Funcs(funcs).ParseFS(templateFS, "templates/"+layoutFile, page)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		r.pages[name] = t
	}
	return r, nil
}

// Render はページを描画する。途中で失敗した場合に部分的なHTMLを返さないよう、バッファに描画してから書き込む。
func (r *Renderer) Render(w http.ResponseWriter, status int, name string, page Page) {
	t, ok := r.pages[name]
	if !ok {
		slog.Error("template not found", slog.String("template", name))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", page); err != nil {
		slog.Error("failed to render template",
			slog.String("template", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// StaticHandler は /static/ 配下の埋め込みファイルを配信する。
func StaticHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServerFS(sub))
}
