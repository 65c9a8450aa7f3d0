// Package preview はブックマーク追加時のURLプレビュー（タイトル・サイト名・アイコン）を取得する。
package preview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/smartmark/internal/bookmark"
	"github.com/hitoshi/smartmark/internal/model"
	"github.com/hitoshi/smartmark/internal/security"
)

const userAgent = "Smartmark/1.0 (+link preview)"

// Preview はURLプレビューの結果。
type Preview struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	SiteName   string `json:"site_name"`
	FaviconURL string `json:"favicon_url"`
	IsFeed     bool   `json:"is_feed"`
	FeedURL    string `json:"feed_url,omitempty"`
}

// SSRFValidator はSSRF検証のインターフェース。security.SSRFGuardService が実装する。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// Recorder はプレビュー取得のメトリクス記録インターフェース。
type Recorder interface {
	RecordPreviewFetch(result string, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordPreviewFetch(string, time.Duration) {}

// Service はURLプレビュー取得サービス。
type Service struct {
	guard     SSRFValidator
	sanitizer security.TitleSanitizerService
	timeout   time.Duration
	maxSize   int64
	recorder  Recorder
}

// NewService はServiceを生成する。recorderがnilの場合はメトリクスを記録しない。
func NewService(guard SSRFValidator, sanitizer security.TitleSanitizerService, timeout time.Duration, maxSize int64, recorder Recorder) *Service {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Service{
		guard:     guard,
		sanitizer: sanitizer,
		timeout:   timeout,
		maxSize:   maxSize,
		recorder:  recorder,
	}
}

// Fetch はURLを取得してプレビューを返す。
// HTMLはhead部分を解析し、RSS/Atomはgofeedで解析する。
// それ以外のContent-Typeはサイト名とデフォルトアイコンのみ返す。
func (s *Service) Fetch(ctx context.Context, rawURL string) (*Preview, error) {
	start := time.Now()

	p, err := s.fetch(ctx, strings.TrimSpace(rawURL))

	result := "ok"
	if err != nil {
		result = "error"
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code != model.ErrCodeFetchFailed {
			result = "rejected"
		}
	}
	s.recorder.RecordPreviewFetch(result, time.Since(start))
	return p, err
}

func (s *Service) fetch(ctx context.Context, rawURL string) (*Preview, error) {
	if rawURL == "" {
		return nil, model.NewInvalidURLError("URL is empty")
	}
	if err := bookmark.ValidateURL(rawURL); err != nil {
		return nil, err
	}
	if err := s.guard.ValidateURL(rawURL); err != nil {
		slog.Warn("プレビュー取得: SSRFブロック", "url", rawURL, "error", err)
		return nil, model.NewSSRFBlockedError()
	}
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, model.NewInvalidURLError("could not be parsed")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, model.NewInvalidURLError(err.Error())
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html, application/xhtml+xml, application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := s.guard.NewSafeClient(s.timeout, s.maxSize).Do(req)
	if err != nil {
		return nil, model.NewFetchFailedError("the site could not be reached")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, model.NewFetchFailedError(fmt.Sprintf("HTTP status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxSize))
	if err != nil {
		return nil, model.NewFetchFailedError("the response could not be read")
	}

	// リダイレクト後のURLを相対URLの解決基準にする
	if resp.Request != nil && resp.Request.URL != nil {
		base = resp.Request.URL
	}

	p := &Preview{
		URL:        rawURL,
		SiteName:   base.Hostname(),
		FaviconURL: defaultFaviconURL(base),
	}

	contentType := resp.Header.Get("Content-Type")
	switch {
	case isDirectFeed(contentType, body):
		s.applyFeed(p, body, base)
	case strings.Contains(mediaTypeOf(contentType), "html"):
		s.applyHTML(p, body, base)
	}
	return p, nil
}

func (s *Service) applyHTML(p *Preview, body []byte, base *url.URL) {
	meta := parseHead(body, base)

	title := meta.OGTitle
	if title == "" {
		title = meta.Title
	}
	p.Title = s.cleanTitle(title)
	if meta.SiteName != "" {
		p.SiteName = s.cleanTitle(meta.SiteName)
	}
	if meta.IconURL != "" {
		p.FaviconURL = meta.IconURL
	}
	if best := selectBestFeed(meta.Feeds, base.String()); best != nil {
		p.FeedURL = best.URL
	}
}

func (s *Service) applyFeed(p *Preview, body []byte, base *url.URL) {
	p.IsFeed = true
	p.FeedURL = p.URL

	feed, err := parseFeed(body)
	if err != nil {
		slog.Warn("プレビュー取得: フィード解析失敗", "url", p.URL, "error", err)
		return
	}
	p.Title = s.cleanTitle(feed.Title)
	if feed.Link != "" {
		if site, err := url.Parse(feed.Link); err == nil && site.Hostname() != "" {
			p.SiteName = site.Hostname()
		}
	}
	if feed.Image != nil {
		if icon := resolve(base, feed.Image.URL); icon != "" {
			p.FaviconURL = icon
		}
	}
}

// cleanTitle はマークアップを除去し、ブックマークタイトルの上限長に切り詰める。
func (s *Service) cleanTitle(title string) string {
	if s.sanitizer != nil {
		title = s.sanitizer.Sanitize(title)
	}
	if utf8.RuneCountInString(title) > bookmark.MaxTitleLength {
		title = string([]rune(title)[:bookmark.MaxTitleLength])
	}
	return title
}
