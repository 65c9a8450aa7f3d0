// Package hatebu ははてなブックマーク連携機能を提供する。
// ブックマーク済みURLのはてなブックマーク数を一括取得し、定期的に更新する。
package hatebu

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

const (
	// defaultEndpoint ははてなブックマーク一括取得APIのエンドポイント。
	defaultEndpoint = "https://bookmark.hatenaapis.com/count/entries"
	// maxURLsPerRequest は1リクエストあたりの最大URL数。
	maxURLsPerRequest = 50
	// maxResponseSize はレスポンスボディの上限。
	maxResponseSize = 1 << 20
)

// Client ははてなブックマークAPIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string // テスト用にエンドポイントを差し替え可能
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   defaultEndpoint,
	}
}

// GetBookmarkCounts は最大50件のURLのはてなブックマーク数を一括取得する。
// レスポンスに含まれないURLは0件として扱う。取得失敗時はエラーを返し、呼び出し元が前回値を維持する。
func (c *Client) GetBookmarkCounts(ctx context.Context, urls []string) (map[string]int, error) {
	if len(urls) == 0 {
		return map[string]int{}, nil
	}
	if len(urls) > maxURLsPerRequest {
		return nil, fmt.Errorf("URLの数が上限を超えています: %d > %d", len(urls), maxURLsPerRequest)
	}

	reqURL, err := c.requestURL(urls)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", "Smartmark/1.0 (+bookmark counts)")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("はてなブックマークAPIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
			slog.Int("url_count", len(urls)),
		)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("はてなブックマークAPIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.Int("url_count", len(urls)),
		)
		return nil, fmt.Errorf("はてなブックマークAPIがステータス %d を返しました", resp.StatusCode)
	}

	var result map[string]int
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&result); err != nil {
		c.logger.Error("はてなブックマークAPIのレスポンスのパースに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	counts := make(map[string]int, len(urls))
	for _, u := range urls {
		counts[u] = result[u]
	}
	return counts, nil
}

func (c *Client) requestURL(urls []string) (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("エンドポイントURLのパースに失敗しました: %w", err)
	}
	q := u.Query()
	for _, target := range urls {
		q.Add("url", target)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
