package preview

import (
	"bytes"
	"mime"
	"net/url"
	"slices"
	"strings"

	"github.com/mmcdole/gofeed"
)

// feedCandidate はHTMLのlink要素から検出したフィードを表す。
type feedCandidate struct {
	URL   string
	Atom  bool
	Title string
}

// feedContentTypes はボディを見ずにフィードと判定するContent-Type。
var feedContentTypes = []string{
	"application/rss+xml",
	"application/atom+xml",
	"application/feed+json",
}

// xmlContentTypes はボディの検査でフィードか判定するContent-Type。
var xmlContentTypes = []string{
	"text/xml",
	"application/xml",
}

// mediaTypeOf はContent-Typeからパラメータを除いたメディアタイプを返す。
func mediaTypeOf(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	return strings.ToLower(mediaType)
}

// isDirectFeed はレスポンスがRSS/Atomフィードそのものかを判定する。
func isDirectFeed(contentType string, body []byte) bool {
	mediaType := mediaTypeOf(contentType)
	if slices.Contains(feedContentTypes, mediaType) {
		return true
	}
	if !slices.Contains(xmlContentTypes, mediaType) || len(body) == 0 {
		return false
	}

	// 先頭4KBにルート要素が含まれる
	prefix := strings.ToLower(string(body[:min(len(body), 4096)]))
	switch {
	case strings.Contains(prefix, "<rss"), strings.Contains(prefix, "<rdf:rdf"):
		return true
	case strings.Contains(prefix, "<feed") && strings.Contains(prefix, "http://www.w3.org/2005/atom"):
		return true
	}
	return false
}

// parseFeed はフィード本文をgofeedで解析する。
func parseFeed(body []byte) (*gofeed.Feed, error) {
	return gofeed.NewParser().Parse(bytes.NewReader(body))
}

// selectBestFeed は候補から1件を選ぶ。同一ホストを優先し、次にAtom、同点なら先頭。
func selectBestFeed(candidates []feedCandidate, pageURL string) *feedCandidate {
	if len(candidates) == 0 {
		return nil
	}

	pageHost := hostOf(pageURL)
	bestIdx, bestScore := 0, -1
	for i, c := range candidates {
		score := 0
		if hostOf(c.URL) == pageHost {
			score += 100
		}
		if c.Atom {
			score += 10
		}
		if score > bestScore {
			bestIdx, bestScore = i, score
		}
	}
	return &candidates[bestIdx]
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
