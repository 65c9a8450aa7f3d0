package preview

import (
	"bytes"
	"net/url"
	"slices"
	"strings"

	"golang.org/x/net/html"
)

// pageMeta はHTMLのhead部分から抽出した情報。
type pageMeta struct {
	Title    string
	OGTitle  string
	SiteName string
	IconURL  string
	Feeds    []feedCandidate
}

// parseHead はHTMLをbodyの開始まで走査し、タイトル・OGP・アイコン・フィードリンクを抽出する。
// 相対URLはbaseを基準に解決する。
func parseHead(body []byte, base *url.URL) pageMeta {
	var meta pageMeta
	var touchIcon string

	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			if meta.IconURL == "" {
				meta.IconURL = touchIcon
			}
			return meta

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			switch string(name) {
			case "body":
				if meta.IconURL == "" {
					meta.IconURL = touchIcon
				}
				return meta
			case "title":
				if meta.Title == "" && z.Next() == html.TextToken {
					meta.Title = strings.TrimSpace(string(z.Text()))
				}
			case "meta":
				if hasAttr {
					applyMeta(&meta, attrs(z))
				}
			case "link":
				if !hasAttr {
					continue
				}
				a := attrs(z)
				href := resolve(base, a["href"])
				if href == "" {
					continue
				}
				rels := strings.Fields(strings.ToLower(a["rel"]))
				switch {
				case slices.Contains(rels, "alternate"):
					switch strings.ToLower(a["type"]) {
					case "application/rss+xml":
						meta.Feeds = append(meta.Feeds, feedCandidate{URL: href, Title: a["title"]})
					case "application/atom+xml":
						meta.Feeds = append(meta.Feeds, feedCandidate{URL: href, Atom: true, Title: a["title"]})
					}
				case slices.Contains(rels, "icon"):
					if meta.IconURL == "" {
						meta.IconURL = href
					}
				case slices.Contains(rels, "apple-touch-icon"):
					if touchIcon == "" {
						touchIcon = href
					}
				}
			}

		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "head" {
				if meta.IconURL == "" {
					meta.IconURL = touchIcon
				}
				return meta
			}
		}
	}
}

func applyMeta(meta *pageMeta, a map[string]string) {
	key := a["property"]
	if key == "" {
		key = a["name"]
	}
	content := strings.TrimSpace(a["content"])
	if content == "" {
		return
	}
	switch strings.ToLower(key) {
	case "og:title":
		if meta.OGTitle == "" {
			meta.OGTitle = content
		}
	case "og:site_name":
		if meta.SiteName == "" {
			meta.SiteName = content
		}
	}
}

// attrs は現在のタグの属性を小文字キーのmapで返す。
func attrs(z *html.Tokenizer) map[string]string {
	out := make(map[string]string)
	for {
		key, val, more := z.TagAttr()
		out[strings.ToLower(string(key))] = string(val)
		if !more {
			return out
		}
	}
}

func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(u)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}

// defaultFaviconURL はサイトの /favicon.ico を返す。
func defaultFaviconURL(base *url.URL) string {
	u := *base
	u.Path = "/favicon.ico"
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	return u.String()
}
