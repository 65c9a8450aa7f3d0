package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// OAuth
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Session
	SessionSecret          string
	SessionMaxAge          int
	SessionCacheTTL        time.Duration
	SessionCleanupInterval time.Duration

	// Rate Limit（req/min/user）
	RateLimitGeneral        int
	RateLimitBookmarkCreate int

	// Preview
	PreviewTimeout time.Duration
	PreviewMaxSize int64

	// Hatebu
	HatebuTTL              time.Duration
	HatebuBatchInterval    time.Duration
	HatebuAPIInterval      time.Duration
	HatebuMaxCallsPerCycle int

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// requiredKeys は未設定の場合に起動を中止する環境変数。
var requiredKeys = []string{
	"DATABASE_URL",
	"GOOGLE_CLIENT_ID",
	"GOOGLE_CLIENT_SECRET",
	"GOOGLE_REDIRECT_URL",
	"SESSION_SECRET",
	"BASE_URL",
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	v := newViper()

	var missing []string
	for _, key := range requiredKeys {
		if strings.TrimSpace(v.GetString(key)) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg := &Config{
		DatabaseURL:        v.GetString("DATABASE_URL"),
		GoogleClientID:     v.GetString("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: v.GetString("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:  v.GetString("GOOGLE_REDIRECT_URL"),
		SessionSecret:      v.GetString("SESSION_SECRET"),
		BaseURL:            strings.TrimRight(v.GetString("BASE_URL"), "/"),
	}

	// Optional fields with defaults
	cfg.SessionMaxAge = positiveInt(v, "SESSION_MAX_AGE", 86400)
	cfg.SessionCacheTTL = positiveDuration(v, "SESSION_CACHE_TTL", 30*time.Second)
	cfg.SessionCleanupInterval = positiveDuration(v, "SESSION_CLEANUP_INTERVAL", time.Hour)
	cfg.RateLimitGeneral = positiveInt(v, "RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitBookmarkCreate = positiveInt(v, "RATE_LIMIT_BOOKMARK_CREATE", 30)
	cfg.PreviewTimeout = positiveDuration(v, "PREVIEW_TIMEOUT", 10*time.Second)
	cfg.PreviewMaxSize = int64(positiveInt(v, "PREVIEW_MAX_SIZE", 1048576))
	cfg.HatebuTTL = positiveDuration(v, "HATEBU_TTL", 24*time.Hour)
	cfg.HatebuBatchInterval = positiveDuration(v, "HATEBU_BATCH_INTERVAL", 10*time.Minute)
	cfg.HatebuAPIInterval = positiveDuration(v, "HATEBU_API_INTERVAL", 5*time.Second)
	cfg.HatebuMaxCallsPerCycle = positiveInt(v, "HATEBU_MAX_CALLS_PER_CYCLE", 100)
	cfg.LogLevel = strings.ToLower(v.GetString("LOG_LEVEL"))
	cfg.ServerPort = v.GetString("SERVER_PORT")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = v.GetString("COOKIE_DOMAIN")
	cfg.CORSAllowedOrigin = v.GetString("CORS_ALLOWED_ORIGIN")

	return cfg, nil
}

// newViper は環境変数のみを参照するviperインスタンスを生成する。
// 空文字列の環境変数は未設定として扱う。
func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	v.AllowEmptyEnv(false)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("COOKIE_DOMAIN", "")
	v.SetDefault("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return v
}

// positiveInt は整数値を読み込む。未設定・不正値・0以下の場合はデフォルト値を返す。
func positiveInt(v *viper.Viper, key string, defaultVal int) int {
	if !v.IsSet(key) {
		return defaultVal
	}
	if i := v.GetInt(key); i > 0 {
		return i
	}
	return defaultVal
}

// positiveDuration はtime.ParseDuration形式の値を読み込む。
func positiveDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	if !v.IsSet(key) {
		return defaultVal
	}
	if d, err := time.ParseDuration(v.GetString(key)); err == nil && d > 0 {
		return d
	}
	return defaultVal
}
