package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/smartmark/internal/model"
)

func testLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:         2, // 2 req/sec
		GeneralBurst:        5,
		BookmarkCreateRate:  rate.Limit(1.0 / 60.0),
		BookmarkCreateBurst: 2,
		CleanupInterval:     time.Minute,
	}
}

func countingHandler(count *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*count++
		w.WriteHeader(http.StatusOK)
	})
}

func requestAs(userID string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/bookmarks", nil)
	return req.WithContext(ContextWithUserID(req.Context(), userID))
}

func TestGeneralMiddleware_AllowsBurstThenRejects(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig())
	defer rl.Stop()

	count := 0
	handler := rl.GeneralMiddleware()(countingHandler(&count))

	// バースト内の5リクエストは全て通る
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs("user-1"))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs("user-1"))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if count != 5 {
		t.Errorf("handler called %d times, want 5", count)
	}

	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || retryAfter < 1 {
		t.Errorf("Retry-After = %q, want positive integer", w.Header().Get("Retry-After"))
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("code = %q, want RATE_LIMIT_EXCEEDED", body.Code)
	}
	if body.Category != model.CategorySystem {
		t.Errorf("category = %q, want %q", body.Category, model.CategorySystem)
	}
}

func TestGeneralMiddleware_IsolatesUsers(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig())
	defer rl.Stop()

	count := 0
	handler := rl.GeneralMiddleware()(countingHandler(&count))

	for i := 0; i < 6; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), requestAs("user-1"))
	}

	// user-1が上限に達してもuser-2は影響を受けない
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs("user-2"))
	if w.Code != http.StatusOK {
		t.Errorf("user-2 status = %d, want %d", w.Code, http.StatusOK)
	}
	if rl.GeneralLimiterCount() != 2 {
		t.Errorf("GeneralLimiterCount = %d, want 2", rl.GeneralLimiterCount())
	}
}

func TestRateLimitMiddleware_NoUserID_Returns401(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig())
	defer rl.Stop()

	count := 0
	handler := rl.GeneralMiddleware()(countingHandler(&count))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/bookmarks", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if count != 0 {
		t.Error("handler should not be called")
	}
}

func TestBookmarkCreateMiddleware_IndependentFromGeneral(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig())
	defer rl.Stop()

	count := 0
	create := rl.BookmarkCreateMiddleware()(countingHandler(&count))
	general := rl.GeneralMiddleware()(countingHandler(&count))

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		create.ServeHTTP(w, requestAs("user-1"))
		if w.Code != http.StatusOK {
			t.Fatalf("create %d: status = %d", i, w.Code)
		}
	}

	w := httptest.NewRecorder()
	create.ServeHTTP(w, requestAs("user-1"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	// 1 req/min のため Retry-After はおよそ60秒
	if got, _ := strconv.Atoi(w.Header().Get("Retry-After")); got < 59 || got > 61 {
		t.Errorf("Retry-After = %d, want about 60", got)
	}

	w = httptest.NewRecorder()
	general.ServeHTTP(w, requestAs("user-1"))
	if w.Code != http.StatusOK {
		t.Errorf("general status = %d, want %d", w.Code, http.StatusOK)
	}
	if rl.BookmarkCreateLimiterCount() != 1 {
		t.Errorf("BookmarkCreateLimiterCount = %d, want 1", rl.BookmarkCreateLimiterCount())
	}
}

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig())
	defer rl.Stop()

	rl.general.get("stale", time.Now().Add(-time.Hour))
	rl.general.get("fresh", time.Now())
	rl.bookmarkCreate.get("stale", time.Now().Add(-time.Hour))

	rl.cleanup()

	if rl.GeneralLimiterCount() != 1 {
		t.Errorf("GeneralLimiterCount = %d, want 1", rl.GeneralLimiterCount())
	}
	if rl.BookmarkCreateLimiterCount() != 0 {
		t.Errorf("BookmarkCreateLimiterCount = %d, want 0", rl.BookmarkCreateLimiterCount())
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig())
	rl.Stop()
	rl.Stop()
}

func TestRateLimiterConfigPerMinute(t *testing.T) {
	cfg := RateLimiterConfigPerMinute(60, 6)

	if cfg.GeneralRate != rate.Limit(1) {
		t.Errorf("GeneralRate = %v, want 1", cfg.GeneralRate)
	}
	if cfg.GeneralBurst != 60 {
		t.Errorf("GeneralBurst = %d, want 60", cfg.GeneralBurst)
	}
	if cfg.BookmarkCreateRate != rate.Limit(0.1) {
		t.Errorf("BookmarkCreateRate = %v, want 0.1", cfg.BookmarkCreateRate)
	}
	if cfg.BookmarkCreateBurst != 6 {
		t.Errorf("BookmarkCreateBurst = %d, want 6", cfg.BookmarkCreateBurst)
	}
	if cfg.CleanupInterval != 5*time.Minute {
		t.Errorf("CleanupInterval = %v", cfg.CleanupInterval)
	}
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.GeneralBurst != 120 || cfg.BookmarkCreateBurst != 30 {
		t.Errorf("bursts = %d/%d, want 120/30", cfg.GeneralBurst, cfg.BookmarkCreateBurst)
	}
}
