package repository

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/smartmark/internal/model"
)

func TestPostgresBookmarkRepo_ImplementsInterfaces(t *testing.T) {
	var _ BookmarkRepository = (*PostgresBookmarkRepo)(nil)
	var _ HatebuBookmarkRepository = (*PostgresBookmarkRepo)(nil)
}

func sessionFixture(id, userID string, expiresAt, createdAt time.Time) *model.Session {
	return &model.Session{ID: id, UserID: userID, ExpiresAt: expiresAt, CreatedAt: createdAt}
}

func newBookmark(userID, title, url string, createdAt time.Time) *model.Bookmark {
	return &model.Bookmark{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		URL:       url,
		CreatedAt: createdAt,
	}
}

func TestPostgresBookmarkRepo_ListByUserID_OrderedNewestFirst(t *testing.T) {
	db := openTestDB(t)
	user := createTestUser(t, db, "list@example.com")
	repo := NewPostgresBookmarkRepo(db)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	older := newBookmark(user.ID, "Older", "https://example.com/older", base.Add(-time.Minute))
	newer := newBookmark(user.ID, "Newer", "https://example.com/newer", base)
	for _, b := range []*model.Bookmark{older, newer} {
		if err := repo.Create(ctx, b); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
	}

	got, err := repo.ListByUserID(ctx, user.ID)
	if err != nil {
		t.Fatalf("ListByUserID returned error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != newer.ID || got[1].ID != older.ID {
		t.Errorf("order = [%s, %s], want [%s, %s]", got[0].Title, got[1].Title, newer.Title, older.Title)
	}
}

func TestPostgresBookmarkRepo_ScopedToOwner(t *testing.T) {
	db := openTestDB(t)
	owner := createTestUser(t, db, "owner@example.com")
	other := createTestUser(t, db, "other@example.com")
	repo := NewPostgresBookmarkRepo(db)
	ctx := context.Background()

	b := newBookmark(owner.ID, "Mine", "https://example.com/mine", time.Now().UTC())
	if err := repo.Create(ctx, b); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	list, err := repo.ListByUserID(ctx, other.ID)
	if err != nil {
		t.Fatalf("ListByUserID returned error: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("other user sees %d bookmarks, want 0", len(list))
	}

	deleted, err := repo.DeleteByIDAndUserID(ctx, b.ID, other.ID)
	if err != nil {
		t.Fatalf("DeleteByIDAndUserID returned error: %v", err)
	}
	if deleted {
		t.Error("another user must not be able to delete the bookmark")
	}

	deleted, err = repo.DeleteByIDAndUserID(ctx, b.ID, owner.ID)
	if err != nil || !deleted {
		t.Errorf("DeleteByIDAndUserID(owner) = %v, %v; want true, nil", deleted, err)
	}
}

func TestPostgresBookmarkRepo_HatebuCounts(t *testing.T) {
	db := openTestDB(t)
	user := createTestUser(t, db, "hatebu@example.com")
	repo := NewPostgresBookmarkRepo(db)
	ctx := context.Background()

	url := "https://example.com/hatebu-" + user.ID
	if err := repo.Create(ctx, newBookmark(user.ID, "Hatebu", url, time.Now().UTC())); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	urls, err := repo.ListURLsNeedingHatebuFetch(ctx, 24*time.Hour, 1000)
	if err != nil {
		t.Fatalf("ListURLsNeedingHatebuFetch returned error: %v", err)
	}
	if !slices.Contains(urls, url) {
		t.Fatalf("unfetched url %q not listed", url)
	}

	if err := repo.UpdateHatebuCountByURL(ctx, url, 42, time.Now()); err != nil {
		t.Fatalf("UpdateHatebuCountByURL returned error: %v", err)
	}

	list, err := repo.ListByUserID(ctx, user.ID)
	if err != nil {
		t.Fatalf("ListByUserID returned error: %v", err)
	}
	if list[0].HatebuCount != 42 || list[0].HatebuFetchedAt == nil {
		t.Errorf("hatebu = %d / %v, want 42 / non-nil", list[0].HatebuCount, list[0].HatebuFetchedAt)
	}

	urls, err = repo.ListURLsNeedingHatebuFetch(ctx, 24*time.Hour, 1000)
	if err != nil {
		t.Fatalf("ListURLsNeedingHatebuFetch returned error: %v", err)
	}
	if slices.Contains(urls, url) {
		t.Error("freshly fetched url should not be listed")
	}
}
