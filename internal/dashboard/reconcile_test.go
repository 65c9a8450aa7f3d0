package dashboard

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hitoshi/smartmark/internal/model"
)

func bookmarkIDs(items []*model.Bookmark) []string {
	out := make([]string, len(items))
	for i, b := range items {
		out[i] = b.ID
	}
	return out
}

func TestReconcile_SortsByCreatedAtDescThenIDDesc(t *testing.T) {
	snapshot := []*model.Bookmark{
		bm("a", "u1", 1),
		bm("c", "u1", 3),
		bm("b", "u1", 3),
		bm("d", "u1", 2),
	}

	got := Reconcile(snapshot, nil)

	assert.Equal(t, []string{"c", "b", "d", "a"}, bookmarkIDs(got))
}

func TestReconcile_InsertPrependsAndDeduplicates(t *testing.T) {
	snapshot := []*model.Bookmark{bm("a", "u1", 1)}
	newer := *bm("b", "u1", 5)

	events := []model.BookmarkEvent{
		{Type: model.BookmarkEventInsert, Bookmark: newer},
		{Type: model.BookmarkEventInsert, Bookmark: newer},
	}

	got := Reconcile(snapshot, events)

	assert.Equal(t, []string{"b", "a"}, bookmarkIDs(got))
}

func TestReconcile_InsertOfOlderRowKeepsOrder(t *testing.T) {
	snapshot := []*model.Bookmark{bm("b", "u1", 5), bm("a", "u1", 1)}

	got := Reconcile(snapshot, []model.BookmarkEvent{
		{Type: model.BookmarkEventInsert, Bookmark: *bm("m", "u1", 3)},
	})

	assert.Equal(t, []string{"b", "m", "a"}, bookmarkIDs(got))
}

func TestReconcile_DeleteRemovesByID(t *testing.T) {
	snapshot := []*model.Bookmark{bm("a", "u1", 1), bm("b", "u1", 2)}

	got := Reconcile(snapshot, []model.BookmarkEvent{
		{Type: model.BookmarkEventDelete, Bookmark: model.Bookmark{ID: "a", UserID: "u1"}},
		{Type: model.BookmarkEventDelete, Bookmark: model.Bookmark{ID: "missing", UserID: "u1"}},
	})

	assert.Equal(t, []string{"b"}, bookmarkIDs(got))
}

// INSERT後に同じIDのDELETEが来た場合は残らない
func TestReconcile_EventsAppliedInOrder(t *testing.T) {
	got := Reconcile(nil, []model.BookmarkEvent{
		{Type: model.BookmarkEventInsert, Bookmark: *bm("x", "u1", 1)},
		{Type: model.BookmarkEventDelete, Bookmark: model.Bookmark{ID: "x", UserID: "u1"}},
	})

	assert.Empty(t, got)
}

func TestReconcile_DoesNotMutateInput(t *testing.T) {
	snapshot := []*model.Bookmark{bm("a", "u1", 1), bm("b", "u1", 2)}

	_ = Reconcile(snapshot, []model.BookmarkEvent{
		{Type: model.BookmarkEventDelete, Bookmark: model.Bookmark{ID: "a"}},
	})

	assert.Equal(t, []string{"a", "b"}, bookmarkIDs(snapshot))
}

// 同じ入力からは常に同じ結果になる
func TestReconcile_Deterministic(t *testing.T) {
	snapshot := []*model.Bookmark{bm("a", "u1", 1), bm("b", "u1", 1), bm("c", "u1", 1)}

	first := bookmarkIDs(Reconcile(snapshot, nil))
	for range 20 {
		assert.Equal(t, first, bookmarkIDs(Reconcile(snapshot, nil)))
	}
	assert.Equal(t, []string{"c", "b", "a"}, first)
}
