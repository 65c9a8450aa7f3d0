package dashboard

import (
	"slices"
	"strings"

	"github.com/hitoshi/smartmark/internal/model"
)

// Reconcile はスナップショットに変更イベントを順に適用した結果を返す。
// INSERTはIDで重複排除し、DELETEはIDで除去する。
// 結果はCreatedAt降順、同時刻はID降順に並ぶ。引数は変更しない。
func Reconcile(snapshot []*model.Bookmark, events []model.BookmarkEvent) []*model.Bookmark {
	byID := make(map[string]*model.Bookmark, len(snapshot)+len(events))
	for _, b := range snapshot {
		if b == nil {
			continue
		}
		byID[b.ID] = b
	}

	for _, ev := range events {
		switch ev.Type {
		case model.BookmarkEventInsert:
			b := ev.Bookmark
			byID[b.ID] = &b
		case model.BookmarkEventDelete:
			delete(byID, ev.Bookmark.ID)
		}
	}

	result := make([]*model.Bookmark, 0, len(byID))
	for _, b := range byID {
		result = append(result, b)
	}
	slices.SortFunc(result, func(a, b *model.Bookmark) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	return result
}
