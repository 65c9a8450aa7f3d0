package user

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/hitoshi/smartmark/internal/model"
)

// --- モック ---

type mockUserStore struct {
	findByIDFn   func(ctx context.Context, id string) (*model.User, error)
	deleteByIDFn func(ctx context.Context, id string) error
}

func (m *mockUserStore) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserStore) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

type mockBookmarkDeleter struct {
	deleteByUserIDFn func(ctx context.Context, userID string) error
}

func (m *mockBookmarkDeleter) DeleteByUserID(ctx context.Context, userID string) error {
	return m.deleteByUserIDFn(ctx, userID)
}

type mockSessionTerminator struct {
	signOutUserFn func(ctx context.Context, userID string) error
}

func (m *mockSessionTerminator) SignOutUser(ctx context.Context, userID string) error {
	return m.signOutUserFn(ctx, userID)
}

// newRecordingService は呼び出し順を記録するモックでServiceを組み立てる。
func newRecordingService(calls *[]string, failAt string) *Service {
	step := func(name string) error {
		*calls = append(*calls, name)
		if name == failAt {
			return errors.New(name + " failed")
		}
		return nil
	}
	users := &mockUserStore{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id, Email: "test@example.com"}, nil
		},
		deleteByIDFn: func(ctx context.Context, id string) error { return step("user") },
	}
	bookmarks := &mockBookmarkDeleter{
		deleteByUserIDFn: func(ctx context.Context, userID string) error { return step("bookmarks") },
	}
	sessions := &mockSessionTerminator{
		signOutUserFn: func(ctx context.Context, userID string) error { return step("sessions") },
	}
	return NewService(users, bookmarks, sessions)
}

// --- テスト ---

// TestService_Withdraw は退会処理が全関連データを順に削除することを検証する。
func TestService_Withdraw(t *testing.T) {
	var calls []string
	svc := newRecordingService(&calls, "")

	if err := svc.Withdraw(context.Background(), "user-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"bookmarks", "sessions", "user"}
	if !reflect.DeepEqual(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

// TestService_Withdraw_StopsAtFirstFailure は途中で失敗した場合に以降の削除を行わないことを検証する。
func TestService_Withdraw_StopsAtFirstFailure(t *testing.T) {
	tests := []struct {
		failAt string
		want   []string
	}{
		{"bookmarks", []string{"bookmarks"}},
		{"sessions", []string{"bookmarks", "sessions"}},
		{"user", []string{"bookmarks", "sessions", "user"}},
	}

	for _, tt := range tests {
		t.Run(tt.failAt, func(t *testing.T) {
			var calls []string
			svc := newRecordingService(&calls, tt.failAt)

			if err := svc.Withdraw(context.Background(), "user-1"); err == nil {
				t.Fatal("expected error, got nil")
			}
			if !reflect.DeepEqual(calls, tt.want) {
				t.Errorf("calls = %v, want %v", calls, tt.want)
			}
		})
	}
}

// TestService_Withdraw_UserNotFound は存在しないユーザーの場合にUSER_NOT_FOUNDを返すことを検証する。
func TestService_Withdraw_UserNotFound(t *testing.T) {
	svc := NewService(&mockUserStore{}, &mockBookmarkDeleter{
		deleteByUserIDFn: func(ctx context.Context, userID string) error {
			t.Fatal("bookmarks should not be deleted")
			return nil
		},
	}, &mockSessionTerminator{})

	err := svc.Withdraw(context.Background(), "missing")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUserNotFound {
		t.Fatalf("err = %v, want USER_NOT_FOUND", err)
	}
}

func TestService_Withdraw_FindError(t *testing.T) {
	svc := NewService(&mockUserStore{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return nil, errors.New("db down")
		},
	}, &mockBookmarkDeleter{}, &mockSessionTerminator{})

	if err := svc.Withdraw(context.Background(), "user-1"); err == nil {
		t.Fatal("expected error, got nil")
	}
}
