package repository

import (
	"context"
	"testing"
	"time"
)

// PostgresUserRepoはUserRepositoryインターフェースを満たすことを検証
func TestPostgresUserRepo_ImplementsInterface(t *testing.T) {
	var _ UserRepository = (*PostgresUserRepo)(nil)
}

// PostgresIdentityRepoはIdentityRepositoryインターフェースを満たすことを検証
func TestPostgresIdentityRepo_ImplementsInterface(t *testing.T) {
	var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
}

// PostgresSessionRepoはSessionRepositoryインターフェースを満たすことを検証
func TestPostgresSessionRepo_ImplementsInterface(t *testing.T) {
	var _ SessionRepository = (*PostgresSessionRepo)(nil)
}

func TestMetadata_EncodeDecode_EmptyMap(t *testing.T) {
	b, err := encodeMetadata(nil)
	if err != nil {
		t.Fatalf("encodeMetadata returned error: %v", err)
	}
	if string(b) != "{}" {
		t.Errorf("encodeMetadata(nil) = %q, want %q", b, "{}")
	}

	m, err := decodeMetadata(nil)
	if err != nil {
		t.Fatalf("decodeMetadata returned error: %v", err)
	}
	if m == nil || len(m) != 0 {
		t.Errorf("decodeMetadata(nil) = %v, want empty map", m)
	}
}

func TestMetadata_Decode_InvalidJSON_ReturnsError(t *testing.T) {
	if _, err := decodeMetadata([]byte("not-json")); err == nil {
		t.Error("expected error for invalid JSON, got nil")
	}
}

func TestPostgresUserRepo_CreateAndFind(t *testing.T) {
	db := openTestDB(t)
	user := createTestUser(t, db, "find@example.com")

	repo := NewPostgresUserRepo(db)
	got, err := repo.FindByID(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if got == nil {
		t.Fatal("expected user, got nil")
	}
	if got.Email != "find@example.com" {
		t.Errorf("Email = %q, want %q", got.Email, "find@example.com")
	}
	if got.Metadata["picture"] != "https://example.com/p.png" {
		t.Errorf("Metadata[picture] = %q", got.Metadata["picture"])
	}

	identities, err := NewPostgresIdentityRepo(db).ListByUserID(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("ListByUserID returned error: %v", err)
	}
	if len(identities) != 1 || identities[0].Provider != "google" {
		t.Errorf("identities = %+v, want one google identity", identities)
	}
}

func TestPostgresUserRepo_FindByID_NotFound_ReturnsNil(t *testing.T) {
	db := openTestDB(t)

	got, err := NewPostgresUserRepo(db).FindByID(context.Background(), "00000000-0000-0000-0000-000000000000")
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestPostgresUserRepo_UpdateProfile(t *testing.T) {
	db := openTestDB(t)
	user := createTestUser(t, db, "before@example.com")
	repo := NewPostgresUserRepo(db)

	user.Email = ""
	user.Metadata = map[string]string{"email": "after@example.com"}
	if err := repo.UpdateProfile(context.Background(), user); err != nil {
		t.Fatalf("UpdateProfile returned error: %v", err)
	}

	got, err := repo.FindByID(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if got.DisplayEmail() != "after@example.com" {
		t.Errorf("DisplayEmail() = %q, want %q", got.DisplayEmail(), "after@example.com")
	}
}

func TestPostgresSessionRepo_Lifecycle(t *testing.T) {
	db := openTestDB(t)
	user := createTestUser(t, db, "session@example.com")
	repo := NewPostgresSessionRepo(db)
	ctx := context.Background()

	now := time.Now().UTC()
	if err := repo.Create(ctx, sessionFixture("sess-live-"+user.ID, user.ID, now.Add(time.Hour), now)); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if err := repo.Create(ctx, sessionFixture("sess-dead-"+user.ID, user.ID, now.Add(-time.Hour), now.Add(-2*time.Hour))); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	got, err := repo.FindByID(ctx, "sess-live-"+user.ID)
	if err != nil || got == nil {
		t.Fatalf("FindByID(live) = %v, %v", got, err)
	}

	expired, err := repo.FindByID(ctx, "sess-dead-"+user.ID)
	if err != nil {
		t.Fatalf("FindByID(expired) returned error: %v", err)
	}
	if expired != nil {
		t.Error("expired session should not be returned")
	}

	ok, err := repo.Extend(ctx, "sess-live-"+user.ID, now.Add(24*time.Hour), now)
	if err != nil || !ok {
		t.Fatalf("Extend = %v, %v; want true, nil", ok, err)
	}
	ok, err = repo.Extend(ctx, "sess-dead-"+user.ID, now.Add(24*time.Hour), now)
	if err != nil || ok {
		t.Errorf("Extend(expired) = %v, %v; want false, nil", ok, err)
	}

	n, err := repo.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("DeleteExpired returned error: %v", err)
	}
	if n < 1 {
		t.Errorf("DeleteExpired removed %d rows, want >= 1", n)
	}

	ids, err := repo.DeleteByUserID(ctx, user.ID)
	if err != nil {
		t.Fatalf("DeleteByUserID returned error: %v", err)
	}
	if len(ids) != 1 || ids[0] != "sess-live-"+user.ID {
		t.Errorf("DeleteByUserID ids = %v", ids)
	}
}
