package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openAuthTestStore(t *testing.T) (*Store, context.Context) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "auth-store.db")
	st, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return st, context.Background()
}

func TestAuthUserAndSessionLifecycle(t *testing.T) {
	st, ctx := openAuthTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	count, err := st.CountEnabledUsers(ctx)
	if err != nil {
		t.Fatalf("count enabled users: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 users, got %d", count)
	}

	created, err := st.CreateUser(ctx, "Alice", "hash-1", now)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if created.Username != "alice" {
		t.Fatalf("expected normalized username alice, got %q", created.Username)
	}
	if created.ID <= 0 {
		t.Fatalf("expected positive id, got %d", created.ID)
	}

	loaded, err := st.GetUserByUsername(ctx, "ALICE")
	if err != nil {
		t.Fatalf("get user by username: %v", err)
	}
	if loaded == nil || loaded.ID != created.ID {
		t.Fatalf("expected loaded user %d, got %#v", created.ID, loaded)
	}

	byID, err := st.GetUserByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("get user by id: %v", err)
	}
	if byID == nil || byID.Username != "alice" {
		t.Fatalf("unexpected user by id: %#v", byID)
	}

	expiresAt := now.Add(2 * time.Hour)
	if err := st.CreateSession(ctx, "sess-1", created.ID, expiresAt, now); err != nil {
		t.Fatalf("create session: %v", err)
	}

	active, err := st.SessionActive(ctx, "sess-1", created.ID, now.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("session active: %v", err)
	}
	if !active {
		t.Fatal("expected active session")
	}

	active, err = st.SessionActive(ctx, "sess-1", created.ID+1, now.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("session active other user: %v", err)
	}
	if active {
		t.Fatal("session must not be active for another user id")
	}

	active, err = st.SessionActive(ctx, "sess-1", created.ID, expiresAt.Add(time.Second))
	if err != nil {
		t.Fatalf("session active after expiry: %v", err)
	}
	if active {
		t.Fatal("expected expired session to be inactive")
	}

	if err := st.RevokeSession(ctx, "sess-1", now.Add(time.Hour)); err != nil {
		t.Fatalf("revoke session: %v", err)
	}
	active, err = st.SessionActive(ctx, "sess-1", created.ID, now.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("session active after revoke: %v", err)
	}
	if active {
		t.Fatal("expected revoked session to be inactive")
	}
}

func TestCreateUserDuplicateIsConflict(t *testing.T) {
	st, ctx := openAuthTestStore(t)
	now := time.Now().UTC()

	if _, err := st.CreateUser(ctx, "bob", "hash", now); err != nil {
		t.Fatalf("create bob: %v", err)
	}
	_, err := st.CreateUser(ctx, " BOB ", "hash", now)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestAuthUserManagementLifecycle(t *testing.T) {
	st, ctx := openAuthTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	alice, err := st.CreateUser(ctx, "alice", "hash-a", now)
	if err != nil {
		t.Fatalf("create alice: %v", err)
	}
	if _, err := st.CreateUser(ctx, "bob", "hash-b", now); err != nil {
		t.Fatalf("create bob: %v", err)
	}

	users, err := st.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
	if users[0].Username != "alice" || users[1].Username != "bob" {
		t.Fatalf("expected usernames [alice bob], got [%s %s]", users[0].Username, users[1].Username)
	}

	if err := st.CreateSession(ctx, "sess-a", alice.ID, now.Add(time.Hour), now); err != nil {
		t.Fatalf("create session: %v", err)
	}

	disabled, err := st.SetUserDisabled(ctx, "alice", true, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("disable alice: %v", err)
	}
	if disabled == nil || !disabled.Disabled {
		t.Fatal("expected alice to be disabled")
	}

	count, err := st.CountEnabledUsers(ctx)
	if err != nil {
		t.Fatalf("count enabled users: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 enabled user, got %d", count)
	}

	enabled, err := st.SetUserDisabled(ctx, "alice", false, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("enable alice: %v", err)
	}
	if enabled == nil || enabled.Disabled {
		t.Fatal("expected alice to be enabled")
	}

	// Disabling revoked the session; re-enabling does not bring it back.
	active, err := st.SessionActive(ctx, "sess-a", alice.ID, now.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("session active: %v", err)
	}
	if active {
		t.Fatal("expected session revoked by disable")
	}

	missing, err := st.SetUserDisabled(ctx, "carol", true, now)
	if err != nil {
		t.Fatalf("disable missing user: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing user, got %#v", missing)
	}
}

func TestPurgeExpiredSessions(t *testing.T) {
	st, ctx := openAuthTestStore(t)
	now := time.Now().UTC()

	user, err := st.CreateUser(ctx, "alice", "hash", now)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := st.CreateSession(ctx, "old", user.ID, now.Add(-time.Minute), now.Add(-time.Hour)); err != nil {
		t.Fatalf("create old session: %v", err)
	}
	if err := st.CreateSession(ctx, "new", user.ID, now.Add(time.Hour), now); err != nil {
		t.Fatalf("create new session: %v", err)
	}

	purged, err := st.PurgeExpiredSessions(ctx, now)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged session, got %d", purged)
	}
	active, err := st.SessionActive(ctx, "new", user.ID, now)
	if err != nil || !active {
		t.Fatalf("expected new session to survive purge: active=%v err=%v", active, err)
	}
}
