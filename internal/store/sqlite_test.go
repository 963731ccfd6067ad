// ABOUTME: Tests for SQLite store specifics
// ABOUTME: Covers file creation, reopen/migrations, DSN building and concurrent writers

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_InMemory(t *testing.T) {
	store, err := OpenSQLite(DriverModernc, ":memory:", nil)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.CreateConversation(ctx, newConversation("conv-1", "a", "b"), nil, ""))
	_, err = store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
}

func TestNewSQLiteStore_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	first, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	msg := newMessage("m1", "conv-1", "a", "b", "hello")
	msg.Attachments = []Attachment{{URL: "https://cdn/f.png", Name: "f.png", Type: "image/png", Size: 10}}
	require.NoError(t, first.CreateConversation(ctx, newConversation("conv-1", "a", "b"), msg, "hello"))
	require.NoError(t, first.RegisterDevice(ctx, &Device{Token: "tok", UserID: "a", Platform: "web"}))
	require.NoError(t, first.Close())

	// migrations must be idempotent
	second, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer second.Close()

	got, err := second.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content)
	assert.Len(t, got.Attachments, 1)

	devices, err := second.ListDevices(ctx, "a")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "web", devices[0].Platform)
}

func TestBuildDSN(t *testing.T) {
	dsn, err := buildDSN(DriverModernc, "/tmp/x.db")
	require.NoError(t, err)
	assert.Contains(t, dsn, "_txlock=immediate")
	assert.Contains(t, dsn, "busy_timeout(5000)")

	dsn, err = buildDSN(DriverCGO, "/tmp/x.db")
	require.NoError(t, err)
	assert.Contains(t, dsn, "_busy_timeout=5000")

	_, err = buildDSN("postgres", "/tmp/x.db")
	assert.Error(t, err)
}

func TestSQLiteStore_ConcurrentAppends(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateConversation(ctx, newConversation("conv-1", "a", "b"), nil, ""))

	const senders = 20
	var wg sync.WaitGroup
	errs := make(chan error, senders)
	for i := range senders {
		wg.Go(func() {
			msg := newMessage(fmt.Sprintf("m%d", i), "conv-1", "a", "b", fmt.Sprintf("msg %d", i))
			errs <- store.AppendMessage(ctx, msg, msg.Content, 0)
		})
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	conv, err := store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, senders, conv.MessageCount)
	assert.Equal(t, senders, conv.Unread("b"))

	msgs, err := store.ListMessages(ctx, "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, senders)
	for i, m := range msgs {
		assert.Equal(t, int64(i+1), m.Seq)
		if i > 0 {
			assert.True(t, m.CreatedAt.After(msgs[i-1].CreatedAt), "createdAt must follow seq")
		}
	}
}

func TestSQLiteStore_ConcurrentFlagWritersOneWins(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateConversation(ctx, newConversation("conv-1", "a", "b"), nil, ""))

	const writers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	var wins, conflicts int
	for range writers {
		wg.Go(func() {
			err := store.SetMemberFlags(ctx, "conv-1", "a", MemberFlags{Archived: true}, 0)
			mu.Lock()
			defer mu.Unlock()
			switch err {
			case nil:
				wins++
			case ErrStateConflict:
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, writers-1, conflicts)

	conv, err := store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, conv.ArchivedBy)
	assert.Equal(t, int64(1), conv.Version)
}
