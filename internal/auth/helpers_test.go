package auth

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/georgekhananaev/py-fast-stack/internal/users"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

type testEnv struct {
	store    *users.GormStore
	hasher   *Hasher
	codec    *TokenCodec
	clock    *fakeClock
	service  *Service
	resolver *Resolver
	logs     *bytes.Buffer
}

func newTestStore(t *testing.T) *users.GormStore {
	t.Helper()
	db, err := users.Open(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	store, err := users.NewGormStore(db)
	require.NoError(t, err)
	return store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := newFakeClock()
	codec, err := NewTokenCodec(testSecret, "HS256", 30*time.Minute, clock.Now)
	require.NoError(t, err)

	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	store := newTestStore(t)
	hasher := NewHasher(bcrypt.MinCost, 4)
	service, err := NewService(store, hasher, codec, logger)
	require.NoError(t, err)
	resolver, err := NewResolver(codec, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	return &testEnv{
		store:    store,
		hasher:   hasher,
		codec:    codec,
		clock:    clock,
		service:  service,
		resolver: resolver,
		logs:     logs,
	}
}

// createUser は指定パスワードのユーザーを直接作成します。
func (e *testEnv) createUser(t *testing.T, username, password string, active, superuser bool) *users.User {
	t.Helper()
	hash, err := e.hasher.Hash(context.Background(), password)
	require.NoError(t, err)
	user, err := e.store.Create(context.Background(), users.CreateParams{
		Email:          username + "@example.com",
		Username:       username,
		HashedPassword: hash,
		IsActive:       active,
		IsSuperuser:    superuser,
	})
	require.NoError(t, err)
	return user
}
