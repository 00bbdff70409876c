package storagerepofake_test

import (
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/storage"
	storagerepofake "github.com/jrsteele09/go-auth-session/storage/repofake"
	"github.com/stretchr/testify/require"
)

func TestFakeStorageRepo_SharedAcrossTabs(t *testing.T) {
	shared := storagerepofake.NewShared()
	tabA, tabB := shared.Tab(), shared.Tab()
	require.NotEqual(t, tabA.Origin(), tabB.Origin())

	var mu sync.Mutex
	var seenByB []storage.Change
	unsub, err := tabB.Subscribe(func(c storage.Change) {
		mu.Lock()
		defer mu.Unlock()
		seenByB = append(seenByB, c)
	})
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, tabA.Set("credentials", "v1"))
	v, err := tabB.Get("credentials")
	require.NoError(t, err)
	require.Equal(t, "v1", v)

	require.NoError(t, tabA.Delete("credentials", "missing"))
	_, err = tabB.Get("credentials")
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seenByB) == 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	require.Equal(t, tabA.Origin(), seenByB[0].Origin)
	mu.Unlock()
}

func TestFakeStorageRepo_FaultInjection(t *testing.T) {
	repo := storagerepofake.NewFakeStorageRepo()
	require.NoError(t, repo.Set("k", "v"))

	repo.Shared().FailReads(true)
	_, err := repo.Get("k")
	require.ErrorIs(t, err, storage.ErrUnavailable)

	repo.Shared().FailWrites(true)
	require.ErrorIs(t, repo.Set("k", "v2"), storage.ErrUnavailable)
	require.ErrorIs(t, repo.Delete("k"), storage.ErrUnavailable)

	repo.Shared().FailReads(false)
	v, err := repo.Get("k")
	require.NoError(t, err)
	require.Equal(t, "v", v)
	require.Equal(t, int64(1), repo.Shared().Writes())
}
