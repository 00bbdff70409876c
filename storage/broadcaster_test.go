package storage_test

import (
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/storage"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu      sync.Mutex
	changes []storage.Change
}

func (c *collector) listen(ch storage.Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, ch)
}

func (c *collector) keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.changes))
	for _, ch := range c.changes {
		keys = append(keys, ch.Key)
	}
	return keys
}

func TestBroadcaster_SkipsOrigin(t *testing.T) {
	b := storage.NewBroadcaster()
	tabA, tabB := storage.NewOrigin(), storage.NewOrigin()

	var a, bc collector
	unsubA := b.Subscribe(tabA, a.listen)
	defer unsubA()
	unsubB := b.Subscribe(tabB, bc.listen)
	defer unsubB()

	b.Publish(storage.Change{Key: "credentials", Origin: tabA})
	b.Publish(storage.Change{Key: "cached_user", Origin: tabA})

	require.Eventually(t, func() bool { return len(bc.keys()) == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"credentials", "cached_user"}, bc.keys(), "delivered in write order")
	require.Empty(t, a.keys(), "writer does not see its own changes")
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := storage.NewBroadcaster()
	var c collector
	unsub := b.Subscribe(storage.NewOrigin(), c.listen)
	require.Equal(t, 1, b.Len())

	unsub()
	unsub()
	require.Equal(t, 0, b.Len())

	b.Publish(storage.Change{Key: "credentials"})
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, c.keys())
}
