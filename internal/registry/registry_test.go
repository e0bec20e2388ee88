package registry

import (
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (r *recordingSender) Send(event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newTestRegistry() *Registry {
	return NewRegistry(slog.Default())
}

func TestRegistry_RegisterAndCount(t *testing.T) {
	reg := newTestRegistry()

	id1 := reg.Register("user-alice", &recordingSender{})
	id2 := reg.Register("user-alice", &recordingSender{})
	require.NotEqual(t, id1, id2)

	assert.Equal(t, 2, reg.ConnectionCount("user-alice"))
	assert.Equal(t, 0, reg.ConnectionCount("user-bob"))
}

func TestRegistry_NotifyOnlyTargetUser(t *testing.T) {
	reg := newTestRegistry()

	aliceA := &recordingSender{}
	aliceB := &recordingSender{}
	bob := &recordingSender{}
	reg.Register("user-alice", aliceA)
	reg.Register("user-alice", aliceB)
	reg.Register("user-bob", bob)

	delivered := reg.NotifyUser("user-alice", "canvas_updated", map[string]string{"id": "canvas-1"})

	assert.Equal(t, 2, delivered)
	assert.Equal(t, 1, aliceA.count())
	assert.Equal(t, 1, aliceB.count())
	assert.Equal(t, 0, bob.count())
}

func TestRegistry_NotifySkipsFailingConnections(t *testing.T) {
	reg := newTestRegistry()

	healthy := &recordingSender{}
	broken := &recordingSender{err: errors.New("pipe closed")}
	reg.Register("user-alice", healthy)
	reg.Register("user-alice", broken)

	delivered := reg.NotifyUser("user-alice", "ping", nil)

	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1, healthy.count())
}

func TestRegistry_Unregister(t *testing.T) {
	reg := newTestRegistry()

	sender := &recordingSender{}
	connID := reg.Register("user-alice", sender)
	reg.Unregister("user-alice", connID)

	assert.Equal(t, 0, reg.ConnectionCount("user-alice"))
	assert.Equal(t, 0, reg.NotifyUser("user-alice", "ping", nil))

	// Unknown ids are ignored.
	reg.Unregister("user-alice", "no-such-conn")
	reg.Unregister("user-ghost", connID)
}

func TestRegistry_OnlineUsers(t *testing.T) {
	reg := newTestRegistry()

	reg.Register("user-alice", &recordingSender{})
	connID := reg.Register("user-bob", &recordingSender{})

	assert.ElementsMatch(t, []string{"user-alice", "user-bob"}, reg.OnlineUsers())

	reg.Unregister("user-bob", connID)
	assert.ElementsMatch(t, []string{"user-alice"}, reg.OnlineUsers())
}

func TestRegistry_ConcurrentRegisterNotify(t *testing.T) {
	reg := newTestRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			connID := reg.Register("user-alice", &recordingSender{})
			reg.Unregister("user-alice", connID)
		}()
		go func() {
			defer wg.Done()
			reg.NotifyUser("user-alice", "tick", nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, reg.ConnectionCount("user-alice"))
}
