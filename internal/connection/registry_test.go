package connection

import (
	"errors"
	"sync"
	"testing"

	"github.com/nfrund/roomrelay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (f *fakeTransport) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, payload)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	tr := &fakeTransport{}

	id := r.Register(tr)
	require.NotEmpty(t, id)

	assert.True(t, r.IsAlive(id))
	got, err := r.Resolve(id)
	require.NoError(t, err)
	assert.Same(t, tr, got)
	assert.Equal(t, 1, r.LiveCount())
}

func TestRegistry_UnknownID(t *testing.T) {
	r := NewRegistry()

	assert.False(t, r.IsAlive("missing"))
	_, err := r.Resolve("missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRegistry_MarkDead(t *testing.T) {
	r := NewRegistry()
	id := r.Register(&fakeTransport{})

	r.MarkDead(id)

	assert.False(t, r.IsAlive(id))
	_, err := r.Resolve(id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 0, r.LiveCount())

	// Marking twice or marking unknown ids is harmless.
	r.MarkDead(id)
	r.MarkDead("missing")
}

func TestRegistry_Bind(t *testing.T) {
	r := NewRegistry()
	id := r.Register(&fakeTransport{})

	_, ok := r.Owner(id)
	assert.False(t, ok, "owner should be empty until joined")

	require.NoError(t, r.Bind(id, 10))
	require.NoError(t, r.Bind(id, 10), "rebinding the same user is allowed")

	owner, ok := r.Owner(id)
	assert.True(t, ok)
	assert.Equal(t, int64(10), owner)

	err := r.Bind(id, 11)
	assert.ErrorIs(t, err, domain.ErrUserMismatch)

	err = r.Bind("missing", 10)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegistry_RemoveDoesNotCloseTransport(t *testing.T) {
	r := NewRegistry()
	tr := &fakeTransport{}
	id := r.Register(tr)

	r.Remove(id)

	assert.False(t, r.IsAlive(id))
	assert.False(t, tr.isClosed())
}

func TestRegistry_Prune(t *testing.T) {
	r := NewRegistry()
	live := &fakeTransport{}
	dead := &fakeTransport{}
	liveID := r.Register(live)
	deadID := r.Register(dead)
	r.MarkDead(deadID)

	removed := r.Prune()

	assert.Equal(t, 1, removed)
	assert.True(t, r.IsAlive(liveID))
	assert.True(t, dead.isClosed())
	assert.False(t, live.isClosed())
	_, ok := r.Owner(deadID)
	assert.False(t, ok)
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry()
	a, b := &fakeTransport{}, &fakeTransport{}
	r.Register(a)
	r.Register(b)

	r.CloseAll()

	assert.True(t, a.isClosed())
	assert.True(t, b.isClosed())
	assert.Equal(t, 0, r.LiveCount())
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := r.Register(&fakeTransport{})
			_ = r.IsAlive(id)
			r.MarkDead(id)
			r.Remove(id)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.LiveCount())
}
