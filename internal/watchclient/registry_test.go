package watchclient

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dgnsrekt/watchrelay/internal/collection"
)

func drained(r *Registry) bool {
	select {
	case <-r.Changed():
		return true
	default:
		return false
	}
}

func TestRegistryRefCounting(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	r := NewRegistry()
	var open []func()
	subs, unsubs := 0, 0
	for i := 0; i < 500; i++ {
		if len(open) > 0 && rng.Intn(2) == 0 {
			j := rng.Intn(len(open))
			open[j]()
			open = append(open[:j], open[j+1:]...)
			unsubs++
		} else {
			open = append(open, r.Subscribe(pods))
			subs++
		}
		assert.Equal(t, subs > unsubs, r.Has(pods), "step %d", i)
		assert.Equal(t, subs-unsubs, r.Count(pods), "step %d", i)
	}
}

func TestRegistryUnsubscribeIsIdempotent(t *testing.T) {
	r := NewRegistry()
	first := r.Subscribe(pods)
	second := r.Subscribe(pods)
	first()
	first()
	assert.True(t, r.Has(pods))
	second()
	assert.False(t, r.Has(pods))
	assert.Empty(t, r.Active())
}

func TestRegistryNotifiesOnActiveSetChanges(t *testing.T) {
	r := NewRegistry()
	assert.False(t, drained(r))

	a := r.Subscribe(pods)
	assert.True(t, drained(r))

	b := r.Subscribe(pods)
	assert.False(t, drained(r), "second subscriber does not change the active set")

	a()
	assert.False(t, drained(r))
	b()
	assert.True(t, drained(r))

	// Bursts collapse into one signal.
	r.Subscribe(services)
	r.Subscribe(deploys)
	assert.True(t, drained(r))
	assert.False(t, drained(r))
}

func TestRegistryActiveIsSorted(t *testing.T) {
	r := NewRegistry()
	r.Subscribe(services)
	r.Subscribe(deploys)
	r.Subscribe(pods)
	assert.Equal(t, []collection.Ref{pods, services, deploys}, r.Active())
}
