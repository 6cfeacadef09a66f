package shard

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLocker_SerializesSameKey(t *testing.T) {
	l := New(8)
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.With("alice", func() {
				v := counter
				v++
				counter = v
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}

func TestLocker_SameKeySameStripe(t *testing.T) {
	l := New(0)
	assert.Equal(t, DefaultStripes, l.Stripes())
	assert.Same(t, l.stripe("bob"), l.stripe("bob"))
}

func TestLocker_UnlockReleases(t *testing.T) {
	l := New(1)
	unlock := l.Lock("a")
	unlock()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer l.Lock("b")()
	}()
	<-done
}

func TestKeyed_SerializesSameKey(t *testing.T) {
	var k Keyed
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k.With("alice", func() {
				v := counter
				v++
				counter = v
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Zero(t, k.Len(), "idle keys are forgotten")
}

func TestKeyed_DistinctKeysNeverBlock(t *testing.T) {
	k := NewKeyed()
	unlock := k.Lock("alice")
	defer unlock()

	// Every other key must be free while alice is held, including keys that
	// would share a stripe with alice in a Locker.
	l := New(4)
	for i := 0; i < 64; i++ {
		key := fmt.Sprintf("@user%d:example.org", i)
		if key == "alice" {
			continue
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			defer k.Lock(key)()
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("%s blocked behind alice (same stripe: %v)", key, l.stripe(key) == l.stripe("alice"))
		}
	}
	assert.Equal(t, 1, k.Len())
}
