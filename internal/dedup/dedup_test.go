package dedup

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeenAfterMark(t *testing.T) {
	d := New(1000, 0.001, 16)

	key := "orders/create:web-1:450789469"
	assert.False(t, d.Seen(key))

	d.Mark(key)
	assert.True(t, d.Seen(key))
	assert.True(t, d.Seen(key))

	// A different delivery of the same order is a distinct key.
	assert.False(t, d.Seen("orders/create:web-2:450789469"))
}

func TestSeen_UnmarkedStaysNew(t *testing.T) {
	d := New(1000, 0.001, 16)

	// Checking a key any number of times must not mark it: a delivery that
	// failed downstream is checked again on redelivery and must pass.
	key := "orders/create:web-1:450789469"
	for range 3 {
		assert.False(t, d.Seen(key))
	}

	d.Mark(key)
	assert.True(t, d.Seen(key))
}

func TestMark_RingEviction(t *testing.T) {
	d := New(1000, 0.001, 4)

	for i := range 4 {
		d.Mark(fmt.Sprintf("key-%d", i))
	}

	// key-0 is evicted from the exact set; without confirmation the
	// bloom hit must not count as a duplicate.
	d.Mark("key-4")
	assert.False(t, d.Seen("key-0"))

	// key-4 is still confirmable.
	assert.True(t, d.Seen("key-4"))
}

func TestConcurrentAccess(t *testing.T) {
	d := New(10000, 0.001, 1024)

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				key := fmt.Sprintf("key-%d-%d", w, i)
				d.Seen(key)
				d.Mark(key)
			}
		}()
	}
	wg.Wait()

	for w := range 8 {
		for i := range 100 {
			assert.True(t, d.Seen(fmt.Sprintf("key-%d-%d", w, i)))
		}
	}
}

func TestNew_DefaultRecentSize(t *testing.T) {
	d := New(100, 0.01, 0)
	assert.Len(t, d.ring, 1024)
}
