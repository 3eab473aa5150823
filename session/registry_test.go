package session

import (
	"context"
	"sync"
	"testing"

	"github.com/inoueakimitsu/cline/logger"
	"github.com/stretchr/testify/assert"
)

func TestRegistryEmpty(t *testing.T) {
	r := NewRegistry()
	s, ok := r.Visible()
	assert.False(t, ok)
	assert.Nil(t, s)
}

func TestRegistrySetAndClear(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	a := NewInstance(ctx, logger.NewTestLogger())
	defer a.Close()
	b := NewInstance(ctx, logger.NewTestLogger())
	defer b.Close()

	r.SetVisible(a)
	s, ok := r.Visible()
	assert.True(t, ok)
	assert.Equal(t, a.ID(), s.ID())

	r.SetVisible(b)
	assert.False(t, r.ClearVisible(a), "clearing a hidden session is a no-op")
	s, ok = r.Visible()
	assert.True(t, ok)
	assert.Equal(t, b.ID(), s.ID())

	assert.True(t, r.ClearVisible(b))
	_, ok = r.Visible()
	assert.False(t, ok)
}

func TestRegistryConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	a := NewInstance(ctx, logger.NewTestLogger())
	defer a.Close()

	var wg sync.WaitGroup
	for n := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if n%2 == 0 {
				r.SetVisible(a)
			} else {
				r.Visible()
			}
		}()
	}
	wg.Wait()
	_, ok := r.Visible()
	assert.True(t, ok)
}
