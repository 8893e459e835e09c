package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapCache(t *testing.T) {
	c := NewMapCache(0)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Put("a|10|1", "abcabcabca")
	v, ok := c.Get("a|10|1")
	assert.True(t, ok)
	assert.Equal(t, "abcabcabca", v)

	c.Put("a|10|1", "replaced")
	v, _ = c.Get("a|10|1")
	assert.Equal(t, "replaced", v)
	assert.Equal(t, 1, c.Size())
}

func TestMapCache_Evicts(t *testing.T) {
	c := NewMapCache(2)
	c.Put("one", "1")
	c.Put("two", "2")
	c.Put("three", "3")

	assert.Equal(t, 2, c.Size())
	_, ok := c.Get("one")
	assert.False(t, ok, "oldest entry evicted")
	v, ok := c.Get("three")
	assert.True(t, ok)
	assert.Equal(t, "3", v)
}

func TestMapCache_Concurrent(t *testing.T) {
	c := NewMapCache(50)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("%d-%d", i, j)
				c.Put(key, key)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, c.Size())
}
