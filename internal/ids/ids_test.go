package ids

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsSortableAndUnique(t *testing.T) {
	const n = 200
	out := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out[i] = New()
		}(i)
	}
	wg.Wait()

	seen := make(map[string]struct{}, n)
	for _, id := range out {
		require.True(t, Valid(id), id)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, n)
}

func TestNewAtOrdersByTime(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ids := []string{NewAt(base.Add(2 * time.Second)), NewAt(base), NewAt(base.Add(time.Second))}
	sort.Strings(ids)
	assert.Equal(t, NewAt(base)[:10], ids[0][:10])
}

func TestValid(t *testing.T) {
	assert.False(t, Valid(""))
	assert.False(t, Valid("not-an-id"))
	assert.True(t, Valid(New()))
}
