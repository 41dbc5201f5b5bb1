package ids

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateStringUnique(t *testing.T) {
	const n = 2000
	seen := make(map[string]struct{}, n)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < n/8; j++ {
				id := GenerateString()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
}

func TestGenerateMonotonicPerCall(t *testing.T) {
	a := Generate()
	b := Generate()
	assert.Less(t, a, b)
}
