package accountno

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerator_Next(t *testing.T) {
	g, err := NewGenerator(1)
	require.NoError(t, err)

	number := g.Next()
	assert.True(t, strings.HasPrefix(number, Prefix))
	assert.LessOrEqual(t, len(number), 32)
}

func TestGenerator_Unique(t *testing.T) {
	g, err := NewGenerator(7)
	require.NoError(t, err)

	const workers, perWorker = 8, 500
	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, workers*perWorker)
		wg   sync.WaitGroup
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				n := g.Next()
				mu.Lock()
				seen[n] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*perWorker)
}

func TestNewGenerator_InvalidNode(t *testing.T) {
	_, err := NewGenerator(-1)
	assert.Error(t, err)
	_, err = NewGenerator(1024)
	assert.Error(t, err)
}
