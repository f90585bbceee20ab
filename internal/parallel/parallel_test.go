package parallel

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForCoversRange(t *testing.T) {
	var count atomic.Int64
	For(10000, func(i int) { count.Add(1) }, DefaultConfig())
	assert.Equal(t, int64(10000), count.Load())
}

func TestForSequentialWhenSmall(t *testing.T) {
	cfg := DefaultConfig()
	order := make([]int, 0, 8)
	For(8, func(i int) { order = append(order, i) }, cfg)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, order)
}

func TestForChunksDisjoint(t *testing.T) {
	seen := make([]atomic.Int32, 5000)
	ForChunks(5000, func(s, e int) {
		for i := s; i < e; i++ {
			seen[i].Add(1)
		}
	}, Config{Enabled: true, NumWorkers: 4, MinChunkSize: 16})
	for i := range seen {
		assert.Equal(t, int32(1), seen[i].Load())
	}
}
