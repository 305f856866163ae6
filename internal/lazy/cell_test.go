package lazy

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestCellComputesOnce(t *testing.T) {
	var (
		c     Cell[[]int]
		calls atomic.Int32
		start = make(chan struct{})
		wg    sync.WaitGroup
	)
	results := make([][]int, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], _ = c.Get(func() ([]int, error) {
				calls.Add(1)
				return []int{1, 2, 3}, nil
			})
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, c.Done())
	for _, r := range results {
		assert.Same(t, &results[0][0], &r[0])
	}
}

func TestCellKeepsError(t *testing.T) {
	var c Cell[string]
	assert.False(t, c.Done())

	boom := errors.New("boom")
	_, err := c.Get(func() (string, error) { return "", boom })
	assert.Same(t, boom, err)

	v, err := c.Get(func() (string, error) { return "late", nil })
	assert.Same(t, boom, err)
	assert.Empty(t, v)
}

func TestCellKeepsPanicAsError(t *testing.T) {
	var c Cell[[]string]

	v, err := c.Get(func() ([]string, error) {
		panic("corrupt table")
	})
	assert.Nil(t, v)
	assert.EqualError(t, err, "panic: corrupt table")
	assert.True(t, c.Done())

	v, again := c.Get(func() ([]string, error) { return []string{"late"}, nil })
	assert.Nil(t, v)
	assert.Same(t, err, again, "later callers see the same failure")
}
