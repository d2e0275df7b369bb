package channel

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errNoDog = errors.New("item has no dog")

// byDog partitions "<dog>/<suffix>" items by their dog.
func byDog(item string) (string, error) {
	id, _, ok := strings.Cut(item, "/")
	if !ok {
		return "", errNoDog
	}
	return id, nil
}

func feed(items []string, pause time.Duration) <-chan string {
	in := make(chan string, len(items))
	go func() {
		defer close(in)
		for _, item := range items {
			in <- item
			time.Sleep(pause)
		}
	}()
	return in
}

func collect(out <-chan []string, errs <-chan error) ([][]string, []error) {
	batches := make([][]string, 0)
	failures := make([]error, 0)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for b := range out {
			batches = append(batches, b)
		}
	}()
	go func() {
		defer wg.Done()
		for err := range errs {
			failures = append(failures, err)
		}
	}()
	wg.Wait()

	return batches, failures
}

func TestBatch(t *testing.T) {
	tests := []struct {
		name    string
		items   []string
		pause   time.Duration
		opts    BatchOptions[string]
		batches [][]string
		errs    []error
	}{
		{
			name:    "closed without items",
			opts:    BatchOptions[string]{MaxSize: 4},
			batches: [][]string{},
			errs:    []error{},
		},
		{
			name:  "full batches and a remainder",
			items: []string{"bello/outside", "bello/poop_done", "bello/walk_count", "luna/outside", "luna/mood"},
			opts:  BatchOptions[string]{MaxSize: 2},
			batches: [][]string{
				{"bello/outside", "bello/poop_done"},
				{"bello/walk_count", "luna/outside"},
				{"luna/mood"},
			},
			errs: []error{},
		},
		{
			name:  "one batch per dog",
			items: []string{"bello/outside", "luna/outside", "bello/walk_count", "luna/walk_count"},
			opts:  BatchOptions[string]{MaxSize: 2, PartitionBy: byDog},
			batches: [][]string{
				{"bello/outside", "bello/walk_count"},
				{"luna/outside", "luna/walk_count"},
			},
			errs: []error{},
		},
		{
			name:  "slow stream is cut by max wait",
			items: []string{"bello/feeding_morning", "bello/feeding_lunch", "bello/feeding_evening", "luna/feeding_morning", "luna/feeding_lunch", "luna/feeding_evening"},
			pause: 10 * time.Millisecond,
			opts:  BatchOptions[string]{MaxSize: 100, MaxWait: 25 * time.Millisecond},
			batches: [][]string{
				{"bello/feeding_morning", "bello/feeding_lunch", "bello/feeding_evening"},
				{"luna/feeding_morning", "luna/feeding_lunch", "luna/feeding_evening"},
			},
			errs: []error{},
		},
		{
			name:  "remainder is sent on close before max wait",
			items: []string{"luna/mood", "luna/energy_level"},
			pause: time.Millisecond,
			opts:  BatchOptions[string]{MaxSize: 50, MaxWait: time.Hour, PartitionBy: byDog},
			batches: [][]string{
				{"luna/mood", "luna/energy_level"},
			},
			errs: []error{},
		},
		{
			name:  "unpartitionable items are reported and skipped",
			items: []string{"bello/outside", "outside", "bello/poop_done", "poop_done"},
			opts:  BatchOptions[string]{MaxSize: 10, PartitionBy: byDog},
			batches: [][]string{
				{"bello/outside", "bello/poop_done"},
			},
			errs: []error{errNoDog, errNoDog},
		},
	}

	t.Parallel()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			batches, errs := collect(Batch(feed(tt.items, tt.pause), tt.opts))

			assert.ElementsMatch(t, tt.batches, batches)
			assert.ElementsMatch(t, tt.errs, errs)
		})
	}
}

func TestFilter(t *testing.T) {
	t.Parallel()

	in := make(chan int)
	go func() {
		for i := 0; i < 6; i++ {
			in <- i
		}
		close(in)
	}()

	var actual []int
	for v := range Filter(in, func(v int) bool { return v%2 == 0 }) {
		actual = append(actual, v)
	}
	assert.Equal(t, []int{0, 2, 4}, actual)
}

func TestTeeAndBuffered(t *testing.T) {
	t.Parallel()

	in := make(chan string)
	go func() {
		for _, s := range []string{"a", "b", "c"} {
			in <- s
		}
		close(in)
	}()

	outs := Tee(in, 2)
	buffered := Buffered(outs[1], 3)

	var first, second []string
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for s := range outs[0] {
			first = append(first, s)
		}
	}()
	go func() {
		defer wg.Done()
		for s := range buffered {
			second = append(second, s)
		}
	}()
	wg.Wait()

	assert.Equal(t, []string{"a", "b", "c"}, first)
	assert.Equal(t, []string{"a", "b", "c"}, second)
}
