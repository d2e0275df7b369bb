package channel

import (
	"sort"
	"time"
)

type Partitioner[T any] func(T) (string, error)

type BatchOptions[T any] struct {
	// MaxSize is the maximum number of items to batch together.
	MaxSize int

	// MaxWait is the maximum amount of time an item waits before its batch is sent.
	MaxWait time.Duration

	// PartitionBy returns a key to batch together items that share it.
	// If PartitionBy is nil, all items are batched together.
	PartitionBy Partitioner[T]
}

func (o *BatchOptions[T]) defaults() {
	if o.MaxSize <= 0 {
		o.MaxSize = 100
	}

	if o.MaxWait <= 0 {
		o.MaxWait = 60 * time.Second
	}
}

type pendingBatch[T any] struct {
	items    []T
	deadline time.Time
}

// Batch groups items from in by size and age. Both returned channels must be
// drained; they are closed after in is closed and the remaining batches are sent.
func Batch[T any](in <-chan T, opts BatchOptions[T]) (<-chan []T, <-chan error) {
	opts.defaults()

	out := make(chan []T)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		pending := make(map[string]*pendingBatch[T])

		timer := time.NewTimer(opts.MaxWait)
		stopTimer(timer)
		armed := false

		rearm := func() {
			if armed {
				stopTimer(timer)
				armed = false
			}

			var next time.Time
			for _, b := range pending {
				if next.IsZero() || b.deadline.Before(next) {
					next = b.deadline
				}
			}
			if next.IsZero() {
				return
			}

			timer.Reset(time.Until(next))
			armed = true
		}

		for {
			var expired <-chan time.Time
			if armed {
				expired = timer.C
			}

			select {
			case item, ok := <-in:
				if !ok {
					keys := make([]string, 0, len(pending))
					for key := range pending {
						keys = append(keys, key)
					}
					sort.Slice(keys, func(i, j int) bool {
						return pending[keys[i]].deadline.Before(pending[keys[j]].deadline)
					})
					for _, key := range keys {
						out <- pending[key].items
					}
					stopTimer(timer)
					return
				}

				key := ""
				if opts.PartitionBy != nil {
					var err error
					key, err = opts.PartitionBy(item)
					if err != nil {
						errc <- err
						continue
					}
				}

				b, exists := pending[key]
				if !exists {
					b = &pendingBatch[T]{deadline: time.Now().Add(opts.MaxWait)}
					pending[key] = b
				}
				b.items = append(b.items, item)

				if len(b.items) >= opts.MaxSize {
					out <- b.items
					delete(pending, key)
					rearm()
				} else if !exists {
					rearm()
				}

			case <-expired:
				armed = false
				now := time.Now()
				for key, b := range pending {
					if !b.deadline.After(now) {
						out <- b.items
						delete(pending, key)
					}
				}
				rearm()
			}
		}
	}()

	return out, errc
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
