package channel

// Filter forwards the items of in for which fn returns true.
func Filter[T any](in <-chan T, fn func(T) bool) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		for item := range in {
			if fn(item) {
				out <- item
			}
		}
	}()
	return out
}

// Tee copies every item of in to n outputs. Each output must be drained.
func Tee[T any](in <-chan T, n int) []<-chan T {
	outs := make([]chan T, n)
	result := make([]<-chan T, n)
	for i := range outs {
		outs[i] = make(chan T)
		result[i] = outs[i]
	}

	go func() {
		defer func() {
			for _, out := range outs {
				close(out)
			}
		}()
		for item := range in {
			for _, out := range outs {
				out <- item
			}
		}
	}()

	return result
}

// Buffered decouples a slow consumer from in by up to bufferSize items.
func Buffered[T any](in <-chan T, bufferSize int) <-chan T {
	out := make(chan T, bufferSize)
	go func() {
		defer close(out)
		for item := range in {
			out <- item
		}
	}()
	return out
}
