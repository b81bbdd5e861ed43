package ring

// Buffer is a bounded FIFO. Once full, Push drops the oldest element.
// It is not safe for concurrent use, callers guard it with their own lock.
type Buffer[T any] struct {
	items []T
	start int
	size  int
}

func New[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		panic("ring: capacity must be positive")
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

func (b *Buffer[T]) Push(v T) {
	if b.size < len(b.items) {
		b.items[(b.start+b.size)%len(b.items)] = v
		b.size++
		return
	}
	b.items[b.start] = v
	b.start = (b.start + 1) % len(b.items)
}

func (b *Buffer[T]) Len() int {
	return b.size
}

func (b *Buffer[T]) Cap() int {
	return len(b.items)
}

// Slice returns a copy of the retained elements, oldest first.
func (b *Buffer[T]) Slice() []T {
	ret := make([]T, b.size)
	for i := range b.size {
		ret[i] = b.items[(b.start+i)%len(b.items)]
	}
	return ret
}
