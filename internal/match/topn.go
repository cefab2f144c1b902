package match

import "container/heap"

// Scored pairs an item with its distance from the query.
type Scored[T any] struct {
	Item     T
	Distance int
	seq      int
}

// TopN keeps the n items with the smallest distance seen so far. Among equal
// distances the item offered first wins, so results are stable by scan order.
type TopN[T any] struct {
	n    int
	seq  int
	heap maxHeap[T]
}

// NewTopN returns a selector for the n closest items. n must be positive.
func NewTopN[T any](n int) *TopN[T] {
	if n < 1 {
		panic("match: TopN size must be positive")
	}
	return &TopN[T]{n: n, heap: make(maxHeap[T], 0, n)}
}

// Offer considers item. Once the selector is full, item only displaces the
// current worst entry if its distance is strictly smaller.
func (t *TopN[T]) Offer(item T, distance int) {
	s := Scored[T]{Item: item, Distance: distance, seq: t.seq}
	t.seq++

	if len(t.heap) < t.n {
		heap.Push(&t.heap, s)
		return
	}
	if distance < t.heap[0].Distance {
		t.heap[0] = s
		heap.Fix(&t.heap, 0)
	}
}

// Len returns the number of items currently held.
func (t *TopN[T]) Len() int { return len(t.heap) }

// Result drains the selector and returns the held items in ascending
// (distance, scan order).
func (t *TopN[T]) Result() []Scored[T] {
	out := make([]Scored[T], len(t.heap))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&t.heap).(Scored[T])
	}
	return out
}

// maxHeap orders by (distance, seq) descending so the root is the entry to
// evict next.
type maxHeap[T any] []Scored[T]

func (h maxHeap[T]) Len() int { return len(h) }

func (h maxHeap[T]) Less(i, j int) bool {
	if h[i].Distance != h[j].Distance {
		return h[i].Distance > h[j].Distance
	}
	return h[i].seq > h[j].seq
}

func (h maxHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *maxHeap[T]) Push(x any) { *h = append(*h, x.(Scored[T])) }

func (h *maxHeap[T]) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
