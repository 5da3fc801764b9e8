package frontier

import "container/heap"

// entry is one URL waiting in the in-memory frontier: the admitted
// candidate plus its priority and a monotonic sequence number used to
// break ties in FIFO order (lower sequence == discovered earlier).
type entry struct {
	candidate CrawlAdmissionCandidate
	priority  float64
	seq       uint64
}

// priorityHeap is a max-heap on priority, min-heap on seq for ties: the
// highest-priority, earliest-discovered candidate is always at index 0.
type priorityHeap []*entry

func (h priorityHeap) Len() int { return len(h) }

func (h priorityHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h priorityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *priorityHeap) Push(x any) {
	*h = append(*h, x.(*entry))
}

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

var _ heap.Interface = (*priorityHeap)(nil)
