package queue

import "container/heap"

// pendingHeap orders tasks by (Priority, seq) so equal priorities keep arrival order.
type pendingHeap []*Task

var _ heap.Interface = (*pendingHeap)(nil)

func (h pendingHeap) Len() int { return len(h) }

func (h pendingHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h pendingHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *pendingHeap) Push(x any) {
	task := x.(*Task)
	task.index = len(*h)
	*h = append(*h, task)
}

func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	task.index = -1
	*h = old[:n-1]
	return task
}

// find returns the heap position of the task with the given id, or -1
func (h pendingHeap) find(id string) int {
	for i, task := range h {
		if task.ID == id {
			return i
		}
	}
	return -1
}
