package orderbook

// entryHeap implements heap.Interface over resting entries, best priority
// on top. Use container/heap to manipulate it (Init, Push, Pop, Remove).
// Swap keeps each entry's index current so arbitrary removal (cancel) is
// heap.Remove(h, e.index) instead of a linear scan.
type entryHeap []*Entry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return better(h[i], h[j]) }

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x interface{}) {
	e := x.(*Entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[0 : n-1]
	return e
}

// Peek returns the top entry without removing it, or nil when empty.
func (h entryHeap) Peek() *Entry {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}
