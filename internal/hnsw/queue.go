package hnsw

// item is a node arena index with its distance to the current query.
type item struct {
	node uint32
	dist float32
}

// closer orders items by distance. Equal distances prefer the higher arena
// index, so the most recently inserted node ranks first.
func closer(a, b item) bool {
	if a.dist != b.dist {
		return a.dist < b.dist
	}
	return a.node > b.node
}

// queue is a binary heap of items. A max queue keeps the farthest item on
// top, a min queue the closest.
type queue struct {
	max   bool
	items []item
}

func (q *queue) reset() { q.items = q.items[:0] }

func (q *queue) len() int { return len(q.items) }

func (q *queue) top() item { return q.items[0] }

func (q *queue) less(i, j int) bool {
	if q.max {
		return closer(q.items[j], q.items[i])
	}
	return closer(q.items[i], q.items[j])
}

func (q *queue) push(it item) {
	q.items = append(q.items, it)
	q.up(len(q.items) - 1)
}

// pushBounded inserts it into a max queue holding at most capacity items,
// replacing the farthest item when it is closer.
func (q *queue) pushBounded(it item, capacity int) {
	if len(q.items) < capacity {
		q.push(it)
		return
	}
	if closer(it, q.items[0]) {
		q.items[0] = it
		q.down(0)
	}
}

func (q *queue) pop() item {
	n := len(q.items) - 1
	it := q.items[0]
	q.items[0] = q.items[n]
	q.items = q.items[:n]
	if n > 0 {
		q.down(0)
	}
	return it
}

func (q *queue) up(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !q.less(i, parent) {
			break
		}
		q.items[i], q.items[parent] = q.items[parent], q.items[i]
		i = parent
	}
}

func (q *queue) down(i int) {
	n := len(q.items)
	for {
		left := 2*i + 1
		if left >= n {
			break
		}
		child := left
		if right := left + 1; right < n && q.less(right, left) {
			child = right
		}
		if !q.less(child, i) {
			break
		}
		q.items[i], q.items[child] = q.items[child], q.items[i]
		i = child
	}
}

// drainSorted empties the queue and returns its items closest first.
func (q *queue) drainSorted(dst []item) []item {
	dst = dst[:0]
	for q.len() > 0 {
		dst = append(dst, q.pop())
	}
	if q.max {
		for i, j := 0, len(dst)-1; i < j; i, j = i+1, j-1 {
			dst[i], dst[j] = dst[j], dst[i]
		}
	}
	return dst
}
