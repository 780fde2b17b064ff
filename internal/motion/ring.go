package motion

// ring is a fixed-capacity FIFO; pushing into a full ring overwrites the oldest
// entry.
type ring struct {
	data []Snapshot
	head int // index of the oldest entry
	n    int
}

func newRing(capacity int) ring {
	return ring{data: make([]Snapshot, capacity)}
}

func (r *ring) push(s Snapshot) {
	if len(r.data) == 0 {
		return
	}
	if r.n < len(r.data) {
		r.data[(r.head+r.n)%len(r.data)] = s
		r.n++
		return
	}
	r.data[r.head] = s
	r.head = (r.head + 1) % len(r.data)
}

// at returns the i-th entry counting from the oldest.
func (r *ring) at(i int) Snapshot {
	return r.data[(r.head+i)%len(r.data)]
}

func (r *ring) slice() []Snapshot {
	out := make([]Snapshot, r.n)
	for i := range out {
		out[i] = r.at(i)
	}
	return out
}

func (r *ring) reset() {
	clear(r.data)
	r.head = 0
	r.n = 0
}
