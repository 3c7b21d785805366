package arena

import "sort"

// Buffer is a planning request: Size bytes live from step First to step Last
// inclusive.
type Buffer struct {
	Size  int
	First int
	Last  int
}

func (b Buffer) overlapsInTime(o Buffer) bool {
	return b.First <= o.Last && o.First <= b.Last
}

// Plan places buffers greedily, largest first, at the lowest aligned offset
// that does not collide with any already placed buffer alive at the same
// time. It returns the offsets in input order and the arena high-water mark.
func Plan(bufs []Buffer) (offsets []int, peak int) {
	order := make([]int, len(bufs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return bufs[order[a]].Size > bufs[order[b]].Size
	})

	offsets = make([]int, len(bufs))
	placed := make([]int, 0, len(bufs))
	for _, i := range order {
		size := Align(bufs[i].Size)

		// Collect live neighbours sorted by offset and slide past them.
		live := make([]int, 0, len(placed))
		for _, j := range placed {
			if bufs[i].overlapsInTime(bufs[j]) {
				live = append(live, j)
			}
		}
		sort.Slice(live, func(a, b int) bool { return offsets[live[a]] < offsets[live[b]] })

		off := 0
		for _, j := range live {
			if off+size <= offsets[j] {
				break
			}
			if end := offsets[j] + Align(bufs[j].Size); end > off {
				off = end
			}
		}

		offsets[i] = off
		placed = append(placed, i)
		if off+size > peak {
			peak = off + size
		}
	}
	return offsets, peak
}
