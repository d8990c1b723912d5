package pipeline

import (
	"container/heap"

	"her2dish/internal/models"
)

// cursor points at the next unmerged record of one input list.
type cursor struct {
	list int
	pos  int
}

type mergeHeap struct {
	lists   [][]models.CellRecord
	cursors []cursor
}

func (h *mergeHeap) Len() int { return len(h.cursors) }

func (h *mergeHeap) Less(i, j int) bool {
	a := h.lists[h.cursors[i].list][h.cursors[i].pos]
	b := h.lists[h.cursors[j].list][h.cursors[j].pos]
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return h.cursors[i].list < h.cursors[j].list
}

func (h *mergeHeap) Swap(i, j int) { h.cursors[i], h.cursors[j] = h.cursors[j], h.cursors[i] }

func (h *mergeHeap) Push(x any) { h.cursors = append(h.cursors, x.(cursor)) }

func (h *mergeHeap) Pop() any {
	old := h.cursors
	n := len(old)
	c := old[n-1]
	h.cursors = old[:n-1]
	return c
}

// Merge combines rankings that are each sorted by descending score into one
// ranking sorted by descending score. Records with equal scores keep the
// order of their input lists, and within a list their original order.
func Merge(lists ...[]models.CellRecord) []models.CellRecord {
	total := 0
	h := &mergeHeap{lists: lists}
	for i, l := range lists {
		total += len(l)
		if len(l) > 0 {
			h.cursors = append(h.cursors, cursor{list: i})
		}
	}
	heap.Init(h)

	out := make([]models.CellRecord, 0, total)
	for h.Len() > 0 {
		c := h.cursors[0]
		out = append(out, lists[c.list][c.pos])
		if c.pos+1 < len(lists[c.list]) {
			h.cursors[0].pos++
			heap.Fix(h, 0)
		} else {
			heap.Pop(h)
		}
	}
	return out
}
