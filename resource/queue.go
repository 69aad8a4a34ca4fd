// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package resource

import (
	"container/heap"
	"time"
)

// request is a pending load. One exists per entity at most.
type request struct {
	entity   Entity
	deadline time.Time
	priority int
	seq      uint64
	index    int
}

type unloadRequest struct {
	entity Entity
	scope  UnloadScope
}

// requestQueue orders loads by nearest deadline, then priority, then
// submission order. Requests without a deadline come last.
type requestQueue []*request

var _ heap.Interface = (*requestQueue)(nil)

func (q requestQueue) Len() int { return len(q) }

func (q requestQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	switch {
	case a.deadline.IsZero() != b.deadline.IsZero():
		return !a.deadline.IsZero()
	case !a.deadline.Equal(b.deadline):
		return a.deadline.Before(b.deadline)
	case a.priority != b.priority:
		return a.priority > b.priority
	default:
		return a.seq < b.seq
	}
}

func (q requestQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *requestQueue) Push(x any) {
	rq := x.(*request)
	rq.index = len(*q)
	*q = append(*q, rq)
}

func (q *requestQueue) Pop() any {
	old := *q
	n := len(old)
	rq := old[n-1]
	old[n-1] = nil
	rq.index = -1
	*q = old[:n-1]
	return rq
}

// merge folds a new request for the same entity into rq and reports
// whether its position in the queue has to be fixed.
func (rq *request) merge(deadline time.Time, priority int) bool {
	changed := false
	if !deadline.IsZero() && (rq.deadline.IsZero() || deadline.Before(rq.deadline)) {
		rq.deadline = deadline
		changed = true
	}
	if priority > rq.priority {
		rq.priority = priority
		changed = true
	}
	return changed
}
