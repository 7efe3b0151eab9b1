package mutation

import "sort"

// Less reports whether a drains before b: priority rank first, then
// EnqueuedAt ascending, then ID for a deterministic tiebreak.
func Less(a, b QueuedMutation) bool {
	if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
		return ra < rb
	}
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.ID < b.ID
}

// Sort orders ms in place in drain order.
func Sort(ms []QueuedMutation) {
	sort.SliceStable(ms, func(i, j int) bool { return Less(ms[i], ms[j]) })
}
