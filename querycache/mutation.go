package querycache

import "github.com/puzpuzpuz/xsync/v3"

// MutationState is where the latest write on an id stands.
type MutationState int

const (
	MutationIdle MutationState = iota
	MutationOptimistic
	MutationConfirmed
	MutationRolledBack
)

func (s MutationState) String() string {
	switch s {
	case MutationOptimistic:
		return "optimistically_applied"
	case MutationConfirmed:
		return "confirmed"
	case MutationRolledBack:
		return "rolled_back_via_refetch"
	}
	return "idle"
}

type tracker struct {
	states *xsync.MapOf[string, MutationState]
}

func newTracker() *tracker {
	return &tracker{states: xsync.NewMapOf[string, MutationState]()}
}

func (t *tracker) set(id string, s MutationState) {
	t.states.Store(id, s)
}

func (t *tracker) get(id string) MutationState {
	s, ok := t.states.Load(id)
	if !ok {
		return MutationIdle
	}
	return s
}

func (t *tracker) pending() int {
	n := 0
	t.states.Range(func(_ string, s MutationState) bool {
		if s == MutationOptimistic {
			n++
		}
		return true
	})
	return n
}

func (t *tracker) reset() {
	t.states.Clear()
}
