package engine

// Observer receives notifications after successful commits. The api package
// implements it with Prometheus counters.
type Observer interface {
	Transitioned(ref SchemeRef, from, to State)
	PayoutRecorded(r PayoutResult)
}

type nopObserver struct{}

func (nopObserver) Transitioned(SchemeRef, State, State) {}
func (nopObserver) PayoutRecorded(PayoutResult)          {}
