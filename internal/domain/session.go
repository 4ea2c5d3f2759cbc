package domain

// Mode is the operating mode of the market session.
type Mode string

const (
	ModeAutomatic Mode = "automatic"
	ModeManual    Mode = "manual"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeAutomatic || m == ModeManual
}

// Phase is the trading phase of the market session.
type Phase string

const (
	PhaseClosed         Phase = "closed"
	PhasePreOpen        Phase = "pre_open"
	PhaseOpeningAuction Phase = "opening_auction"
	PhaseContinuous     Phase = "continuous"
	PhaseClosingAuction Phase = "closing_auction"
)

// phaseCycle is the daily order of phases.
var phaseCycle = []Phase{
	PhaseClosed,
	PhasePreOpen,
	PhaseOpeningAuction,
	PhaseContinuous,
	PhaseClosingAuction,
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	return p.index() >= 0
}

// Next returns the phase that follows p in the daily cycle.
func (p Phase) Next() Phase {
	i := p.index()
	if i < 0 {
		return PhaseClosed
	}
	return phaseCycle[(i+1)%len(phaseCycle)]
}

func (p Phase) index() int {
	for i, c := range phaseCycle {
		if c == p {
			return i
		}
	}
	return -1
}

// PathTo returns the phases visited, in order, when stepping forward through
// the cycle from p until target. It is empty when p == target.
func (p Phase) PathTo(target Phase) []Phase {
	if !p.Valid() || !target.Valid() {
		return nil
	}
	var path []Phase
	for cur := p; cur != target; {
		cur = cur.Next()
		path = append(path, cur)
	}
	return path
}

// SessionStatus is a point-in-time view of the market session.
type SessionStatus struct {
	Mode  Mode
	Phase Phase
}
