package hooks

// Phase is one of the five fixed interception points around a page action.
type Phase int

const (
	BeforeExec Phase = iota
	OnExec
	OnSuccess
	OnError
	AfterExec

	numPhases = int(AfterExec) + 1
)

// Phases lists every phase in execution order.
var Phases = [...]Phase{BeforeExec, OnExec, OnSuccess, OnError, AfterExec}

var phaseNames = [numPhases]string{
	BeforeExec: "before_exec",
	OnExec:     "on_exec",
	OnSuccess:  "on_success",
	OnError:    "on_error",
	AfterExec:  "after_exec",
}

func (p Phase) String() string {
	if !p.Valid() {
		return "unknown"
	}
	return phaseNames[p]
}

// Valid reports whether p is one of the defined phases.
func (p Phase) Valid() bool {
	return p >= BeforeExec && p <= AfterExec
}
