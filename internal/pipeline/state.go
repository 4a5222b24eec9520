// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

// Stage names one of the three pipeline stages.
type Stage string

const (
	StageResolve    Stage = "resolve"
	StageDownload   Stage = "download"
	StageReferences Stage = "references"
)

const numStages = 3

func (s Stage) index() int {
	switch s {
	case StageResolve:
		return 0
	case StageDownload:
		return 1
	default:
		return 2
	}
}

// State is a stage's position in idle → running → draining → done.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// State reports the current state of a stage. Draining means the stage's
// input is exhausted and its workers are finishing.
func (p *Pipeline) State(s Stage) State {
	return State(p.stages[s.index()].Load())
}

// setState only moves forward.
func (p *Pipeline) setState(s Stage, st State) {
	slot := &p.stages[s.index()]
	for {
		cur := slot.Load()
		if State(cur) >= st {
			return
		}
		if slot.CompareAndSwap(cur, int32(st)) {
			return
		}
	}
}
