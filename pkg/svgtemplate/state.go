package svgtemplate

import "fmt"

// Phase is the engine's position relative to the region being replaced.
type Phase uint8

const (
	// PhaseNormal passes tokens through.
	PhaseNormal Phase = iota
	// PhaseSkipping suppresses tokens until the replaced region closes.
	PhaseSkipping
	// PhaseAwaiting suppresses tokens inside an image group until its
	// geometry shape is found or the group closes.
	PhaseAwaiting
)

func (p Phase) String() string {
	switch p {
	case PhaseNormal:
		return "normal"
	case PhaseSkipping:
		return "skipping"
	case PhaseAwaiting:
		return "awaiting"
	default:
		return fmt.Sprintf("Phase(%d)", uint8(p))
	}
}

// ReplacementState is the per-render state of the engine. Depth counts the
// suppressed elements that are still open, the replaced element included, and
// moves by exactly one per element boundary. Pending names the image group
// whose geometry shape has not been seen yet.
//
// Invariants: Depth is zero exactly when the phase is PhaseNormal, and
// Pending is set exactly when the phase is PhaseAwaiting.
type ReplacementState struct {
	phase   Phase
	depth   int
	pending string
}

// Phase returns the current phase.
func (s *ReplacementState) Phase() Phase { return s.phase }

// Depth returns the number of open suppressed elements.
func (s *ReplacementState) Depth() int { return s.depth }

// Pending returns the id of the group awaiting its geometry shape.
func (s *ReplacementState) Pending() string { return s.pending }

// Suppressing reports whether tokens are currently dropped.
func (s *ReplacementState) Suppressing() bool { return s.phase != PhaseNormal }

// Skip starts suppressing the subtree of the element just opened.
func (s *ReplacementState) Skip() {
	s.phase = PhaseSkipping
	s.depth = 1
	s.pending = ""
}

// Await starts suppressing the image group id until its geometry shape arrives.
func (s *ReplacementState) Await(id string) {
	s.phase = PhaseAwaiting
	s.depth = 1
	s.pending = id
}

// Resolve marks the pending group's geometry shape as handled. The rest of
// the group is skipped.
func (s *ReplacementState) Resolve() {
	if s.phase != PhaseAwaiting {
		return
	}
	s.phase = PhaseSkipping
	s.pending = ""
}

// Open records a suppressed element start.
func (s *ReplacementState) Open() {
	if s.phase == PhaseNormal {
		return
	}
	s.depth++
}

// Close records a suppressed element end. Closing the outermost suppressed
// element returns to PhaseNormal.
func (s *ReplacementState) Close() {
	if s.depth == 0 {
		return
	}
	s.depth--
	if s.depth == 0 {
		s.phase = PhaseNormal
		s.pending = ""
	}
}
