package process

// Signal identifies one of the POSIX-style signals this kernel recognizes by
// semantics rather than by the host OS's numbering.
type Signal uint8

const (
	SigTerm Signal = iota
	SigInt
	SigQuit
	SigKill
	SigChld
	SigStop
	SigCont
	SigSegv
	SigFpe
	SigIll
	SigBus
	SigTrap

	numSignals
)

// SignalCount is the number of distinct signal kinds the kernel recognizes;
// any numeric signal argument at or above it is invalid.
const SignalCount = int(numSignals)

// Set is a bitmask over the signals above.
type Set uint32

// Has returns true if sig is present in s.
func (s Set) Has(sig Signal) bool { return s&(1<<sig) != 0 }

// Add returns s with sig set.
func (s Set) Add(sig Signal) Set { return s | (1 << sig) }

// Remove returns s with sig cleared.
func (s Set) Remove(sig Signal) Set { return s &^ (1 << sig) }

// DispositionKind describes how a process reacts to a deliverable signal.
type DispositionKind uint8

const (
	// DispositionDefault applies the signal's built-in default action.
	DispositionDefault DispositionKind = iota
	// DispositionIgnore drops the signal with no effect.
	DispositionIgnore
	// DispositionHandler transfers control to a user-mode handler address.
	DispositionHandler
)

// Disposition is a process's configured reaction to one signal kind.
type Disposition struct {
	Kind    DispositionKind
	Handler uintptr
}

// deliveryOrder is the priority order spec.md's fault-routing section
// mandates: KILL first (unblockable, always fatal), then CPU-derived
// signals, then termination signals, then CHLD, then STOP/CONT.
var deliveryOrder = [...]Signal{
	SigKill,
	SigSegv, SigFpe, SigIll, SigBus, SigTrap,
	SigTerm, SigInt, SigQuit,
	SigChld,
	SigStop, SigCont,
}

// terminatingByDefault reports whether sig's default disposition is process
// termination.
func terminatingByDefault(sig Signal) bool {
	switch sig {
	case SigKill, SigTerm, SigInt, SigQuit, SigSegv, SigFpe, SigIll, SigBus, SigTrap:
		return true
	default:
		return false
	}
}

// InitDefaultDispositions resets every signal to its default disposition.
// Called when a process record is (re)initialized by Spawn.
func (s *SignalState) InitDefaultDispositions() {
	for i := range s.Disposition {
		s.Disposition[i] = Disposition{Kind: DispositionDefault}
	}
}

// Raise marks sig as pending for delivery, unless it is currently blocked.
// KILL can never be blocked, matching spec.md's "unblockable" requirement.
func (s *SignalState) Raise(sig Signal) {
	if sig == SigKill {
		s.Pending = s.Pending.Add(sig)
		return
	}
	if s.Blocked.Has(sig) {
		return
	}
	s.Pending = s.Pending.Add(sig)
}

// NextDeliverable returns the highest-priority pending, unblocked signal (or
// ok=false if none is deliverable) following spec.md's KILL-first ordering.
// KILL is returned even if nominally blocked, since it cannot be blocked.
func (s *SignalState) NextDeliverable() (sig Signal, ok bool) {
	for _, candidate := range deliveryOrder {
		if !s.Pending.Has(candidate) {
			continue
		}
		if candidate != SigKill && s.Blocked.Has(candidate) {
			continue
		}
		return candidate, true
	}
	return 0, false
}

// Consume clears sig from the pending set once it has been acted on.
func (s *SignalState) Consume(sig Signal) {
	s.Pending = s.Pending.Remove(sig)
}
