package memory

// ElidedMarker replaces observation payloads pruned at snapshot time. The
// full payload stays in the store; only the rendered view is trimmed.
const ElidedMarker = "[observation elided: exceeds retention window]"

// RetentionPolicy bounds how much observation payload the rendered
// transcript carries back to the reasoning engine on multi-turn runs. The
// underlying log is never mutated; retention is a view-time transformation.
type RetentionPolicy struct {
	Enabled bool
	// KeepRecentActions is the number of newest action steps whose
	// observations are always rendered in full.
	KeepRecentActions int
	// MaxObservationChars truncates observations on older action steps.
	// Zero elides them entirely.
	MaxObservationChars int
}

// DefaultRetentionPolicy keeps the last 20 observations intact and trims
// older ones to 1000 characters.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		Enabled:             true,
		KeepRecentActions:   20,
		MaxObservationChars: 1000,
	}
}

// Snapshot returns the transcript rows with the retention policy applied.
// With retention disabled it is equivalent to Entries.
func (s *Store) Snapshot(p RetentionPolicy) []Entry {
	out := s.Entries()
	if !p.Enabled {
		return out
	}

	// Count action steps so the keep-window can be anchored at the tail.
	actions := 0
	for _, e := range out {
		if e.Step.Kind() == KindAction {
			actions++
		}
	}
	cutoff := actions - p.KeepRecentActions

	seen := 0
	for i, e := range out {
		as, ok := e.Step.(ActionStep)
		if !ok {
			continue
		}
		seen++
		if seen > cutoff {
			continue // inside the keep-window
		}
		if len(as.Observation) <= p.MaxObservationChars {
			continue
		}
		if p.MaxObservationChars == 0 {
			as.Observation = ElidedMarker
		} else {
			as.Observation = as.Observation[:p.MaxObservationChars] + "\n" + ElidedMarker
		}
		out[i].Step = as
	}
	return out
}
