package trade

// ConfirmPolicy decides whether a plain confirmation suffices or a secondary
// explicit acknowledgment must be interposed first.
//
// The money total (own offer + counterpart's offer) and the exp total are
// each compared independently against the same threshold; either one
// exceeding it escalates. The secondary-step bit lives on the session and is
// cleared by any offer edit, so a re-edited large offer escalates again.
type ConfirmPolicy struct {
	Threshold float64
}

// Confirm attempts to mark participant p as confirmed on s.
//
// Returns (true, nil) when the secondary step is required: the session is NOT
// marked confirmed and the caller must route p through an explicit
// acknowledgment, then call AcceptSecondary. Returns (false, nil) when the
// confirmation was applied.
func (c ConfirmPolicy) Confirm(s *Session, p string) (secondary bool, err error) {
	if !s.IsParticipant(p) {
		return false, ErrNotParticipant
	}
	if c.escalates(s, p) && !s.SecondaryDone(p) {
		return true, nil
	}
	if err := s.SetConfirmed(p, true); err != nil {
		return false, err
	}
	return false, nil
}

// AcceptSecondary records the explicit acknowledgment and applies the
// confirmation that Confirm withheld.
func (c ConfirmPolicy) AcceptSecondary(s *Session, p string) error {
	if err := s.MarkSecondaryDone(p); err != nil {
		return err
	}
	return s.SetConfirmed(p, true)
}

func (c ConfirmPolicy) escalates(s *Session, p string) bool {
	own := s.Offer(p)
	other := s.Offer(s.Other(p))
	if own.Money+other.Money > c.Threshold {
		return true
	}
	if float64(own.Exp+other.Exp) > c.Threshold {
		return true
	}
	return false
}
