package domain

import "fmt"

// DoseStatus is the adherence state of one DoseRecord.
type DoseStatus string

const (
	StatusPending  DoseStatus = "pending"
	StatusReminded DoseStatus = "reminded"
	StatusTaken    DoseStatus = "taken"
	StatusMissed   DoseStatus = "missed"
)

// Terminal reports whether no further transition is allowed.
func (s DoseStatus) Terminal() bool {
	return s == StatusTaken || s == StatusMissed
}

// CheckTransition validates a state change:
//
//	pending  -> reminded (reminder fires)
//	pending  -> taken    (confirmed before the reminder)
//	reminded -> taken    (confirmed after the reminder)
//	pending|reminded -> missed (day rollover without confirmation)
//
// Taken and missed are terminal. Confirming an already-taken dose fails
// with ErrAlreadyTaken; confirming after rollover fails with
// ErrAlreadyMissed (the window has closed).
func CheckTransition(from, to DoseStatus) error {
	if from == to {
		switch from {
		case StatusTaken:
			return ErrAlreadyTaken
		case StatusMissed:
			return ErrAlreadyMissed
		}
		return nil
	}
	switch from {
	case StatusPending:
		if to == StatusReminded || to == StatusTaken || to == StatusMissed {
			return nil
		}
	case StatusReminded:
		if to == StatusTaken || to == StatusMissed {
			return nil
		}
	case StatusTaken:
		return ErrAlreadyTaken
	case StatusMissed:
		return ErrAlreadyMissed
	}
	return fmt.Errorf("invalid transition %s -> %s", from, to)
}
