package domain

import (
	"errors"
	"testing"
)

func TestCheckTransition_Allowed(t *testing.T) {
	allowed := []struct{ from, to DoseStatus }{
		{StatusPending, StatusReminded},
		{StatusPending, StatusTaken},
		{StatusPending, StatusMissed},
		{StatusReminded, StatusTaken},
		{StatusReminded, StatusMissed},
	}
	for _, tc := range allowed {
		if err := CheckTransition(tc.from, tc.to); err != nil {
			t.Errorf("%s -> %s: unexpected error %v", tc.from, tc.to, err)
		}
	}
}

func TestCheckTransition_TerminalStatesNeverMove(t *testing.T) {
	targets := []DoseStatus{StatusPending, StatusReminded, StatusTaken, StatusMissed}

	for _, to := range targets {
		if err := CheckTransition(StatusTaken, to); !errors.Is(err, ErrAlreadyTaken) {
			t.Errorf("taken -> %s: want ErrAlreadyTaken, got %v", to, err)
		}
		if err := CheckTransition(StatusMissed, to); !errors.Is(err, ErrAlreadyMissed) {
			t.Errorf("missed -> %s: want ErrAlreadyMissed, got %v", to, err)
		}
	}
}

func TestCheckTransition_NoBackwardFromReminded(t *testing.T) {
	if err := CheckTransition(StatusReminded, StatusPending); err == nil {
		t.Fatal("reminded -> pending must be rejected")
	}
}

func TestTerminal(t *testing.T) {
	if StatusPending.Terminal() || StatusReminded.Terminal() {
		t.Error("pending/reminded must not be terminal")
	}
	if !StatusTaken.Terminal() || !StatusMissed.Terminal() {
		t.Error("taken/missed must be terminal")
	}
}
