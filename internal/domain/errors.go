package domain

import "errors"

var (
	// ErrNotFound is returned when a referenced pill, user or dose record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPermissionDenied is returned when an actor touches data owned by another user.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrAlreadyTaken is returned on a repeated take confirmation.
	ErrAlreadyTaken = errors.New("dose already taken")
	// ErrAlreadyMissed is returned when confirming a dose whose window closed at rollover.
	ErrAlreadyMissed = errors.New("dose already missed")
	// ErrRecipientGone is returned by delivery when the recipient blocked the
	// bot or left the chat; the clock deactivates the user on seeing it.
	ErrRecipientGone = errors.New("recipient gone")
)
