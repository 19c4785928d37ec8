package domain

import "time"

// User is one chat participant. Users are registered on /start and never
// deleted, only deactivated.
type User struct {
	ID         int64
	TelegramID int64
	ChatID     int64
	Username   string
	FirstName  string
	Active     bool
	CreatedAt  time.Time // UTC
}

// Mention returns the address string used to target one user inside the
// shared chat.
func (u *User) Mention() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	if u.FirstName != "" {
		return u.FirstName
	}
	return "друг"
}

// Pill is a medication entry owned by exactly one user.
type Pill struct {
	ID        int64
	UserID    int64
	Name      string
	Dosage    string
	PhotoID   string // Telegram file_id, optional
	Notes     string
	Slots     []int // dosing times as minutes since midnight, unique, sorted
	CreatedAt time.Time
}

// DoseRecord tracks adherence for one pill, one dosing slot, one calendar day.
type DoseRecord struct {
	ID         int64
	UserID     int64
	PillID     int64
	Day        string // YYYY-MM-DD in the deployment timezone
	SlotM      int
	Status     DoseStatus
	RemindedAt *time.Time
	TakenAt    *time.Time
}

// DueDose is one (user, pill, slot) item the clock must remind right now.
// Carries everything the dispatcher needs so a tick does one store query.
type DueDose struct {
	UserID     int64
	TelegramID int64
	ChatID     int64
	Username   string
	FirstName  string
	PillID     int64
	PillName   string
	Dosage     string
	PhotoID    string
	SlotM      int
}

// Mention mirrors User.Mention for the joined row.
func (d *DueDose) Mention() string {
	u := User{Username: d.Username, FirstName: d.FirstName}
	return u.Mention()
}

// OutstandingDose is a non-taken record for the evening digest.
type OutstandingDose struct {
	RecordID   int64
	UserID     int64
	TelegramID int64
	ChatID     int64
	Username   string
	FirstName  string
	PillID     int64
	PillName   string
	Dosage     string
	SlotM      int
	Status     DoseStatus
}

// Mention mirrors User.Mention for the joined row.
func (d *OutstandingDose) Mention() string {
	u := User{Username: d.Username, FirstName: d.FirstName}
	return u.Mention()
}

// TodayItem is one row of a user's /today view.
type TodayItem struct {
	Pill   Pill
	SlotM  int
	Status DoseStatus
}
