package telegram

import (
	"testing"

	"github.com/nakedarizona/Pills-bot/internal/domain"
)

func TestTakenCallbackRoundTrip(t *testing.T) {
	data := takenCallback(42, 1200, "2025-05-04")
	if data != "taken:42:1200:2025-05-04" {
		t.Fatalf("payload = %q", data)
	}

	pillID, slotM, day, err := parseTakenCallback(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if pillID != 42 || slotM != 1200 || day != "2025-05-04" {
		t.Fatalf("got pill=%d slot=%d day=%s", pillID, slotM, day)
	}
}

// The confirmation button must carry the day it was issued for; a payload
// without one (or with a mangled one) is dropped, never treated as today.
func TestParseTakenCallbackRejectsMalformed(t *testing.T) {
	for _, data := range []string{
		"",
		"taken:",
		"taken:42",
		"taken:42:1200",
		"taken:x:1200:2025-05-04",
		"taken:42:xx:2025-05-04",
		"taken:42:1200:yesterday",
		"taken:42:1200:2025-5-4",
		"delpill:42:1200:2025-05-04",
		"taken:42:1200:2025-05-04:extra",
	} {
		if _, _, _, err := parseTakenCallback(data); err == nil {
			t.Errorf("parseTakenCallback(%q) accepted", data)
		}
	}
}

func TestPillsKeyboardOneRowPerPill(t *testing.T) {
	pills := []domain.Pill{
		{ID: 1, Name: "Аспирин", Dosage: "500мг"},
		{ID: 2, Name: "Витамин Д", Dosage: "1 капсула"},
	}
	kb := pillsKeyboard(pills, "delpill")
	if len(kb.InlineKeyboard) != 2 {
		t.Fatalf("rows = %d, want 2", len(kb.InlineKeyboard))
	}
	btn := kb.InlineKeyboard[1][0]
	if btn.CallbackData == nil || *btn.CallbackData != "delpill:2" {
		t.Fatalf("callback data = %v", btn.CallbackData)
	}
}

func TestStatusIcon(t *testing.T) {
	cases := map[domain.DoseStatus]string{
		domain.StatusPending:  "⏳",
		domain.StatusReminded: "🔔",
		domain.StatusTaken:    "✅",
		domain.StatusMissed:   "❌",
	}
	for status, want := range cases {
		if got := statusIcon(status); got != want {
			t.Errorf("statusIcon(%s) = %s, want %s", status, got, want)
		}
	}
}

func TestScheduleKeyboard(t *testing.T) {
	p := &domain.Pill{ID: 7, Name: "Аспирин", Slots: []int{480, 1200}}
	kb := scheduleKeyboard(p)

	var remove, add []string
	for _, row := range kb.InlineKeyboard {
		for _, btn := range row {
			if btn.CallbackData == nil {
				continue
			}
			switch data := *btn.CallbackData; {
			case len(data) > 7 && data[:7] == "rmtime:":
				remove = append(remove, data)
			case len(data) > 8 && data[:8] == "addtime:":
				add = append(add, data)
			}
		}
	}

	if len(remove) != 2 || remove[0] != "rmtime:7:480" || remove[1] != "rmtime:7:1200" {
		t.Fatalf("remove buttons: %v", remove)
	}
	// Presets already in the schedule must not be offered again.
	for _, data := range add {
		if data == "addtime:7:480" || data == "addtime:7:1200" {
			t.Fatalf("scheduled preset offered for adding: %v", add)
		}
	}
	if len(add) != 6 {
		t.Fatalf("want 6 addable presets, got %d: %v", len(add), add)
	}

	last := kb.InlineKeyboard[len(kb.InlineKeyboard)-1][0]
	if last.CallbackData == nil || *last.CallbackData != "back_to_pills" {
		t.Fatalf("last row must navigate back, got %v", last.CallbackData)
	}
}
