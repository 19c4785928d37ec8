// Package adherence tracks per (user, pill, day, slot) dose state.
package adherence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nakedarizona/Pills-bot/internal/access"
	"github.com/nakedarizona/Pills-bot/internal/domain"
	"github.com/nakedarizona/Pills-bot/internal/store"
)

// Tracker applies the dose state machine on top of the store. Records are
// created lazily: a slot has an implicit pending record until the clock
// or a query first touches it.
type Tracker struct {
	repo store.Repo
	gate *access.Gate
	loc  *time.Location
}

func NewTracker(repo store.Repo, gate *access.Gate, loc *time.Location) *Tracker {
	return &Tracker{repo: repo, gate: gate, loc: loc}
}

func (t *Tracker) today() string {
	return domain.Day(time.Now().In(t.loc))
}

// MarkTaken confirms a dose for (pill, day, slot). Taking early (before
// the reminder fired) is allowed. Repeat confirmation fails with
// ErrAlreadyTaken; confirming after the rollover closed the window fails
// with ErrAlreadyMissed.
func (t *Tracker) MarkTaken(ctx context.Context, actor access.Actor, pillID int64, day string, slotM int) error {
	p, err := t.repo.GetPill(ctx, pillID)
	if err != nil {
		return err
	}
	if err := t.gate.Allow(actor, p.UserID); err != nil {
		return err
	}
	if !hasSlot(p.Slots, slotM) {
		return fmt.Errorf("%w: no %s dose for %s", domain.ErrNotFound, domain.FormatMinutes(slotM), p.Name)
	}

	// Self-heal: if the day already rolled over, stale records must be
	// missed before we judge this confirmation.
	if _, err := t.repo.SweepMissed(ctx, t.today()); err != nil {
		return fmt.Errorf("sweep stale records: %w", err)
	}

	rec, err := t.ensureRecord(ctx, p, day, slotM)
	if err != nil {
		return err
	}
	if day < t.today() && !rec.Status.Terminal() {
		// A prior-day record that escaped the sweep (e.g. created just
		// now by the lazy path) is still a closed window.
		return domain.ErrAlreadyMissed
	}
	if err := domain.CheckTransition(rec.Status, domain.StatusTaken); err != nil {
		return err
	}
	return t.repo.SetDoseStatus(ctx, rec.ID, domain.StatusTaken, time.Now())
}

// QueryToday returns the actor's dose plan for the current date, one item
// per (pill, slot), ordered by slot then pill name. Touching the day
// materializes pending records, so N dosing times always yield exactly N
// records.
func (t *Tracker) QueryToday(ctx context.Context, actor access.Actor) ([]domain.TodayItem, error) {
	if actor.IsSystem() {
		return nil, fmt.Errorf("query_today requires a user actor")
	}
	day := t.today()
	if _, err := t.repo.SweepMissed(ctx, day); err != nil {
		return nil, fmt.Errorf("sweep stale records: %w", err)
	}

	pillList, err := t.repo.ListPills(ctx, actor.UserID())
	if err != nil {
		return nil, err
	}

	var items []domain.TodayItem
	for i := range pillList {
		p := &pillList[i]
		for _, slot := range p.Slots {
			rec, err := t.ensureRecord(ctx, p, day, slot)
			if err != nil {
				return nil, err
			}
			items = append(items, domain.TodayItem{Pill: *p, SlotM: slot, Status: rec.Status})
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].SlotM != items[j].SlotM {
			return items[i].SlotM < items[j].SlotM
		}
		return items[i].Pill.Name < items[j].Pill.Name
	})
	return items, nil
}

// EnsureReminded moves the (pill, day, slot) record from pending to
// reminded and reports whether a reminder should be dispatched. The
// transition is persisted before any delivery happens, so a restart
// cannot re-remind a slot that already fired. Called by the clock with
// system scope.
func (t *Tracker) EnsureReminded(ctx context.Context, actor access.Actor, d domain.DueDose, day string) (bool, error) {
	if !actor.IsSystem() {
		return false, domain.ErrPermissionDenied
	}
	rec, err := t.repo.GetDoseRecord(ctx, d.PillID, day, d.SlotM)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return false, err
		}
		id, err := t.repo.CreateDoseRecord(ctx, &domain.DoseRecord{
			UserID: d.UserID,
			PillID: d.PillID,
			Day:    day,
			SlotM:  d.SlotM,
			Status: domain.StatusPending,
		})
		if err != nil {
			return false, err
		}
		rec = &domain.DoseRecord{ID: id, Status: domain.StatusPending}
	}
	if rec.Status != domain.StatusPending {
		// Taken early, already reminded, or terminal: nothing to send.
		return false, nil
	}
	if err := t.repo.SetDoseStatus(ctx, rec.ID, domain.StatusReminded, time.Now()); err != nil {
		return false, err
	}
	return true, nil
}

// SweepStale flips every pending/reminded record older than today into
// missed and returns the count. Called from the midnight tick; reads run
// the same sweep so a process that slept through midnight catches up on
// next access.
func (t *Tracker) SweepStale(ctx context.Context, actor access.Actor, today string) (int64, error) {
	if !actor.IsSystem() {
		return 0, domain.ErrPermissionDenied
	}
	return t.repo.SweepMissed(ctx, today)
}

func (t *Tracker) ensureRecord(ctx context.Context, p *domain.Pill, day string, slotM int) (*domain.DoseRecord, error) {
	rec, err := t.repo.GetDoseRecord(ctx, p.ID, day, slotM)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	rec = &domain.DoseRecord{
		UserID: p.UserID,
		PillID: p.ID,
		Day:    day,
		SlotM:  slotM,
		Status: domain.StatusPending,
	}
	id, err := t.repo.CreateDoseRecord(ctx, rec)
	if err != nil {
		return nil, err
	}
	rec.ID = id
	return rec, nil
}

func hasSlot(slots []int, m int) bool {
	for _, s := range slots {
		if s == m {
			return true
		}
	}
	return false
}
