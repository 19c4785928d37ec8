package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nakedarizona/Pills-bot/internal/access"
	"github.com/nakedarizona/Pills-bot/internal/adherence"
	"github.com/nakedarizona/Pills-bot/internal/domain"
	"github.com/nakedarizona/Pills-bot/internal/store"
)

type sentDigest struct {
	chatID  int64
	mention string
	day     string
	items   []domain.OutstandingDose
}

// recordingDispatcher captures dispatched notifications; failPill makes a
// single pill's delivery fail (with failWith when set) to exercise
// per-item isolation and recipient deactivation.
type recordingDispatcher struct {
	reminders    []domain.DueDose
	reminderDays []string
	digests      []sentDigest
	failPill     int64
	failWith     error
}

func (r *recordingDispatcher) SendReminder(d domain.DueDose, day string) error {
	if r.failPill != 0 && d.PillID == r.failPill {
		if r.failWith != nil {
			return r.failWith
		}
		return errors.New("send failed")
	}
	r.reminders = append(r.reminders, d)
	r.reminderDays = append(r.reminderDays, day)
	return nil
}

func (r *recordingDispatcher) SendDigest(chatID int64, mention, day string, items []domain.OutstandingDose) error {
	r.digests = append(r.digests, sentDigest{chatID: chatID, mention: mention, day: day, items: items})
	return nil
}

type fixture struct {
	clock *Clock
	repo  *store.SQLiteRepo
	disp  *recordingDispatcher
	tr    *adherence.Tracker
}

const eveningM = 20 * 60 // 20:00

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo, err := store.OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	gate := access.NewGate()
	tr := adherence.NewTracker(repo, gate, time.UTC)
	disp := &recordingDispatcher{}
	clock := New(repo, tr, disp, zap.NewNop(), time.UTC, eveningM)
	return &fixture{clock: clock, repo: repo, disp: disp, tr: tr}
}

func (f *fixture) user(t *testing.T, tgID int64, username string) *domain.User {
	t.Helper()
	u, err := f.repo.GetOrCreateUser(context.Background(), tgID, 100, username, "")
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}
	return u
}

func (f *fixture) pill(t *testing.T, userID int64, name string, slots []int) int64 {
	t.Helper()
	id, err := f.repo.CreatePill(context.Background(), &domain.Pill{
		UserID: userID, Name: name, Dosage: "1 tab", Slots: slots,
	})
	if err != nil {
		t.Fatalf("CreatePill: %v", err)
	}
	return id
}

// todayAt builds a tick moment on the current UTC date.
func todayAt(hh, mm int) time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, time.UTC)
}

func TestTick_AspirinScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1 := f.user(t, 1, "alice")
	pillID := f.pill(t, u1.ID, "Aspirin", []int{8 * 60, 20 * 60})
	day := domain.Day(todayAt(8, 0))

	// 08:00 tick: one reminder to U1.
	f.clock.tickAt(ctx, todayAt(8, 0))
	if len(f.disp.reminders) != 1 {
		t.Fatalf("08:00 tick: want 1 reminder, got %d", len(f.disp.reminders))
	}
	if got := f.disp.reminders[0]; got.UserID != u1.ID || got.PillName != "Aspirin" || got.SlotM != 8*60 {
		t.Fatalf("unexpected reminder: %+v", got)
	}
	if f.disp.reminderDays[0] != day {
		t.Fatalf("reminder bound to wrong day: %s", f.disp.reminderDays[0])
	}

	// U1 confirms the morning dose.
	if err := f.tr.MarkTaken(ctx, access.User(u1.ID), pillID, day, 8*60); err != nil {
		t.Fatalf("MarkTaken: %v", err)
	}

	// 20:00 tick: the evening slot fires a separate reminder, and the
	// digest (same minute, after the reminder pass) lists it as the one
	// outstanding dose.
	f.clock.tickAt(ctx, todayAt(20, 0))
	if len(f.disp.reminders) != 2 {
		t.Fatalf("20:00 tick: want 2 reminders total, got %d", len(f.disp.reminders))
	}
	if got := f.disp.reminders[1]; got.SlotM != 20*60 {
		t.Fatalf("evening reminder slot: %+v", got)
	}
	if len(f.disp.digests) != 1 {
		t.Fatalf("want 1 digest, got %d", len(f.disp.digests))
	}
	dg := f.disp.digests[0]
	if dg.mention != "@alice" || dg.day != day || len(dg.items) != 1 || dg.items[0].SlotM != 20*60 {
		t.Fatalf("unexpected digest: %+v", dg)
	}

	// Midnight rollover: the unconfirmed 20:00 dose becomes missed.
	f.clock.tickAt(ctx, todayAt(8, 0).AddDate(0, 0, 1))
	rec, err := f.repo.GetDoseRecord(ctx, pillID, day, 20*60)
	if err != nil {
		t.Fatalf("GetDoseRecord: %v", err)
	}
	if rec.Status != domain.StatusMissed {
		t.Errorf("evening dose after rollover: want missed, got %s", rec.Status)
	}
	rec, _ = f.repo.GetDoseRecord(ctx, pillID, day, 8*60)
	if rec.Status != domain.StatusTaken {
		t.Errorf("morning dose must stay taken, got %s", rec.Status)
	}
}

func TestTick_TwoUsersSameSlot(t *testing.T) {
	f := newFixture(t)
	u1 := f.user(t, 1, "alice")
	u2 := f.user(t, 2, "bob")
	f.pill(t, u1.ID, "Aspirin", []int{8 * 60})
	f.pill(t, u2.ID, "Vitamin", []int{8 * 60})

	f.clock.tickAt(context.Background(), todayAt(8, 0))

	if len(f.disp.reminders) != 2 {
		t.Fatalf("want one reminder per user, got %d", len(f.disp.reminders))
	}
	byUser := map[int64]string{}
	for _, r := range f.disp.reminders {
		byUser[r.UserID] = r.PillName
	}
	if byUser[u1.ID] != "Aspirin" || byUser[u2.ID] != "Vitamin" {
		t.Fatalf("reminders reference wrong pills: %v", byUser)
	}
}

func TestTick_SameMinuteTwiceNoDuplicate(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, 1, "alice")
	f.pill(t, u.ID, "Aspirin", []int{8 * 60})

	f.clock.tickAt(context.Background(), todayAt(8, 0))
	f.clock.tickAt(context.Background(), todayAt(8, 0))

	if len(f.disp.reminders) != 1 {
		t.Fatalf("reminded state must dedupe same-minute ticks, got %d reminders", len(f.disp.reminders))
	}
}

func TestTick_DeliveryFailureIsolated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1 := f.user(t, 1, "alice")
	u2 := f.user(t, 2, "bob")
	badPill := f.pill(t, u1.ID, "Aspirin", []int{8 * 60})
	f.pill(t, u2.ID, "Vitamin", []int{8 * 60})
	f.disp.failPill = badPill

	f.clock.tickAt(ctx, todayAt(8, 0))

	// The failing item must not stop the other user's delivery.
	if len(f.disp.reminders) != 1 || f.disp.reminders[0].UserID != u2.ID {
		t.Fatalf("u2 must still be reminded: %+v", f.disp.reminders)
	}

	// The state transition was committed before dispatch: no retry on
	// the next tick, the digest is the catch-up path.
	day := domain.Day(todayAt(8, 0))
	rec, err := f.repo.GetDoseRecord(ctx, badPill, day, 8*60)
	if err != nil {
		t.Fatalf("GetDoseRecord: %v", err)
	}
	if rec.Status != domain.StatusReminded {
		t.Errorf("failed delivery must not roll back state, got %s", rec.Status)
	}

	f.clock.tickAt(ctx, todayAt(20, 0))
	if len(f.disp.digests) != 2 {
		t.Fatalf("want one digest per user with outstanding doses, got %d", len(f.disp.digests))
	}
	if f.disp.digests[0].items[0].PillID != badPill {
		t.Fatalf("digest must list the undelivered dose: %+v", f.disp.digests[0])
	}
}

func TestTick_DigestOncePerDay(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, 1, "alice")
	f.pill(t, u.ID, "Aspirin", []int{8 * 60})

	f.clock.tickAt(context.Background(), todayAt(8, 0))
	f.clock.tickAt(context.Background(), todayAt(20, 0))
	f.clock.tickAt(context.Background(), todayAt(20, 0))

	if len(f.disp.digests) != 1 {
		t.Fatalf("digest must fire once per day, got %d", len(f.disp.digests))
	}
}

func TestTick_NoDigestWhenAllTaken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, 1, "alice")
	pillID := f.pill(t, u.ID, "Aspirin", []int{8 * 60})
	day := domain.Day(todayAt(8, 0))

	f.clock.tickAt(ctx, todayAt(8, 0))
	if err := f.tr.MarkTaken(ctx, access.User(u.ID), pillID, day, 8*60); err != nil {
		t.Fatalf("MarkTaken: %v", err)
	}

	f.clock.tickAt(ctx, todayAt(20, 0))
	if len(f.disp.digests) != 0 {
		t.Fatalf("no digest expected when everything is taken, got %+v", f.disp.digests)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	go f.clock.Run(ctx)
	cancel()

	select {
	case <-f.clock.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("clock did not stop after cancel")
	}
}

func TestTick_GoneRecipientDeactivated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, 1, "alice")
	pillID := f.pill(t, u.ID, "Aspirin", []int{8 * 60, 20 * 60})
	f.disp.failPill = pillID
	f.disp.failWith = fmt.Errorf("%w: bot was blocked by the user", domain.ErrRecipientGone)

	f.clock.tickAt(ctx, todayAt(8, 0))

	got, err := f.repo.GetUserByTelegram(ctx, 1, 100)
	if err != nil {
		t.Fatalf("GetUserByTelegram: %v", err)
	}
	if got.Active {
		t.Fatal("blocked recipient must be deactivated")
	}

	// Deactivated users get no further reminders and no digest.
	f.disp.failPill = 0
	f.clock.tickAt(ctx, todayAt(20, 0))
	if len(f.disp.reminders) != 0 || len(f.disp.digests) != 0 {
		t.Fatalf("deactivated user still notified: %+v %+v", f.disp.reminders, f.disp.digests)
	}

	// Coming back via registration restores reminders.
	if _, err := f.repo.GetOrCreateUser(ctx, 1, 100, "alice", ""); err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}
	f.clock.tickAt(ctx, todayAt(8, 0).AddDate(0, 0, 1))
	if len(f.disp.reminders) != 1 {
		t.Fatalf("reactivated user must be reminded again, got %d", len(f.disp.reminders))
	}
}

// flakyRepo fails ListOutstanding until cleared.
type flakyRepo struct {
	store.Repo
	failList bool
}

func (f *flakyRepo) ListOutstanding(ctx context.Context, day string) ([]domain.OutstandingDose, error) {
	if f.failList {
		return nil, errors.New("database is locked")
	}
	return f.Repo.ListOutstanding(ctx, day)
}

func TestTick_DigestRetriedAfterStoreError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, 1, "alice")
	f.pill(t, u.ID, "Aspirin", []int{8 * 60})

	flaky := &flakyRepo{Repo: f.repo, failList: true}
	clock := New(flaky, f.tr, f.disp, zap.NewNop(), time.UTC, eveningM)

	clock.tickAt(ctx, todayAt(8, 0))
	clock.tickAt(ctx, todayAt(20, 0))
	if len(f.disp.digests) != 0 {
		t.Fatalf("digest must not fire while the store errors, got %d", len(f.disp.digests))
	}

	// One transient store error at the digest minute must not burn the
	// whole day; the next tick retries.
	flaky.failList = false
	clock.tickAt(ctx, todayAt(20, 1))
	if len(f.disp.digests) != 1 {
		t.Fatalf("digest must be retried after the store recovers, got %d", len(f.disp.digests))
	}
	clock.tickAt(ctx, todayAt(20, 2))
	if len(f.disp.digests) != 1 {
		t.Fatalf("successful digest must still fire once per day, got %d", len(f.disp.digests))
	}
}
