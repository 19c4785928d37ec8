package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/nakedarizona/Pills-bot/internal/access"
	"github.com/nakedarizona/Pills-bot/internal/adherence"
	"github.com/nakedarizona/Pills-bot/internal/domain"
	"github.com/nakedarizona/Pills-bot/internal/store"
)

// Dispatcher is the minimal interface the clock needs to deliver
// notifications. telegram.Dispatcher implements it. Errors are reported,
// never retried: a lost reminder is superseded by the evening digest.
type Dispatcher interface {
	SendReminder(d domain.DueDose, day string) error
	SendDigest(chatID int64, mention, day string, items []domain.OutstandingDose) error
}

// Clock is the single recurring scheduler. One tick per minute computes
// due reminders (exact slot match in the configured timezone), fires the
// evening digest at the configured minute, and rolls stale records into
// missed on day change.
type Clock struct {
	repo     store.Repo
	tracker  *adherence.Tracker
	disp     Dispatcher
	log      *zap.Logger
	loc      *time.Location
	eveningM int
	interval time.Duration

	lastSweptDay  string
	lastDigestDay string
	done          chan struct{}
}

// New creates the reminder clock. Tick cadence is fixed at one minute.
func New(repo store.Repo, tracker *adherence.Tracker, disp Dispatcher, log *zap.Logger, loc *time.Location, eveningM int) *Clock {
	return &Clock{
		repo:     repo,
		tracker:  tracker,
		disp:     disp,
		log:      log,
		loc:      loc,
		eveningM: eveningM,
		interval: time.Minute,
		done:     make(chan struct{}),
	}
}

// Run starts the loop until ctx is canceled. The in-flight tick always
// finishes its batch; Done is closed afterwards so the app can drain.
func (c *Clock) Run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("reminder clock stopping")
			return
		case <-ticker.C:
			c.tickAt(ctx, time.Now().In(c.loc))
		}
	}
}

// Done is closed once Run has returned.
func (c *Clock) Done() <-chan struct{} { return c.done }

// tickAt performs one scheduling cycle for the given wall-clock moment.
// Order matters: rollover first, then due reminders, then the digest, so
// a dose scheduled exactly at the digest minute is reminded before it is
// listed as outstanding.
func (c *Clock) tickAt(ctx context.Context, now time.Time) {
	day := domain.Day(now)
	minute := domain.MinuteOfDay(now)

	if c.lastSweptDay != day {
		n, err := c.tracker.SweepStale(ctx, access.System(), day)
		if err != nil {
			c.log.Error("stale sweep failed", zap.Error(err))
		} else {
			c.lastSweptDay = day
			if n > 0 {
				c.log.Info("rolled stale doses into missed", zap.Int64("count", n))
			}
		}
	}

	c.remind(ctx, day, minute)

	// At-or-after comparison, and the day guard moves only on success:
	// a transient store error at the digest minute (or a restart shortly
	// after it) retries on the next tick instead of skipping the day.
	if minute >= c.eveningM && c.lastDigestDay != day {
		if err := c.digest(ctx, day); err != nil {
			c.log.Error("digest pass failed", zap.Error(err))
		} else {
			c.lastDigestDay = day
		}
	}
}

// remind handles every (user, pill, slot) due at this exact minute.
// Per-item failures are logged and skipped; one bad pill never aborts
// the rest of the batch.
func (c *Clock) remind(ctx context.Context, day string, minute int) {
	due, err := c.repo.ListDue(ctx, minute)
	if err != nil {
		c.log.Error("ListDue failed", zap.Error(err))
		return
	}
	for _, d := range due {
		// Commit the reminded transition before dispatch: a restart
		// must not re-remind, and a failed delivery must not roll back.
		send, err := c.tracker.EnsureReminded(ctx, access.System(), d, day)
		if err != nil {
			c.log.Error("reminder transition failed",
				zap.Error(err),
				zap.Int64("userID", d.UserID),
				zap.Int64("pillID", d.PillID),
			)
			continue
		}
		if !send {
			continue
		}
		if err := c.disp.SendReminder(d, day); err != nil {
			c.log.Error("reminder delivery failed",
				zap.Error(err),
				zap.Int64("chatID", d.ChatID),
				zap.Int64("pillID", d.PillID),
			)
			c.dropGoneRecipient(ctx, d.UserID, err)
		}
	}
}

// dropGoneRecipient deactivates a user whose chat rejects deliveries
// (blocked the bot, left the group). Reminders stop until the user runs
// /start again, which reactivates the account.
func (c *Clock) dropGoneRecipient(ctx context.Context, userID int64, err error) {
	if !errors.Is(err, domain.ErrRecipientGone) {
		return
	}
	if err := c.repo.SetUserActive(ctx, userID, false); err != nil {
		c.log.Error("deactivate gone recipient failed",
			zap.Error(err),
			zap.Int64("userID", userID),
		)
		return
	}
	c.log.Info("deactivated gone recipient", zap.Int64("userID", userID))
}

// digest sends each user one evening message listing today's doses still
// not confirmed as taken. A non-nil return means the pass never ran and
// must be retried on the next tick; per-user delivery failures do not
// fail the pass.
func (c *Clock) digest(ctx context.Context, day string) error {
	out, err := c.repo.ListOutstanding(ctx, day)
	if err != nil {
		return err
	}
	if len(out) == 0 {
		return nil
	}

	// Rows arrive ordered by user id; group preserving that order.
	var (
		order  []int64
		byUser = make(map[int64][]domain.OutstandingDose)
	)
	for _, o := range out {
		if _, ok := byUser[o.UserID]; !ok {
			order = append(order, o.UserID)
		}
		byUser[o.UserID] = append(byUser[o.UserID], o)
	}

	for _, userID := range order {
		items := byUser[userID]
		if err := c.disp.SendDigest(items[0].ChatID, items[0].Mention(), day, items); err != nil {
			c.log.Error("digest delivery failed",
				zap.Error(err),
				zap.Int64("userID", userID),
			)
			c.dropGoneRecipient(ctx, userID, err)
		}
	}
	return nil
}
