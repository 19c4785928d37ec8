package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Registers the "sqlite" driver (pure Go).
	_ "modernc.org/sqlite"

	"github.com/nakedarizona/Pills-bot/internal/domain"
)

// SQLiteRepo implements Repo using an embedded SQLite database.
type SQLiteRepo struct{ db *sql.DB }

// OpenSQLite opens (or creates) the SQLite database at the given path,
// applies recommended PRAGMAs, runs SQL migrations, and returns a repository.
// Pass ":memory:" as path for an in-memory database (used by tests).
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepo, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Reasonable pooling for SQLite; it's a single-writer engine. The
	// single connection also serializes command handling against the
	// reminder clock's tick.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return &SQLiteRepo{db: db}, nil
}

// applyPragmas configures the SQLite connection for durability and concurrency.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying database resources.
func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}

// --- Users ---

// GetOrCreateUser returns the user registered for (telegramID, chatID),
// creating an active row on first contact. A deactivated user who comes
// back is reactivated: /start always restores reminders.
func (r *SQLiteRepo) GetOrCreateUser(ctx context.Context, telegramID, chatID int64, username, firstName string) (*domain.User, error) {
	u, err := r.GetUserByTelegram(ctx, telegramID, chatID)
	if err == nil {
		if !u.Active {
			if err := r.SetUserActive(ctx, u.ID, true); err != nil {
				return nil, err
			}
			u.Active = true
		}
		return u, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO users (telegram_id, chat_id, username, first_name, active, created_at)
		VALUES (?, ?, ?, ?, 1, ?)`,
		telegramID, chatID, username, firstName, now.Unix(),
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &domain.User{
		ID:         id,
		TelegramID: telegramID,
		ChatID:     chatID,
		Username:   username,
		FirstName:  firstName,
		Active:     true,
		CreatedAt:  now,
	}, nil
}

// GetUserByTelegram returns the user for a (telegram_id, chat_id) pair.
func (r *SQLiteRepo) GetUserByTelegram(ctx context.Context, telegramID, chatID int64) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, telegram_id, chat_id, username, first_name, active, created_at
		FROM users
		WHERE telegram_id = ? AND chat_id = ?`,
		telegramID, chatID,
	)
	return scanUser(row)
}

// SetUserActive soft-deactivates (or reactivates) a user. Users are never
// deleted.
func (r *SQLiteRepo) SetUserActive(ctx context.Context, id int64, active bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET active = ? WHERE id = ?`, boolToInt(active), id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func scanUser(row *sql.Row) (*domain.User, error) {
	var (
		u         domain.User
		activeInt int
		createdAt int64
	)
	err := row.Scan(&u.ID, &u.TelegramID, &u.ChatID, &u.Username, &u.FirstName, &activeInt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Active = activeInt != 0
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &u, nil
}

// --- Pills ---

// CreatePill inserts a pill together with its dosing slots in one
// transaction and returns the new pill id.
func (r *SQLiteRepo) CreatePill(ctx context.Context, p *domain.Pill) (int64, error) {
	if p == nil {
		return 0, errors.New("nil pill")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO pills (user_id, name, dosage, photo_id, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.UserID, p.Name, p.Dosage, p.PhotoID, p.Notes, now.Unix(),
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	for _, slot := range p.Slots {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pill_times (pill_id, slot_m) VALUES (?, ?)`, id, slot); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// GetPill returns a pill with its slots loaded (sorted ascending).
func (r *SQLiteRepo) GetPill(ctx context.Context, id int64) (*domain.Pill, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, dosage, photo_id, notes, created_at
		FROM pills
		WHERE id = ?`,
		id,
	)
	var (
		p         domain.Pill
		createdAt int64
	)
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Dosage, &p.PhotoID, &p.Notes, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt = time.Unix(createdAt, 0).UTC()

	p.Slots, err = r.pillSlots(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPills returns all pills of one user ordered by name, slots loaded.
func (r *SQLiteRepo) ListPills(ctx context.Context, userID int64) ([]domain.Pill, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, name, dosage, photo_id, notes, created_at
		FROM pills
		WHERE user_id = ?
		ORDER BY name, id`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.Pill
	for rows.Next() {
		var (
			p         domain.Pill
			createdAt int64
		)
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.Dosage, &p.PhotoID, &p.Notes, &createdAt); err != nil {
			return nil, err
		}
		p.CreatedAt = time.Unix(createdAt, 0).UTC()
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		if res[i].Slots, err = r.pillSlots(ctx, res[i].ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// DeletePill removes a pill; slots and dose records go with it via
// ON DELETE CASCADE.
func (r *SQLiteRepo) DeletePill(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM pills WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// AddPillSlot attaches one more dosing time to an existing pill.
func (r *SQLiteRepo) AddPillSlot(ctx context.Context, pillID int64, slotM int) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO pill_times (pill_id, slot_m) VALUES (?, ?)`, pillID, slotM)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrDuplicateSlot
	}
	return nil
}

// RemovePillSlot detaches a dosing time. Existing dose records for the
// slot stay untouched: the day's history survives a schedule edit.
func (r *SQLiteRepo) RemovePillSlot(ctx context.Context, pillID int64, slotM int) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM pill_times WHERE pill_id = ? AND slot_m = ?`, pillID, slotM)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *SQLiteRepo) pillSlots(ctx context.Context, pillID int64) ([]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT slot_m FROM pill_times WHERE pill_id = ? ORDER BY slot_m`, pillID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []int
	for rows.Next() {
		var m int
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		slots = append(slots, m)
	}
	return slots, rows.Err()
}

// --- Dose records ---

// GetDoseRecord returns the record for (pill, day, slot) or ErrNotFound.
func (r *SQLiteRepo) GetDoseRecord(ctx context.Context, pillID int64, day string, slotM int) (*domain.DoseRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, pill_id, day, slot_m, status, reminded_at, taken_at
		FROM dose_records
		WHERE pill_id = ? AND day = ? AND slot_m = ?`,
		pillID, day, slotM,
	)
	var (
		rec              domain.DoseRecord
		status           string
		remindNS, takeNS sql.NullInt64
	)
	err := row.Scan(&rec.ID, &rec.UserID, &rec.PillID, &rec.Day, &rec.SlotM, &status, &remindNS, &takeNS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Status = domain.DoseStatus(status)
	rec.RemindedAt = fromNullInt64(remindNS)
	rec.TakenAt = fromNullInt64(takeNS)
	return &rec, nil
}

// CreateDoseRecord inserts a record; the unique (pill, day, slot) index
// guarantees at most one record per slot per day.
func (r *SQLiteRepo) CreateDoseRecord(ctx context.Context, rec *domain.DoseRecord) (int64, error) {
	if rec == nil {
		return 0, errors.New("nil dose record")
	}
	status := rec.Status
	if status == "" {
		status = domain.StatusPending
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO dose_records (user_id, pill_id, day, slot_m, status, reminded_at, taken_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.UserID, rec.PillID, rec.Day, rec.SlotM, string(status),
		toNullInt64(rec.RemindedAt), toNullInt64(rec.TakenAt),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// SetDoseStatus moves a record to status and stamps the matching
// timestamp column. Transition validity is the tracker's concern.
func (r *SQLiteRepo) SetDoseStatus(ctx context.Context, id int64, status domain.DoseStatus, at time.Time) error {
	var res sql.Result
	var err error
	switch status {
	case domain.StatusReminded:
		res, err = r.db.ExecContext(ctx,
			`UPDATE dose_records SET status = ?, reminded_at = ? WHERE id = ?`,
			string(status), at.UTC().Unix(), id)
	case domain.StatusTaken:
		res, err = r.db.ExecContext(ctx,
			`UPDATE dose_records SET status = ?, taken_at = ? WHERE id = ?`,
			string(status), at.UTC().Unix(), id)
	default:
		res, err = r.db.ExecContext(ctx,
			`UPDATE dose_records SET status = ? WHERE id = ?`, string(status), id)
	}
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// --- Scheduling queries ---

// ListDue returns every (active user, pill, slot) whose dosing time equals
// slotM. Exact match: a missed tick means a missed reminder, not a replay.
func (r *SQLiteRepo) ListDue(ctx context.Context, slotM int) ([]domain.DueDose, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT u.id, u.telegram_id, u.chat_id, u.username, u.first_name,
		       p.id, p.name, p.dosage, p.photo_id, pt.slot_m
		FROM pill_times pt
		JOIN pills p ON pt.pill_id = p.id
		JOIN users u ON p.user_id = u.id
		WHERE pt.slot_m = ? AND u.active = 1
		ORDER BY u.id, p.name`,
		slotM,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.DueDose
	for rows.Next() {
		var d domain.DueDose
		if err := rows.Scan(
			&d.UserID, &d.TelegramID, &d.ChatID, &d.Username, &d.FirstName,
			&d.PillID, &d.PillName, &d.Dosage, &d.PhotoID, &d.SlotM,
		); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// ListOutstanding returns today's records still pending or reminded,
// across all users, ordered per user by slot.
func (r *SQLiteRepo) ListOutstanding(ctx context.Context, day string) ([]domain.OutstandingDose, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT dr.id, u.id, u.telegram_id, u.chat_id, u.username, u.first_name,
		       p.id, p.name, p.dosage, dr.slot_m, dr.status
		FROM dose_records dr
		JOIN pills p ON dr.pill_id = p.id
		JOIN users u ON dr.user_id = u.id
		WHERE dr.day = ? AND dr.status IN ('pending', 'reminded') AND u.active = 1
		ORDER BY u.id, dr.slot_m, p.name`,
		day,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.OutstandingDose
	for rows.Next() {
		var (
			d      domain.OutstandingDose
			status string
		)
		if err := rows.Scan(
			&d.RecordID, &d.UserID, &d.TelegramID, &d.ChatID, &d.Username, &d.FirstName,
			&d.PillID, &d.PillName, &d.Dosage, &d.SlotM, &status,
		); err != nil {
			return nil, err
		}
		d.Status = domain.DoseStatus(status)
		res = append(res, d)
	}
	return res, rows.Err()
}

// SweepMissed turns every pending/reminded record from days before
// beforeDay into the terminal missed state. Idempotent; safe to call on
// every day change, not just at midnight.
func (r *SQLiteRepo) SweepMissed(ctx context.Context, beforeDay string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE dose_records
		SET status = 'missed'
		WHERE day < ? AND status IN ('pending', 'reminded')`,
		beforeDay,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
