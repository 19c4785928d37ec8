package store

import (
	"context"
	"time"

	"github.com/nakedarizona/Pills-bot/internal/domain"
)

// Repo defines storage operations for users, pills and dose records.
type Repo interface {
	// Users.
	GetOrCreateUser(ctx context.Context, telegramID, chatID int64, username, firstName string) (*domain.User, error)
	GetUserByTelegram(ctx context.Context, telegramID, chatID int64) (*domain.User, error)
	SetUserActive(ctx context.Context, id int64, active bool) error

	// Pills. A pill row owns its dosing slots; delete cascades to slots
	// and dose records so removed pills never fire reminders again.
	CreatePill(ctx context.Context, p *domain.Pill) (int64, error)
	GetPill(ctx context.Context, id int64) (*domain.Pill, error)
	ListPills(ctx context.Context, userID int64) ([]domain.Pill, error)
	DeletePill(ctx context.Context, id int64) error
	AddPillSlot(ctx context.Context, pillID int64, slotM int) error
	RemovePillSlot(ctx context.Context, pillID int64, slotM int) error

	// Dose records.
	GetDoseRecord(ctx context.Context, pillID int64, day string, slotM int) (*domain.DoseRecord, error)
	CreateDoseRecord(ctx context.Context, rec *domain.DoseRecord) (int64, error)
	SetDoseStatus(ctx context.Context, id int64, status domain.DoseStatus, at time.Time) error

	// Scheduling queries (system scope, reminder clock only).
	ListDue(ctx context.Context, slotM int) ([]domain.DueDose, error)
	ListOutstanding(ctx context.Context, day string) ([]domain.OutstandingDose, error)
	SweepMissed(ctx context.Context, beforeDay string) (int64, error)

	Close() error
}
