// Package pills implements gate-checked CRUD for medication entries.
package pills

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nakedarizona/Pills-bot/internal/access"
	"github.com/nakedarizona/Pills-bot/internal/domain"
	"github.com/nakedarizona/Pills-bot/internal/store"
)

// Service owns pill lifecycle. Every operation takes an acting user so
// two members of the same chat can never touch each other's pills.
type Service struct {
	repo store.Repo
	gate *access.Gate
}

func NewService(repo store.Repo, gate *access.Gate) *Service {
	return &Service{repo: repo, gate: gate}
}

// Add creates a pill owned by the actor. Slots must be a non-empty set
// of unique dosing times; they are normalized to sorted order.
func (s *Service) Add(ctx context.Context, actor access.Actor, name, dosage, photoID, notes string, slots []int) (*domain.Pill, error) {
	name = strings.TrimSpace(name)
	dosage = strings.TrimSpace(dosage)
	if name == "" {
		return nil, errors.New("pill name is empty")
	}
	if dosage == "" {
		return nil, errors.New("pill dosage is empty")
	}
	slots = domain.NormalizeSlots(slots)
	if len(slots) == 0 {
		return nil, domain.ErrEmptySlots
	}
	if actor.IsSystem() {
		return nil, errors.New("system scope cannot own pills")
	}

	p := &domain.Pill{
		UserID:  actor.UserID(),
		Name:    name,
		Dosage:  dosage,
		PhotoID: photoID,
		Notes:   notes,
		Slots:   slots,
	}
	id, err := s.repo.CreatePill(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("create pill: %w", err)
	}
	p.ID = id
	return p, nil
}

// Get returns one pill if the actor owns it.
func (s *Service) Get(ctx context.Context, actor access.Actor, pillID int64) (*domain.Pill, error) {
	p, err := s.repo.GetPill(ctx, pillID)
	if err != nil {
		return nil, err
	}
	if err := s.gate.Allow(actor, p.UserID); err != nil {
		return nil, err
	}
	return p, nil
}

// List returns the actor's own pills.
func (s *Service) List(ctx context.Context, actor access.Actor) ([]domain.Pill, error) {
	if actor.IsSystem() {
		return nil, errors.New("system scope has no pill list")
	}
	return s.repo.ListPills(ctx, actor.UserID())
}

// AddSlot attaches one more dosing time to a pill the actor owns.
func (s *Service) AddSlot(ctx context.Context, actor access.Actor, pillID int64, slotM int) error {
	if slotM < 0 || slotM > 23*60+59 {
		return domain.ErrInvalidTime
	}
	p, err := s.repo.GetPill(ctx, pillID)
	if err != nil {
		return err
	}
	if err := s.gate.Allow(actor, p.UserID); err != nil {
		return err
	}
	return s.repo.AddPillSlot(ctx, pillID, slotM)
}

// RemoveSlot detaches a dosing time from a pill the actor owns. The last
// slot cannot be removed; a pill without dosing times would never remind,
// so the owner must delete the pill instead. Past dose records for the
// slot are kept.
func (s *Service) RemoveSlot(ctx context.Context, actor access.Actor, pillID int64, slotM int) error {
	p, err := s.repo.GetPill(ctx, pillID)
	if err != nil {
		return err
	}
	if err := s.gate.Allow(actor, p.UserID); err != nil {
		return err
	}
	if len(p.Slots) == 1 && p.Slots[0] == slotM {
		return domain.ErrEmptySlots
	}
	return s.repo.RemovePillSlot(ctx, pillID, slotM)
}

// Delete removes a pill the actor owns. Dose records cascade, so a
// deleted pill never generates reminders again.
func (s *Service) Delete(ctx context.Context, actor access.Actor, pillID int64) error {
	p, err := s.repo.GetPill(ctx, pillID)
	if err != nil {
		return err
	}
	if err := s.gate.Allow(actor, p.UserID); err != nil {
		return err
	}
	return s.repo.DeletePill(ctx, pillID)
}
