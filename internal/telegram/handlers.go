package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/nakedarizona/Pills-bot/internal/access"
	"github.com/nakedarizona/Pills-bot/internal/domain"
)

// actorFor resolves the registered user behind a Telegram sender. The
// acting identity is always the message sender, never the chat: that is
// what keeps pills private inside a shared group.
func (r *Router) actorFor(ctx context.Context, tgID, chatID int64) (*domain.User, access.Actor, bool) {
	u, err := r.repo.GetUserByTelegram(ctx, tgID, chatID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			r.log.Error("user lookup failed", zap.Error(err))
		}
		r.sendText(chatID, notRegisteredText)
		return nil, access.Actor{}, false
	}
	return u, access.User(u.ID), true
}

// --- Commands ---

func (r *Router) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	u, err := r.repo.GetOrCreateUser(ctx, msg.From.ID, msg.Chat.ID, msg.From.UserName, msg.From.FirstName)
	if err != nil {
		r.log.Error("register user failed", zap.Error(err))
		r.sendText(msg.Chat.ID, "Ошибка регистрации. Попробуй ещё раз позже.")
		return
	}
	r.sendText(msg.Chat.ID, fmt.Sprintf(startTextFmt, u.Mention()))
}

func (r *Router) handleAddPill(ctx context.Context, msg *tgbotapi.Message) {
	if _, _, ok := r.actorFor(ctx, msg.From.ID, msg.Chat.ID); !ok {
		return
	}
	r.setDraft(msg.From.ID, &draft{step: stepName})
	r.sendText(msg.Chat.ID, askNameText)
}

func (r *Router) handleMyPills(ctx context.Context, msg *tgbotapi.Message) {
	u, actor, ok := r.actorFor(ctx, msg.From.ID, msg.Chat.ID)
	if !ok {
		return
	}
	list, err := r.pills.List(ctx, actor)
	if err != nil {
		r.log.Error("list pills failed", zap.Error(err), zap.Int64("userID", u.ID))
		r.sendText(msg.Chat.ID, "Не получилось загрузить список таблеток.")
		return
	}
	if len(list) == 0 {
		r.sendText(msg.Chat.ID, "У тебя пока нет таблеток.\nИспользуй /addpill чтобы добавить.")
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "💊 Таблетки %s:\n\n", u.Mention())
	for _, p := range list {
		fmt.Fprintf(&b, "• %s (%s) — %s\n", p.Name, p.Dosage, domain.FormatSlots(p.Slots))
	}
	r.sendText(msg.Chat.ID, b.String())
}

func (r *Router) handleToday(ctx context.Context, msg *tgbotapi.Message) {
	u, actor, ok := r.actorFor(ctx, msg.From.ID, msg.Chat.ID)
	if !ok {
		return
	}
	items, err := r.tracker.QueryToday(ctx, actor)
	if err != nil {
		r.log.Error("query today failed", zap.Error(err), zap.Int64("userID", u.ID))
		r.sendText(msg.Chat.ID, "Не получилось загрузить расписание.")
		return
	}
	if len(items) == 0 {
		r.sendText(msg.Chat.ID, "На сегодня приёмов нет.")
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📅 Сегодня у %s:\n\n", u.Mention())
	for _, it := range items {
		fmt.Fprintf(&b, "%s %s — %s (%s)\n",
			statusIcon(it.Status), domain.FormatMinutes(it.SlotM), it.Pill.Name, it.Pill.Dosage)
	}
	r.sendText(msg.Chat.ID, b.String())
}

func (r *Router) handleDeletePill(ctx context.Context, msg *tgbotapi.Message) {
	_, actor, ok := r.actorFor(ctx, msg.From.ID, msg.Chat.ID)
	if !ok {
		return
	}
	list, err := r.pills.List(ctx, actor)
	if err != nil {
		r.log.Error("list pills failed", zap.Error(err))
		r.sendText(msg.Chat.ID, "Не получилось загрузить список таблеток.")
		return
	}
	if len(list) == 0 {
		r.sendText(msg.Chat.ID, "Удалять нечего — список пуст.")
		return
	}
	m := tgbotapi.NewMessage(msg.Chat.ID, "Какую таблетку удалить?")
	m.ReplyMarkup = pillsKeyboard(list, "delpill")
	if _, err := r.bot.Send(m); err != nil {
		r.log.Warn("send failed", zap.Error(err))
	}
}

// --- Schedule editing ---

func (r *Router) handleSchedule(ctx context.Context, msg *tgbotapi.Message) {
	_, actor, ok := r.actorFor(ctx, msg.From.ID, msg.Chat.ID)
	if !ok {
		return
	}
	list, err := r.pills.List(ctx, actor)
	if err != nil {
		r.log.Error("list pills failed", zap.Error(err))
		r.sendText(msg.Chat.ID, "Не получилось загрузить список таблеток.")
		return
	}
	if len(list) == 0 {
		r.sendText(msg.Chat.ID, "У тебя пока нет таблеток.\nИспользуй /addpill чтобы добавить.")
		return
	}
	m := tgbotapi.NewMessage(msg.Chat.ID, pickScheduleText)
	m.ReplyMarkup = pillsKeyboard(list, "sched")
	if _, err := r.bot.Send(m); err != nil {
		r.log.Warn("send failed", zap.Error(err))
	}
}

func (r *Router) handleScheduleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	pillID, err := strconv.ParseInt(strings.TrimPrefix(cb.Data, "sched:"), 10, 64)
	if err != nil {
		r.answerCallback(cb.ID, "")
		return
	}
	_, actor, ok := r.actorFor(ctx, cb.From.ID, cb.Message.Chat.ID)
	if !ok {
		r.answerCallback(cb.ID, notRegisteredText)
		return
	}
	r.answerCallback(cb.ID, "")
	r.renderSchedule(ctx, actor, cb, pillID)
}

// handleSlotEdit serves both the ➕ and ❌ schedule buttons.
func (r *Router) handleSlotEdit(ctx context.Context, cb *tgbotapi.CallbackQuery, add bool) {
	prefix := "rmtime:"
	if add {
		prefix = "addtime:"
	}
	parts := strings.Split(strings.TrimPrefix(cb.Data, prefix), ":")
	if len(parts) != 2 {
		r.answerCallback(cb.ID, "")
		return
	}
	pillID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		r.answerCallback(cb.ID, "")
		return
	}
	slotM, err := strconv.Atoi(parts[1])
	if err != nil {
		r.answerCallback(cb.ID, "")
		return
	}
	_, actor, ok := r.actorFor(ctx, cb.From.ID, cb.Message.Chat.ID)
	if !ok {
		r.answerCallback(cb.ID, notRegisteredText)
		return
	}

	if add {
		err = r.pills.AddSlot(ctx, actor, pillID, slotM)
	} else {
		err = r.pills.RemoveSlot(ctx, actor, pillID, slotM)
	}
	switch {
	case err == nil:
		verb := slotRemovedFmt
		if add {
			verb = slotAddedFmt
		}
		r.answerCallback(cb.ID, fmt.Sprintf(verb, domain.FormatMinutes(slotM)))
	case errors.Is(err, domain.ErrPermissionDenied):
		r.answerCallback(cb.ID, notYourPillText)
		return
	case errors.Is(err, domain.ErrDuplicateSlot):
		// Nothing changed, re-editing the message would be rejected.
		r.answerCallback(cb.ID, slotExistsText)
		return
	case errors.Is(err, domain.ErrEmptySlots):
		r.answerCallback(cb.ID, lastSlotText)
		return
	case errors.Is(err, domain.ErrNotFound):
		r.answerCallback(cb.ID, "Таблетка не найдена.")
		return
	default:
		r.log.Error("slot edit failed", zap.Error(err), zap.Int64("pillID", pillID))
		r.answerCallback(cb.ID, "Ошибка, попробуй ещё раз.")
		return
	}
	r.renderSchedule(ctx, actor, cb, pillID)
}

func (r *Router) handleBackToPills(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	r.answerCallback(cb.ID, "")
	_, actor, ok := r.actorFor(ctx, cb.From.ID, cb.Message.Chat.ID)
	if !ok {
		return
	}
	list, err := r.pills.List(ctx, actor)
	if err != nil {
		r.log.Error("list pills failed", zap.Error(err))
		return
	}
	edit := tgbotapi.NewEditMessageTextAndMarkup(
		cb.Message.Chat.ID, cb.Message.MessageID, pickScheduleText, pillsKeyboard(list, "sched"))
	if _, err := r.bot.Send(edit); err != nil {
		r.log.Warn("edit failed", zap.Error(err))
	}
}

// renderSchedule rewrites the callback's message into the pill's current
// schedule view. The callback is already answered by the caller.
func (r *Router) renderSchedule(ctx context.Context, actor access.Actor, cb *tgbotapi.CallbackQuery, pillID int64) {
	p, err := r.pills.Get(ctx, actor, pillID)
	if err != nil {
		r.log.Warn("load pill for schedule view failed", zap.Error(err), zap.Int64("pillID", pillID))
		return
	}
	text := fmt.Sprintf("%s (%s)\nРасписание: %s\n\n%s",
		p.Name, p.Dosage, domain.FormatSlots(p.Slots), scheduleHintText)
	edit := tgbotapi.NewEditMessageTextAndMarkup(
		cb.Message.Chat.ID, cb.Message.MessageID, text, scheduleKeyboard(p))
	if _, err := r.bot.Send(edit); err != nil {
		r.log.Warn("edit failed", zap.Error(err))
	}
}

// --- Add-pill flow ---

func (r *Router) handleFlowInput(ctx context.Context, msg *tgbotapi.Message) {
	d := r.getDraft(msg.From.ID)
	if d == nil {
		return // no pending flow for this user
	}

	switch d.step {
	case stepName:
		name := strings.TrimSpace(msg.Text)
		if name == "" {
			r.sendText(msg.Chat.ID, askNameText)
			return
		}
		d.name = name
		d.step = stepDosage
		r.setDraft(msg.From.ID, d)
		r.sendText(msg.Chat.ID, askDosageText)

	case stepDosage:
		dosage := strings.TrimSpace(msg.Text)
		if dosage == "" {
			r.sendText(msg.Chat.ID, askDosageText)
			return
		}
		d.dosage = dosage
		d.step = stepPhoto
		r.setDraft(msg.From.ID, d)
		m := tgbotapi.NewMessage(msg.Chat.ID, askPhotoText)
		m.ReplyMarkup = skipPhotoKeyboard()
		if _, err := r.bot.Send(m); err != nil {
			r.log.Warn("send failed", zap.Error(err))
		}

	case stepPhoto:
		if len(msg.Photo) == 0 {
			r.sendText(msg.Chat.ID, askPhotoText)
			return
		}
		// Largest size is last in the slice.
		d.photoID = msg.Photo[len(msg.Photo)-1].FileID
		r.askTimes(msg.From.ID, msg.Chat.ID, d)

	case stepTimes:
		slots, err := domain.ParseSlots(msg.Text)
		if err != nil {
			r.sendText(msg.Chat.ID, "Не понял время. Пример: 08:00 20:00")
			return
		}
		d.slots = slots
		r.finishAddPill(ctx, msg.From.ID, msg.Chat.ID, d)
	}
}

func (r *Router) askTimes(tgID, chatID int64, d *draft) {
	d.step = stepTimes
	r.setDraft(tgID, d)
	m := tgbotapi.NewMessage(chatID, askTimesText)
	m.ReplyMarkup = timePresetsKeyboard()
	if _, err := r.bot.Send(m); err != nil {
		r.log.Warn("send failed", zap.Error(err))
	}
}

func (r *Router) finishAddPill(ctx context.Context, tgID, chatID int64, d *draft) {
	_, actor, ok := r.actorFor(ctx, tgID, chatID)
	if !ok {
		return
	}
	p, err := r.pills.Add(ctx, actor, d.name, d.dosage, d.photoID, "", d.slots)
	if err != nil {
		r.log.Error("add pill failed", zap.Error(err))
		r.sendText(chatID, "Не получилось сохранить таблетку. Попробуй /addpill ещё раз.")
		r.clearDraft(tgID)
		return
	}
	r.clearDraft(tgID)
	r.sendText(chatID, fmt.Sprintf(
		"Готово! %s (%s) — напомню в %s.", p.Name, p.Dosage, domain.FormatSlots(p.Slots)))
}

// --- Callbacks ---

func (r *Router) handleSkipPhoto(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	r.answerCallback(cb.ID, "")
	d := r.getDraft(cb.From.ID)
	if d == nil || d.step != stepPhoto {
		return
	}
	d.photoID = ""
	r.askTimes(cb.From.ID, cb.Message.Chat.ID, d)
}

func (r *Router) handleTimeButton(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	d := r.getDraft(cb.From.ID)
	if d == nil || d.step != stepTimes {
		r.answerCallback(cb.ID, "")
		return
	}
	slot, err := domain.ParseHHMM(strings.TrimPrefix(cb.Data, "time:"))
	if err != nil {
		r.answerCallback(cb.ID, "")
		return
	}
	d.slots = domain.NormalizeSlots(append(d.slots, slot))
	r.setDraft(cb.From.ID, d)
	r.answerCallback(cb.ID, "Добавил "+domain.FormatMinutes(slot))
}

func (r *Router) handleTimesDone(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	r.answerCallback(cb.ID, "")
	d := r.getDraft(cb.From.ID)
	if d == nil || d.step != stepTimes {
		return
	}
	if len(d.slots) == 0 {
		r.sendText(cb.Message.Chat.ID, "Сначала выбери хотя бы одно время.")
		return
	}
	r.finishAddPill(ctx, cb.From.ID, cb.Message.Chat.ID, d)
}

func (r *Router) handleTakenCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	pillID, slotM, day, err := parseTakenCallback(cb.Data)
	if err != nil {
		r.answerCallback(cb.ID, "")
		return
	}
	u, actor, ok := r.actorFor(ctx, cb.From.ID, cb.Message.Chat.ID)
	if !ok {
		r.answerCallback(cb.ID, notRegisteredText)
		return
	}

	// The day comes from the button, not the clock: tapping yesterday's
	// reminder after midnight confirms yesterday's dose and is refused
	// with the closed-window message instead of touching today's record.
	err = r.tracker.MarkTaken(ctx, actor, pillID, day, slotM)
	switch {
	case err == nil:
		r.answerCallback(cb.ID, takenConfirmedText)
	case errors.Is(err, domain.ErrPermissionDenied):
		r.answerCallback(cb.ID, notYourPillText)
	case errors.Is(err, domain.ErrAlreadyTaken):
		r.answerCallback(cb.ID, alreadyTakenText)
	case errors.Is(err, domain.ErrAlreadyMissed):
		r.answerCallback(cb.ID, windowClosedText)
	case errors.Is(err, domain.ErrNotFound):
		r.answerCallback(cb.ID, doseNotFoundText)
	default:
		r.log.Error("mark taken failed", zap.Error(err), zap.Int64("userID", u.ID))
		r.answerCallback(cb.ID, "Ошибка, попробуй ещё раз.")
	}
}

func (r *Router) handleDeleteCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	idStr := strings.TrimPrefix(cb.Data, "delpill:")
	pillID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		r.answerCallback(cb.ID, "")
		return
	}
	_, actor, ok := r.actorFor(ctx, cb.From.ID, cb.Message.Chat.ID)
	if !ok {
		r.answerCallback(cb.ID, notRegisteredText)
		return
	}

	err = r.pills.Delete(ctx, actor, pillID)
	switch {
	case err == nil:
		r.answerCallback(cb.ID, "Удалил.")
	case errors.Is(err, domain.ErrPermissionDenied):
		r.answerCallback(cb.ID, notYourPillText)
	case errors.Is(err, domain.ErrNotFound):
		r.answerCallback(cb.ID, "Таблетка не найдена.")
	default:
		r.log.Error("delete pill failed", zap.Error(err))
		r.answerCallback(cb.ID, "Ошибка, попробуй ещё раз.")
	}
}

func parseTakenCallback(data string) (pillID int64, slotM int, day string, err error) {
	parts := strings.Split(data, ":")
	if len(parts) != 4 || parts[0] != "taken" {
		return 0, 0, "", fmt.Errorf("malformed callback %q", data)
	}
	pillID, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, "", err
	}
	slotM, err = strconv.Atoi(parts[2])
	if err != nil {
		return 0, 0, "", err
	}
	day = parts[3]
	if _, err := time.Parse("2006-01-02", day); err != nil {
		return 0, 0, "", err
	}
	return pillID, slotM, day, nil
}
