package telegram

import (
	"context"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/nakedarizona/Pills-bot/internal/adherence"
	"github.com/nakedarizona/Pills-bot/internal/pills"
	"github.com/nakedarizona/Pills-bot/internal/store"
)

// Add-pill flow steps. The flow state lives in memory only; an
// interrupted flow is simply restarted with /addpill.
const (
	stepName = iota + 1
	stepDosage
	stepPhoto
	stepTimes
)

// draft accumulates one user's add-pill conversation.
type draft struct {
	step    int
	name    string
	dosage  string
	photoID string
	slots   []int
}

// Router wires Telegram updates to handlers. Drafts are keyed by the
// sender's Telegram id, not the chat id: several users share one chat
// and each runs their own flow.
type Router struct {
	bot     *tgbotapi.BotAPI
	log     *zap.Logger
	repo    store.Repo
	pills   *pills.Service
	tracker *adherence.Tracker

	mu     sync.Mutex
	drafts map[int64]*draft
}

// NewRouter creates the Telegram router.
func NewRouter(bot *tgbotapi.BotAPI, log *zap.Logger, repo store.Repo, pillSvc *pills.Service, tracker *adherence.Tracker) *Router {
	return &Router{
		bot:     bot,
		log:     log,
		repo:    repo,
		pills:   pillSvc,
		tracker: tracker,
		drafts:  make(map[int64]*draft),
	}
}

func (r *Router) getDraft(tgID int64) *draft {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drafts[tgID]
}

func (r *Router) setDraft(tgID int64, d *draft) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drafts[tgID] = d
}

func (r *Router) clearDraft(tgID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.drafts, tgID)
}

// HandleUpdate routes a single update to the appropriate handler.
func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil {
		r.handleMessage(ctx, upd.Message)
		return
	}
	if upd.CallbackQuery != nil {
		r.handleCallback(ctx, upd.CallbackQuery)
		return
	}
}

func (r *Router) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}

	// Command() strips the @botname suffix commands carry in groups.
	switch msg.Command() {
	case "start":
		r.handleStart(ctx, msg)
	case "help":
		r.sendText(msg.Chat.ID, helpText)
	case "addpill":
		r.handleAddPill(ctx, msg)
	case "mypills":
		r.handleMyPills(ctx, msg)
	case "today":
		r.handleToday(ctx, msg)
	case "deletepill":
		r.handleDeletePill(ctx, msg)
	case "schedule":
		r.handleSchedule(ctx, msg)
	case "cancel":
		r.clearDraft(msg.From.ID)
		r.sendText(msg.Chat.ID, "Ок, отменил.")
	case "":
		// Free-form text or photo: feeds the add-pill flow, if any.
		r.handleFlowInput(ctx, msg)
	default:
		// Unknown command — ignore silently.
	}
}

func (r *Router) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.From == nil || cb.Message == nil {
		return
	}
	data := cb.Data

	switch {
	case strings.HasPrefix(data, "taken:"):
		r.handleTakenCallback(ctx, cb)
	case strings.HasPrefix(data, "delpill:"):
		r.handleDeleteCallback(ctx, cb)
	case strings.HasPrefix(data, "sched:"):
		r.handleScheduleCallback(ctx, cb)
	case strings.HasPrefix(data, "addtime:"):
		r.handleSlotEdit(ctx, cb, true)
	case strings.HasPrefix(data, "rmtime:"):
		r.handleSlotEdit(ctx, cb, false)
	case data == "back_to_pills":
		r.handleBackToPills(ctx, cb)
	case data == "skip_photo":
		r.handleSkipPhoto(ctx, cb)
	case strings.HasPrefix(data, "time:"):
		r.handleTimeButton(ctx, cb)
	case data == "times_done":
		r.handleTimesDone(ctx, cb)
	default:
		// Unknown callback — ignore silently.
	}
}

func (r *Router) sendText(chatID int64, text string) {
	if _, err := r.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		r.log.Warn("send failed", zap.Error(err), zap.Int64("chatID", chatID))
	}
}

func (r *Router) answerCallback(id, text string) {
	if _, err := r.bot.Request(tgbotapi.NewCallback(id, text)); err != nil {
		r.log.Debug("answer callback failed", zap.Error(err))
	}
}
