package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/nakedarizona/Pills-bot/internal/access"
	"github.com/nakedarizona/Pills-bot/internal/adherence"
	"github.com/nakedarizona/Pills-bot/internal/config"
	"github.com/nakedarizona/Pills-bot/internal/pills"
	"github.com/nakedarizona/Pills-bot/internal/scheduler"
	"github.com/nakedarizona/Pills-bot/internal/store"
	"github.com/nakedarizona/Pills-bot/internal/telegram"
)

type App struct {
	cfg     config.Config
	log     *zap.Logger
	bot     *tgbotapi.BotAPI
	httpSrv *http.Server
	repo    store.Repo
	router  *telegram.Router
	clock   *scheduler.Clock
}

func New(cfg config.Config, log *zap.Logger) (*App, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, err
	}
	bot.Debug = false

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}

	return &App{cfg: cfg, log: log, bot: bot, httpSrv: srv}, nil
}

func (a *App) Run(ctx context.Context) error {
	a.log.Info("starting pills-bot",
		zap.String("bot", a.bot.Self.UserName),
		zap.String("tz", a.cfg.TZName),
		zap.String("evening", a.cfg.EveningTime),
		zap.String("http", a.cfg.HTTPAddr),
	)

	// Open SQLite and run migrations.
	repo, err := store.OpenSQLite(ctx, a.cfg.DBPath)
	if err != nil {
		a.log.Error("open sqlite failed", zap.Error(err))
		return err
	}
	a.repo = repo
	a.log.Info("sqlite ready", zap.String("path", a.cfg.DBPath))

	gate := access.NewGate()
	tracker := adherence.NewTracker(repo, gate, a.cfg.Loc)
	pillSvc := pills.NewService(repo, gate)
	dispatcher := telegram.NewDispatcher(a.bot, a.log)

	a.router = telegram.NewRouter(a.bot, a.log, repo, pillSvc, tracker)
	a.clock = scheduler.New(repo, tracker, dispatcher, a.log, a.cfg.Loc, a.cfg.EveningM)

	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("http server error", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go a.clock.Run(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updCh := a.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			a.log.Info("shutdown signal received")
			a.shutdown()
			return nil

		case upd := <-updCh:
			a.router.HandleUpdate(ctx, upd)
		}
	}
}

// shutdown drains the clock, stops the HTTP server and closes the store.
// The clock context is already cancelled by the time this runs; waiting
// on Done guarantees no tick touches the database after Close.
func (a *App) shutdown() {
	select {
	case <-a.clock.Done():
	case <-time.After(10 * time.Second):
		a.log.Warn("clock drain timed out")
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err := a.httpSrv.Shutdown(shCtx)
	cancel()
	if err != nil {
		a.log.Warn("http server shutdown error", zap.Error(err))
	}

	if a.repo != nil {
		_ = a.repo.Close()
	}
}
