// Package telegram adapts the bot transport: the outbound send primitive
// used by the broadcast engine, activity-tracking middleware, and the admin
// compose flow for creating broadcast jobs.
package telegram

import (
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v4"

	"telecast/internal/activity"
	"telecast/internal/media"
	"telecast/internal/store"
)

type Config struct {
	Token       string
	AdminIDs    []int64
	PollTimeout time.Duration
}

type Bot struct {
	bot      *tele.Bot
	log      zerolog.Logger
	store    *store.Store
	toucher  *activity.Tracker // nil when redis is disabled
	media    media.Store       // nil when media storage is disabled
	admins   map[int64]bool
	sessions *sessionStore
}

func New(cfg Config, st *store.Store, tracker *activity.Tracker, mediaStore media.Store, log zerolog.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	tb, err := tele.NewBot(tele.Settings{
		Token:     cfg.Token,
		Poller:    &tele.LongPoller{Timeout: timeout},
		ParseMode: tele.ModeHTML,
	})
	if err != nil {
		return nil, err
	}

	admins := make(map[int64]bool, len(cfg.AdminIDs))
	for _, id := range cfg.AdminIDs {
		admins[id] = true
	}

	b := &Bot{
		bot:      tb,
		log:      log,
		store:    st,
		toucher:  tracker,
		media:    mediaStore,
		admins:   admins,
		sessions: newSessionStore(composeSessionTTL),
	}
	b.register()
	return b, nil
}

func (b *Bot) register() {
	b.bot.Use(b.trackActivity)

	b.bot.Handle("/start", b.handleStart)
	b.bot.Handle("/broadcast", b.handleBroadcast)
	b.bot.Handle("/broadcasts", b.handleBroadcasts)
	b.bot.Handle("/confirm", b.handleConfirm)
	b.bot.Handle("/cancelbroadcast", b.handleCancel)
	b.bot.Handle("/ban", b.handleBan)
	b.bot.Handle("/unban", b.handleUnban)

	b.bot.Handle(tele.OnText, b.handleContent)
	b.bot.Handle(tele.OnPhoto, b.handleContent)
	b.bot.Handle(tele.OnVideo, b.handleContent)
	b.bot.Handle(tele.OnDocument, b.handleContent)
}

// Sender returns the outbound send primitive for the broadcast engine.
func (b *Bot) Sender() *Sender {
	return &Sender{bot: b.bot}
}

// Start begins long polling. Blocks until Stop.
func (b *Bot) Start() {
	b.log.Info().Str("bot", b.bot.Me.Username).Msg("telegram polling started")
	b.bot.Start()
}

func (b *Bot) Stop() {
	b.bot.Stop()
	b.log.Info().Msg("telegram polling stopped")
}

func (b *Bot) isAdmin(id int64) bool {
	return b.admins[id]
}
