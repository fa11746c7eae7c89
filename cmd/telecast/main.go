package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"telecast/internal/activity"
	"telecast/internal/broadcast"
	"telecast/internal/config"
	"telecast/internal/logging"
	"telecast/internal/media"
	"telecast/internal/scheduler"
	"telecast/internal/store"
	"telecast/internal/telegram"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./telecast.yaml", "path to config file (yaml or json)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Logging)

	if err := run(ctx, cfgPath, cfg, log); err != nil {
		log.Error().Err(err).Msg("fatal")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string, cfg config.Config, log zerolog.Logger) error {
	busyTimeout, err := config.Duration("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return err
	}
	st, err := store.Open(store.Config{Path: cfg.Storage.Path, BusyTimeout: busyTimeout},
		log.With().Str("component", "store").Logger())
	if err != nil {
		return err
	}
	defer st.Close()

	var tracker *activity.Tracker
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}

		ttl, err := config.Duration("redis.activity_ttl", cfg.Redis.ActivityTTL, 5*time.Minute)
		if err != nil {
			return err
		}
		tracker = activity.New(rdb, ttl, log.With().Str("component", "activity").Logger())
	}

	mediaStore, err := media.Open(cfg.Media, log.With().Str("component", "media").Logger())
	if err != nil {
		return err
	}

	pollTimeout, err := config.Duration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return err
	}
	bot, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		AdminIDs:    cfg.Telegram.AdminIDs,
		PollTimeout: pollTimeout,
	}, st, tracker, mediaStore, log.With().Str("component", "telegram").Logger())
	if err != nil {
		return err
	}

	opt, err := engineOptions(cfg.Broadcast)
	if err != nil {
		return err
	}
	deps := broadcast.Deps{
		Jobs:      st,
		Directory: st,
		Sender:    bot.Sender(),
	}
	if mediaStore != nil {
		deps.Media = mediaStore
	}
	if tracker != nil {
		deps.Fallback = tracker
	}
	if cfg.Broadcast.ReceiptsEnabled() {
		deps.Receipts = st
	}
	engine := broadcast.NewEngine(deps, opt, log.With().Str("component", "engine").Logger())

	interval, err := config.Duration("broadcast.interval", cfg.Broadcast.Interval, 15*time.Second)
	if err != nil {
		return err
	}
	jobTTL, err := config.Duration("broadcast.job_ttl", cfg.Broadcast.JobTTL, 30*24*time.Hour)
	if err != nil {
		return err
	}

	sched := scheduler.New(log.With().Str("component", "scheduler").Logger())
	if err := sched.AddEvery("broadcast", interval, engine.RunOnce); err != nil {
		return err
	}
	if err := sched.AddEvery("prune", 24*time.Hour, func(ctx context.Context) error {
		n, err := st.PruneFinished(ctx, jobTTL)
		if err != nil {
			return err
		}
		if n > 0 {
			log.Info().Int64("removed", n).Msg("pruned finished broadcasts")
		}
		return nil
	}); err != nil {
		return err
	}

	// Rate and retry settings follow the config file without a restart.
	if err := config.Watch(ctx, cfgPath, log, func(next config.Config) {
		if o, err := engineOptions(next.Broadcast); err == nil {
			engine.Apply(o)
		}
	}); err != nil {
		log.Warn().Err(err).Msg("config watch unavailable")
	}

	sched.Start(ctx)
	go bot.Start()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	log.Info().Msg("telecast started")

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	sched.Stop(stopCtx)
	bot.Stop()
	log.Info().Msg("telecast stopped")
	return nil
}

func engineOptions(bc config.BroadcastConfig) (broadcast.Options, error) {
	backoff, err := config.Duration("broadcast.retry_backoff", bc.RetryBackoff, 2*time.Second)
	if err != nil {
		return broadcast.Options{}, err
	}
	return broadcast.Options{
		RatePerSec:      bc.RatePerSec,
		RetryMax:        bc.RetryMax,
		RetryBackoff:    backoff,
		BatchSize:       bc.BatchSize,
		CheckpointEvery: bc.CheckpointEvery,
		Workers:         bc.Workers,
	}, nil
}
