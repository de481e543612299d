package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/replydesk/internal/ai"
	"github.com/replydesk/internal/api"
	"github.com/replydesk/internal/channels"
	"github.com/replydesk/internal/config"
	"github.com/replydesk/internal/conversation"
	"github.com/replydesk/internal/database"
	"github.com/replydesk/internal/directory"
	"github.com/replydesk/internal/dispatch"
	"github.com/replydesk/internal/exclusion"
	"github.com/replydesk/internal/jobqueue"
	"github.com/replydesk/internal/orchestrator"
	"github.com/replydesk/internal/realtime"
)

// ServeCommand returns the CLI command for running the engine
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the ReplyDesk server and job workers",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides config)",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Int("port") != 0 {
		cfg.Server.Port = c.Int("port")
	}

	if level, err := zerolog.ParseLevel(cfg.Server.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.EnsureSchema(ctx, db); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to create pgx pool: %w", err)
	}
	defer pool.Close()

	store := conversation.NewPostgresStore(db)
	dir := directory.NewPostgresDirectory(db)
	broadcaster := realtime.NewBroadcaster()
	convo := conversation.NewService(store, dir, broadcaster)

	var emailSender channels.EmailSender
	if cfg.Email.SMTPHost != "" {
		emailSender, err = channels.NewSMTPSender(channels.SMTPConfig{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.SMTPUsername,
			Password: cfg.Email.SMTPPassword,
		})
		if err != nil {
			return fmt.Errorf("invalid SMTP configuration: %w", err)
		}
	} else {
		log.Warn().Msg("no SMTP host configured, email dispatch disabled")
	}

	var waSender channels.WhatsAppSender
	var waTyping orchestrator.WhatsAppTyping
	if cfg.WhatsApp.BridgeURL != "" {
		bridge := channels.NewWhatsAppBridgeClient(cfg.WhatsApp.BridgeURL, cfg.WhatsApp.APIKey)
		waSender = bridge
		waTyping = bridge
	} else {
		log.Warn().Msg("no WhatsApp bridge configured, WhatsApp dispatch disabled")
	}

	dispatcher := dispatch.NewDispatcher(store, dir, emailSender, waSender, channels.NewHTTPWebhookPoster())

	decider, err := ai.NewLangchainDecider(ctx, ai.Options{
		Provider:    ai.Provider(cfg.AI.Provider),
		APIKey:      cfg.AI.APIKey,
		BaseURL:     cfg.AI.BaseURL,
		Model:       cfg.AI.Model,
		Temperature: cfg.AI.Temperature,
		Timeout:     cfg.AI.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize AI provider: %w", err)
	}

	orch := orchestrator.New(
		convo, store, dir,
		exclusion.NewPostgresLocker(pool),
		decider, dispatcher, broadcaster, waTyping,
		orchestrator.Config{
			LockTTL:             cfg.Queue.LockTTL,
			ConfidenceThreshold: cfg.AI.ConfidenceThreshold,
		},
	)

	workers := river.NewWorkers()
	orch.RegisterWorkers(workers)

	queue, err := jobqueue.NewQueue(pool, workers, jobqueue.QueueConfig{
		MaxWorkers:  cfg.Queue.MaxWorkers,
		MaxAttempts: cfg.Queue.MaxAttempts,
		JobTimeout:  cfg.Queue.JobTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create job queue: %w", err)
	}
	if err := queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start job queue: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := queue.Stop(stopCtx); err != nil {
			log.Warn().Err(err).Msg("job queue did not stop cleanly")
		}
	}()

	log.Info().
		Int("port", cfg.Server.Port).
		Str("ai_provider", cfg.AI.Provider).
		Int("queue_workers", cfg.Queue.MaxWorkers).
		Msg("starting ReplyDesk")

	server := api.NewServer(cfg.Server.Port, convo, store, dir, dispatcher, queue, broadcaster, cfg.Auth.JWTSecret)
	return server.Start(ctx)
}
