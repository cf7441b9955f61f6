package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/peterh/liner"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kaigo-dev/kaigo/chat"
	"github.com/kaigo-dev/kaigo/pkg/config"
	"github.com/kaigo-dev/kaigo/pkg/kvstore"
	"github.com/kaigo-dev/kaigo/pkg/observability"
	"github.com/kaigo-dev/kaigo/pkg/session"
	"github.com/kaigo-dev/kaigo/pkg/transport"
)

// Version is set via ldflags.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:     "kaigo",
		Short:   "Interactive chat with the Kai wellness companion",
		Version: Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configFile)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", os.Getenv("KAIGO_CONFIG"), "config file path")
	return cmd
}

func run(ctx context.Context, configFile string) error {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	kv, err := newKVStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = kv.Close() }()

	client, err := transport.NewHTTPClient(cfg.BackendURL, transport.Options{
		Timeout:   cfg.RequestTimeout,
		RateLimit: cfg.RateLimit,
		Logger:    log,
	})
	if err != nil {
		return err
	}

	observability.InitMetrics()

	ctrl, err := chat.NewController(ctx, client, cfg.UserID,
		chat.WithPersister(session.NewStore(kv, cfg.Session.Enabled)),
		chat.WithLogger(log),
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, ctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		srv := observability.NewServer(cfg.Metrics.Port)
		group.Go(func() error {
			log.Info().Int("port", cfg.Metrics.Port).Msg("metrics server listening")
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		group.Go(func() error {
			<-ctx.Done()
			return srv.Shutdown(context.Background())
		})
	}

	if cfg.Proactive.Enabled {
		c := cron.New()
		if _, err := c.AddFunc(cfg.Proactive.Schedule, func() {
			if err := ctrl.ProactiveCheckIn(ctx); err != nil {
				log.Debug().Err(err).Msg("proactive check-in failed")
				return
			}
			printLatest(ctrl)
		}); err != nil {
			return fmt.Errorf("invalid proactive schedule: %w", err)
		}
		c.Start()
		defer c.Stop()
	}

	group.Go(func() error {
		defer cancel()
		return repl(ctx, ctrl, log)
	})

	return group.Wait()
}

func newKVStore(cfg *config.Config) (kvstore.Store, error) {
	switch cfg.Session.Store {
	case "memory":
		return kvstore.NewMemoryStore(), nil
	case "file":
		return kvstore.NewFileStore(cfg.Session.BaseDir)
	case "redis":
		return kvstore.NewRedisStore(kvstore.RedisConfig{
			Addr:     cfg.Session.Redis.Addr,
			Password: cfg.Session.Redis.Password,
			DB:       cfg.Session.Redis.DB,
			Prefix:   cfg.Session.Redis.Prefix,
		})
	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.Session.Store)
	}
}

func repl(ctx context.Context, ctrl *chat.Controller, log zerolog.Logger) error {
	line := liner.NewLiner()
	defer func() { _ = line.Close() }()
	line.SetCtrlCAborts(true)

	fmt.Println("kaigo — type a message, or /help for commands")
	for _, m := range ctrl.Messages() {
		printMessage(m)
	}

	for {
		input, err := line.Prompt("you> ")
		if err != nil {
			if err == liner.ErrPromptAborted {
				return nil
			}
			return err
		}
		line.AppendHistory(input)

		input = strings.TrimSpace(input)
		switch {
		case input == "":
			continue
		case input == "/quit", input == "/exit":
			return nil
		case input == "/help":
			fmt.Println("/new /sessions /load <id> /delete <id> /clear /retry /quit")
		case input == "/new":
			fmt.Printf("started session %s\n", ctrl.NewSession(ctx))
		case input == "/sessions":
			for _, s := range ctrl.Sessions() {
				fmt.Printf("%s  %d messages  updated %s\n", s.ID, len(s.Messages), s.UpdatedAt.Format("2006-01-02 15:04"))
			}
		case strings.HasPrefix(input, "/load "):
			id := strings.TrimSpace(strings.TrimPrefix(input, "/load "))
			if !ctrl.LoadSession(ctx, id) {
				fmt.Printf("no session %s\n", id)
				continue
			}
			for _, m := range ctrl.Messages() {
				printMessage(m)
			}
		case strings.HasPrefix(input, "/delete "):
			ctrl.DeleteSession(ctx, strings.TrimSpace(strings.TrimPrefix(input, "/delete ")))
		case input == "/clear":
			if err := ctrl.ClearConversation(ctx); err != nil {
				log.Warn().Err(err).Msg("clear conversation")
			}
		case input == "/retry":
			if err := ctrl.RetryLastMessage(ctx); err != nil {
				log.Warn().Err(err).Msg("retry")
			}
			printLatest(ctrl)
		default:
			if err := ctrl.Send(ctx, input); err != nil {
				log.Warn().Err(err).Msg("send")
			}
			printLatest(ctrl)
		}
	}
}

func printLatest(ctrl *chat.Controller) {
	messages := ctrl.Messages()
	if len(messages) == 0 {
		return
	}
	last := messages[len(messages)-1]
	if last.Role == chat.RoleAssistant {
		printMessage(last)
	}
}

func printMessage(m chat.Message) {
	who := "kai"
	if m.Role == chat.RoleUser {
		who = "you"
	}
	fmt.Printf("%s> %s\n", who, m.Content)
	if m.Metadata != nil && m.Metadata.SafetyWarning {
		fmt.Println("  [safety warning]")
	}
}
