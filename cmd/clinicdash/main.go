package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinicdash/clinicdash/internal/config"
	"github.com/clinicdash/clinicdash/internal/domain/syncer"
	"github.com/clinicdash/clinicdash/internal/platform/db"
	"github.com/clinicdash/clinicdash/internal/platform/middleware"
	"github.com/clinicdash/clinicdash/internal/platform/secure"
	"github.com/clinicdash/clinicdash/internal/platform/session"
	"github.com/clinicdash/clinicdash/internal/platform/tebra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinicdash",
		Short: "Clinic day-sheet sync and dashboard API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(importCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

// deps holds the wired application graph shared by the CLI commands.
type deps struct {
	cfg    *config.Config
	logger zerolog.Logger
	trail  *session.Trail
	store  session.KV
	sink   syncer.SessionRepo
	svc    *syncer.Service
	codec  *secure.Codec
	pool   *pgxpool.Pool

	// set when the in-memory store is in use and needs a sweeper
	memStore *session.Store
}

func buildDeps(ctx context.Context, logger zerolog.Logger) (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	d := &deps{cfg: cfg, logger: logger}
	d.trail = session.NewTrail(0)

	// Session store: Redis when configured, otherwise in-memory with a
	// background sweeper.
	if cfg.RedisURL != "" {
		rs, err := session.NewRedisStore(cfg.RedisURL, cfg.SessionTTL(), d.trail, logger)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		d.store = rs
		logger.Info().Msg("using redis session store")
	} else {
		ms := session.NewStore(cfg.SessionTTL(), d.trail, logger)
		d.store = ms
		d.memStore = ms
		logger.Info().Msg("using in-memory session store")
	}

	// Persistence sink: Postgres when configured, otherwise the session
	// store doubles as the sink.
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, logger)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if err := db.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		d.pool = pool
		d.sink = syncer.NewPGSink(pool)
	} else {
		d.sink = syncer.NewSessionSink(d.store)
	}

	source := tebra.NewClient(cfg.TebraBaseURL, cfg.TebraAPIKey, logger)
	d.svc = syncer.NewService(source, d.sink, logger, syncer.Config{
		Timezone:    loc,
		FanOutLimit: cfg.SyncFanOutLimit,
		Timeout:     cfg.SyncTimeout(),
	})
	d.codec = secure.NewCodec(logger,
		secure.WithIterations(cfg.ExportPBKDF2Iterations),
		secure.WithAuditTrail(d.trail))
	return d, nil
}

func (d *deps) close() {
	if d.pool != nil {
		d.pool.Close()
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the dashboard API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	logger := newLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := buildDeps(ctx, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build application")
	}
	defer d.close()

	if d.memStore != nil {
		go d.memStore.RunSweeper(ctx, time.Minute)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	if d.pool != nil {
		e.GET("/health/db", db.HealthHandler(d.pool))
	}

	apiV1 := e.Group("/api/v1")
	handler := syncer.NewHandler(d.svc, d.sink, d.store, d.codec, logger)
	handler.RegisterRoutes(apiV1)

	go func() {
		addr := ":" + d.cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one schedule sync from the vendor API",
		RunE: func(cmd *cobra.Command, args []string) error {
			date, _ := cmd.Flags().GetString("date")
			user, _ := cmd.Flags().GetString("user")

			logger := newLogger()
			ctx := context.Background()
			d, err := buildDeps(ctx, logger)
			if err != nil {
				return err
			}
			defer d.close()

			n, err := d.svc.TriggerSync(ctx, date, user)
			if err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}
			fmt.Printf("Synced %d record(s).\n", n)
			return nil
		},
	}
	cmd.Flags().String("date", "", "Date to sync (YYYY-MM-DD, default today in the clinic timezone)")
	cmd.Flags().String("user", "", "Acting user recorded on the session")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a stored session as an encrypted envelope",
		RunE: func(cmd *cobra.Command, args []string) error {
			date, _ := cmd.Flags().GetString("date")
			out, _ := cmd.Flags().GetString("out")
			fields, _ := cmd.Flags().GetString("fields")
			password := os.Getenv("EXPORT_PASSWORD")
			if date == "" {
				return fmt.Errorf("--date is required")
			}
			if password == "" {
				return fmt.Errorf("EXPORT_PASSWORD must be set")
			}

			logger := newLogger()
			ctx := context.Background()
			d, err := buildDeps(ctx, logger)
			if err != nil {
				return err
			}
			defer d.close()

			sess, err := d.sink.Load(ctx, date)
			if err != nil {
				return err
			}
			if sess == nil {
				return fmt.Errorf("no session stored for %s", date)
			}

			env, err := d.codec.Export(sess.Records, password, strings.Split(fields, ","), true)
			if err != nil {
				return err
			}
			payload, err := env.Encode()
			if err != nil {
				return err
			}
			if out == "" {
				fmt.Println(string(payload))
				return nil
			}
			if err := os.WriteFile(out, payload, 0o600); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Printf("Exported %d record(s) to %s.\n", len(sess.Records), out)
			return nil
		},
	}
	cmd.Flags().String("date", "", "Date of the session to export (YYYY-MM-DD)")
	cmd.Flags().String("out", "", "Output file (default stdout)")
	cmd.Flags().String("fields", "name,dob,phone,email", "Comma-separated fields to encrypt")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Decrypt an exported envelope and print the records",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, _ := cmd.Flags().GetString("in")
			password := os.Getenv("EXPORT_PASSWORD")
			if in == "" {
				return fmt.Errorf("--in is required")
			}
			if password == "" {
				return fmt.Errorf("EXPORT_PASSWORD must be set")
			}

			logger := newLogger()
			d, err := buildDeps(context.Background(), logger)
			if err != nil {
				return err
			}
			defer d.close()

			data, err := os.ReadFile(in)
			if err != nil {
				return fmt.Errorf("read %s: %w", in, err)
			}
			records, err := d.codec.ImportBytes(data, password, true)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(records, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().String("in", "", "Envelope file to import")
	return cmd
}
