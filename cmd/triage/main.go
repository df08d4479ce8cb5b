// Command triage runs the drop-shipping customer-support email triage
// pipeline: it polls a mailbox, correlates and analyzes each message, and
// exposes the operator review surface over HTTP.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/dropshiptriage/triage/internal/api"
	"github.com/dropshiptriage/triage/internal/approval"
	"github.com/dropshiptriage/triage/internal/config"
	"github.com/dropshiptriage/triage/internal/contextbuilder"
	"github.com/dropshiptriage/triage/internal/dispatcher"
	"github.com/dropshiptriage/triage/internal/formatter"
	"github.com/dropshiptriage/triage/internal/llm"
	"github.com/dropshiptriage/triage/internal/mail"
	"github.com/dropshiptriage/triage/internal/notify"
	"github.com/dropshiptriage/triage/internal/pipeline"
	"github.com/dropshiptriage/triage/internal/retry"
	"github.com/dropshiptriage/triage/internal/store"
	"github.com/dropshiptriage/triage/internal/supplier"
	"github.com/dropshiptriage/triage/internal/ticketclient"
	"github.com/dropshiptriage/triage/internal/ticketlock"
	"github.com/dropshiptriage/triage/internal/version"
	"github.com/dropshiptriage/triage/internal/worker"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	flag.Parse()

	log.Printf("starting %s", version.Full())

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("warning: could not load %s: %v", envPath, err)
		log.Printf("continuing with existing environment variables")
	} else {
		log.Printf("loaded environment from %s", envPath)
	}

	cfg, err := config.Initialize(*configDir)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	log.Printf("triage starting in %s phase", cfg.Phase)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(ctx, store.Config{DSN: os.Getenv("DATABASE_URL")})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer st.Close()
	log.Println("connected to PostgreSQL database")

	tc := ticketclient.New(ticketclient.Config{
		BaseURL:      cfg.Ticketing.BaseURL,
		ClientID:     os.Getenv(cfg.Ticketing.ClientID),
		ClientSecret: os.Getenv(cfg.Ticketing.ClientSecret),
		Timeout:      cfg.Ticketing.RequestTimeout,
	})

	llmClient, err := llm.New(llm.Config{
		Endpoint: cfg.LLM.Endpoint,
		APIKey:   os.Getenv("LLM_API_KEY"),
		Model:    cfg.LLM.Model,
		Timeout:  cfg.LLM.Timeout,
	})
	if err != nil {
		log.Fatalf("failed to construct LLM client: %v", err)
	}

	notifier := notify.New(cfg.Slack, os.Getenv(cfg.Slack.TokenEnv))

	tracker := supplier.New(st, tc, notifier, cfg)
	queue := approval.New(st, tc, tracker, notifier, cfg)
	disp := dispatcher.New(st, tc, queue, notifier, cfg)
	ctxBuilder := contextbuilder.New(cfg)
	fmtr := formatter.New(cfg)
	locks := ticketlock.New()
	runner := pipeline.New(st, tc, llmClient, ctxBuilder, fmtr, disp, locks, cfg)
	scheduler := retry.New(st, runner, queue, cfg)

	mailSource, err := mail.NewIMAPSource(mail.Config{
		Host:     os.Getenv("IMAP_HOST"),
		Port:     os.Getenv("IMAP_PORT"),
		Username: os.Getenv("IMAP_USERNAME"),
		Password: os.Getenv("IMAP_PASSWORD"),
		Mailbox:  getEnv("IMAP_MAILBOX", "INBOX"),
		TLS:      true,
	})
	if err != nil {
		log.Fatalf("failed to connect to mail source: %v", err)
	}
	defer mailSource.Close()

	w := worker.New(mailSource, runner, scheduler, tracker, cfg)
	w.Start(ctx)
	defer w.Stop()
	log.Println("worker started: mail polling, ingest/send retries, supplier reminders")

	httpPort := getEnv("HTTP_PORT", "8080")
	if getEnv("GIN_MODE", "release") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := api.New(st, queue, runner)
	httpServer := &http.Server{Addr: ":" + httpPort, Handler: srv.Engine()}

	go func() {
		log.Printf("HTTP server listening on :%s", httpPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
}
