package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"outreach-automation-go/internal/config"
	"outreach-automation-go/internal/content"
	"outreach-automation-go/internal/database"
	"outreach-automation-go/internal/handlers"
	"outreach-automation-go/internal/lifecycle"
	"outreach-automation-go/internal/mailer"
	"outreach-automation-go/internal/metrics"
	"outreach-automation-go/internal/pipeline"
	"outreach-automation-go/internal/scheduler"
	"outreach-automation-go/internal/scraper"
	"outreach-automation-go/internal/server"
	"outreach-automation-go/internal/store"
)

func main() {
	// Configure logging
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	logrus.Info("Starting Outreach Automation Service")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Configuration validation failed: %v", err)
	}

	// Initialize database
	db, err := database.Init(cfg.Database)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}
	st := store.New(db)

	// Initialize metrics
	m := metrics.NewMetrics()

	// Initialize mail collaborators
	sender, err := mailer.NewGmailSender(&cfg.Mail)
	if err != nil {
		logrus.Fatalf("Failed to create Gmail sender: %v", err)
	}
	inbox, err := mailer.NewIMAPInbox(&cfg.Mail)
	if err != nil {
		logrus.Fatalf("Failed to create IMAP inbox: %v", err)
	}
	templates, err := mailer.LoadTemplates(&cfg.Mail)
	if err != nil {
		logrus.Fatalf("Failed to load mail templates: %v", err)
	}

	// Initialize content provider and lead source
	provider := content.NewOpenAIProvider(&cfg.OpenAI)
	leadSource := scraper.NewClient(&cfg.Apify)

	// Initialize lead lifecycle machine
	machine := lifecycle.New(st, cfg.Campaign.MaxFollowups)

	// Initialize campaign scheduler and reply pipeline
	sched := scheduler.New(&cfg.Campaign, cfg.Apify.Searches, threadDomain(cfg.Mail.UserEmail),
		st, machine, provider, sender, templates, leadSource, m)
	pipe := pipeline.New(&cfg.Pipeline, inbox, st, machine, provider, sender, templates, m)

	// Initialize HTTP handlers
	h := handlers.NewHandlers(db, st, sched, pipe)

	// Setup HTTP server
	r := server.SetupRouter(h)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start scheduler and pipeline
	if err := sched.Start(); err != nil {
		logrus.Fatalf("Failed to start scheduler: %v", err)
	}
	if err := pipe.Start(); err != nil {
		logrus.Fatalf("Failed to start reply pipeline: %v", err)
	}

	// Start HTTP server in a goroutine
	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop the trigger loop first, then drain replies.
	if err := sched.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}
	sched.Wait()
	pipe.Stop()

	// Shutdown HTTP server
	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	// Close mail connections
	if err := inbox.Close(); err != nil {
		logrus.Errorf("Failed to close IMAP inbox: %v", err)
	}
	if err := sender.Close(); err != nil {
		logrus.Errorf("Failed to close Gmail sender: %v", err)
	}

	logrus.Info("Service stopped gracefully")
}

// threadDomain extracts the domain used when minting outreach thread ids.
func threadDomain(address string) string {
	if at := strings.LastIndex(address, "@"); at >= 0 {
		return address[at+1:]
	}
	return "outreach.local"
}
