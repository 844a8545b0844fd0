package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/ferrovax/deskrelay/internal/api"
	"github.com/ferrovax/deskrelay/internal/auth"
	"github.com/ferrovax/deskrelay/internal/capture"
	"github.com/ferrovax/deskrelay/internal/config"
	"github.com/ferrovax/deskrelay/internal/input"
	"github.com/ferrovax/deskrelay/internal/mailer"
	"github.com/ferrovax/deskrelay/internal/remote"
	"github.com/ferrovax/deskrelay/internal/session"
	"github.com/ferrovax/deskrelay/internal/storage/sqlite"
	"github.com/ferrovax/deskrelay/internal/ticket"
	"github.com/ferrovax/deskrelay/internal/websocket"
	"github.com/ferrovax/deskrelay/pkg/logger"
)

var (
	// Version information (can be set during build)
	Version = "dev"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	// Load configuration with fallback logic
	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Create logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: "console", // Always use console format for better readability
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting DeskRelay server",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	// Ensure the database directory exists
	dbDir := filepath.Dir(cfg.Storage.SQLitePath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		log.Error("Failed to create database directory", logger.Error(err), logger.String("path", dbDir))
		os.Exit(1)
	}

	// Create SQLite ticket storage
	ticketStorage, err := sqlite.NewTicketStorage(cfg.Storage.SQLitePath, log)
	if err != nil {
		log.Error("Failed to create SQLite storage", logger.Error(err))
		os.Exit(1)
	}
	defer ticketStorage.Close()
	log.Info("Using SQLite storage", logger.String("path", cfg.Storage.SQLitePath))

	// Create staff storage (shares the ticket database)
	staffStorage := sqlite.NewStaffStorage(ticketStorage.GetDB(), log)

	// Create staff auth service and seed the first account
	authService := auth.NewService(staffStorage, &cfg.Auth, log)
	if err := authService.EnsureDefaultAdmin(&cfg.Auth, cfg.SMTP.ITAddress); err != nil {
		log.Error("Failed to seed default admin account", logger.Error(err))
		os.Exit(1)
	}

	// Create outgoing mail client
	mailService, err := mailer.New(&cfg.SMTP, log)
	if err != nil {
		log.Error("Failed to create mail client", logger.Error(err))
		os.Exit(1)
	}

	// Create WebSocket server
	wsServer := websocket.NewServer(log)

	// Start WebSocket server
	go wsServer.Run()

	// Create the remote session registry
	registry := session.NewRegistry(&cfg.Sessions, log)

	// Create screen capture components
	screen, err := capture.NewDisplayScreen(cfg.Capture.Display)
	if err != nil {
		log.Error("Failed to open capture display", logger.Error(err), logger.Int("display", cfg.Capture.Display))
		os.Exit(1)
	}
	producer := capture.NewProducer(screen, &cfg.Capture, log)

	// Create input injection components
	dispatcher := input.NewRobotDispatcher(&cfg.Input)
	controller := input.NewController(dispatcher, log)

	// Create and set the WebSocket message handler for remote sessions
	remoteHandler := remote.NewHandler(registry, producer, controller, wsServer, log)
	wsServer.SetMessageHandler(remoteHandler)
	wsServer.SetDisconnectHandler(remoteHandler)

	// Start session registry (expiry sweeper)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := registry.Start(ctx); err != nil {
		log.Error("Failed to start session registry", logger.Error(err))
		os.Exit(1)
	}

	// Create ticket service
	ticketService := ticket.NewService(ticketStorage, registry, mailService, log)

	// Create API router
	handler := api.NewHandler(ticketService, authService, registry, producer, controller, wsServer, cfg, log)
	router := api.NewRouter(handler, authService, cfg, log)

	// --- Setup for multiple HTTP servers ---
	var servers []*http.Server
	allPorts := []int{cfg.Server.Port}       // Start with the primary port
	if len(cfg.Server.AdditionalPorts) > 0 { // Only append if there are additional ports
		allPorts = append(allPorts, cfg.Server.AdditionalPorts...)
	}

	log.Info("Configured listener ports", logger.Any("ports", allPorts))

	// Start a server for each configured port
	for _, port := range allPorts {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, port)
		server := &http.Server{
			Addr:         addr,
			Handler:      router.Routes(), // All servers use the same main router
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
			WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
			IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
		}
		servers = append(servers, server)

		go func(s *http.Server) {
			log.Info("Starting HTTP server", logger.String("addr", s.Addr))
			if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("HTTP server error on startup", logger.String("addr", s.Addr), logger.Error(err))
			}
		}(server)
	}

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down server...")

	// Stop background services first
	log.Info("Stopping session registry...")
	registry.Stop()
	log.Info("Session registry stopped.")

	log.Info("Stopping frame producer...")
	producer.Stop()
	log.Info("Frame producer stopped.")

	// Cancel the main context
	cancel()

	// Shutdown all HTTP servers
	log.Info("Shutting down HTTP servers...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	var wg sync.WaitGroup
	for _, s := range servers {
		wg.Add(1)
		go func(srv *http.Server) {
			defer wg.Done()
			log.Info("Attempting to shutdown HTTP server", logger.String("addr", srv.Addr))
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("HTTP server shutdown error", logger.String("addr", srv.Addr), logger.Error(err))
			} else {
				log.Info("HTTP server shutdown complete", logger.String("addr", srv.Addr))
			}
		}(s)
	}
	wg.Wait() // Wait for all server shutdowns to complete

	log.Info("All HTTP servers shutdown.")

	log.Info("Server fully stopped")
}
