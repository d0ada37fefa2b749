package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"wediscuss/auth"
	"wediscuss/internal"
	"wediscuss/moderation"
	"wediscuss/repositories"
	"wediscuss/runtime"
	"wediscuss/runtime/workers"
	"wediscuss/services"
	"wediscuss/transport/ws"
)

//go:embed censored/*
var censoredFolder embed.FS

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components and manages the server lifecycle, so every
// defer executes before the process exits and the entry point stays
// testable.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	charReplacement, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return err
	}

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.INFO))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Accounts
	tokens := auth.NewTokenIssuer(config.JWTSecret, config.AuthTokenDuration)
	userRepository := repositories.NewUserRepository(db)
	accounts := services.NewUserService(userRepository, tokens, log)
	if err := accounts.SeedAdmin(config.AdminUsername, config.AdminPassword); err != nil {
		return fmt.Errorf("admin seed failed: %w", err)
	}

	// 4. Core: registry, directory, moderation, fan-out, router
	registry := runtime.NewRegistry(log, config.DeliveryTimeout)
	directory := runtime.NewDirectory(log)

	if config.ChatroomFilepath != "" {
		f, err := os.Open(config.ChatroomFilepath)
		if err != nil {
			return fmt.Errorf("chatroom file opening failed: %w", err)
		}
		_, err = runtime.LoadChatrooms(f, directory, log)
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("chatroom bootstrap failed: %w", err)
		}
	}

	censoredData, err := runtime.NewCensoredLoader(censoredFolder).LoadAll("censored")
	if err != nil {
		return fmt.Errorf("censored words loading failed: %w", err)
	}
	moderator, err := moderation.NewModerator(censoredData.Words, charReplacement, log)
	if err != nil {
		return fmt.Errorf("moderator build failed: %w", err)
	}
	log.Info("Moderation ready",
		"words", len(censoredData.Words),
		"languages", censoredData.Languages)

	messageRepository := repositories.NewMessageRepository(db, log, config.LimitMessages)
	fanout := runtime.NewFanout(log, registry, config.FanoutConcurrency)
	router := runtime.NewRouter(log, registry, directory, accounts, messageRepository, fanout, moderator)

	// 5. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 6. Supervised background workers
	sup := workers.NewSupervisor(log)
	sup.Add(workers.NewTelemetryWorker(log, config.MetricInterval, registry, directory))
	supDone := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(supDone)
	}()

	// 7. HTTP server carrying the websocket endpoint
	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	wsServer := ws.NewServer(log, router, config.SessionBufferSize)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsServer.HandleWS)

	httpServer := &http.Server{Addr: address, Handler: mux}
	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting websocket server", "address", address, "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// 8. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	// 9. Final Cleanup
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	sup.Stop()
	<-supDone
	log.Info("Program stopped cleanly")

	return nil
}
