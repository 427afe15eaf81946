package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/duetchat/duet/internal/api"
	"github.com/duetchat/duet/internal/chat"
	"github.com/duetchat/duet/internal/config"
	"github.com/duetchat/duet/internal/database"
	"github.com/duetchat/duet/internal/stats"
	"github.com/duetchat/duet/internal/stream"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

// envOr prefers the flag default from the environment so containerized
// deployments can skip flags entirely.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var (
	addr              string
	dsn               string
	signingKey        string
	adminPasswordHash string
	allowedOrigins    stringSliceFlag
)

func main() {
	godotenv.Load()

	flag.StringVar(&addr, "addr", envOr("DUET_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&dsn, "dsn", envOr("DUET_DSN", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"), "database connection string")
	flag.StringVar(&signingKey, "signing-key", envOr("DUET_SIGNING_KEY", defaultSigningKey), "base64 encoded signing key")
	flag.StringVar(&adminPasswordHash, "admin-password-hash", envOr("DUET_ADMIN_PASSWORD_HASH", ""), "bcrypt hash guarding the admin endpoints")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	if len(allowedOrigins) == 0 {
		if v := os.Getenv("DUET_ALLOWED_ORIGINS"); v != "" {
			allowedOrigins.Set(v)
		}
	}

	logger := log.New(os.Stderr, "[duet] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, signingKey, adminPasswordHash, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}

	dbConn, err := database.NewPgDuetRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	if err := dbConn.Migrate(); err != nil {
		logger.Fatal("db migrate:", err)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	streamer := stream.NewStreamer(logger)

	svc := chat.NewService(dbConn, logger, statsUpdater)
	svc.SetNotifier(streamer)

	srv := api.NewDuetApp(mux, logger, svc, dbConn, streamer, statsUpdater, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("closing event streams...")
	streamer.Shutdown()

	logger.Println("shutdown complete")
}
