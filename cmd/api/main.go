package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"quillpad/api/internal/app"
	"quillpad/api/internal/authpw"
	"quillpad/api/internal/bus"
	"quillpad/api/internal/config"
	"quillpad/api/internal/media"
	"quillpad/api/internal/search"
	"quillpad/api/internal/session"
	"quillpad/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliAPIKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)

	sessions, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer sessions.Close()

	mediaStore, err := media.New(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("object storage setup failed: %v", err)
	}
	if mediaStore != nil {
		if err := mediaStore.EnsureBucket(ctx); err != nil {
			log.Printf("WARNING: thumbnail bucket unavailable: %v", err)
		}
	} else {
		log.Printf("thumbnail uploads disabled (no object storage configured)")
	}

	users := authpw.NewService(dataStore)
	ensureOwner(ctx, users)

	service := app.New(cfg, dataStore, sessions, searchService, bus.New(), users, mediaStore)
	defer service.Close()

	searchService.ReindexAllFromPG(ctx)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Quillpad API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// ensureOwner creates the owner account on first boot when the credentials
// are provided through the environment.
func ensureOwner(ctx context.Context, users *authpw.Service) {
	email := strings.TrimSpace(os.Getenv("QUILLPAD_OWNER_EMAIL"))
	password := os.Getenv("QUILLPAD_OWNER_PASSWORD")
	if email == "" || password == "" {
		return
	}
	name := strings.TrimSpace(os.Getenv("QUILLPAD_OWNER_NAME"))
	if name == "" {
		name = "Owner"
	}
	if _, err := users.SignUp(ctx, authpw.SignUpRequest{Email: email, Password: password, DisplayName: name}); err != nil {
		// Already registered is the normal case after first boot.
		log.Printf("owner account: %v", err)
	}
}
