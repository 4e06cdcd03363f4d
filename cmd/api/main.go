package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"moonbase/api/internal/app"
	"moonbase/api/internal/auth"
	"moonbase/api/internal/config"
	"moonbase/api/internal/delivery"
	"moonbase/api/internal/email"
	"moonbase/api/internal/forum"
	"moonbase/api/internal/gitrepo"
	"moonbase/api/internal/manifest"
	"moonbase/api/internal/objectstore"
	"moonbase/api/internal/search"
	"moonbase/api/internal/store"
)

func main() {
	policyPath := pflag.String("policy", "", "YAML file with review policy overrides")
	addr := pflag.String("addr", "", "listen address (overrides API_ADDR)")
	hashKey := pflag.String("hash-admin-key", "", "print the bcrypt hash for an admin key and exit")
	rollback := pflag.Bool("migrate-down", false, "roll back all database migrations and exit")
	pflag.Parse()

	if *hashKey != "" {
		hash, err := auth.HashAdminKey(*hashKey)
		if err != nil {
			log.Fatalf("hash admin key: %v", err)
		}
		fmt.Println(hash)
		return
	}

	cfg, err := config.Load(*policyPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	ctx := context.Background()

	if err := os.MkdirAll(cfg.RepoDir, 0o755); err != nil {
		log.Fatalf("failed to create repo dir: %v", err)
	}

	history := gitrepo.New(cfg.HistoryDir)
	if err := history.Ensure(); err != nil {
		log.Fatalf("manifest history: %v", err)
	}
	manifests := manifest.NewStore(cfg.RepoDir, history)

	forumClient, err := forum.NewClient(forum.Config{
		BaseURL:       cfg.ForumURL,
		APIKey:        cfg.ForumAPIKey,
		Username:      cfg.ForumUsername,
		CategoryID:    cfg.Policy.CategoryID,
		WriteInterval: cfg.ForumWriteInterval,
	})
	if err != nil {
		log.Fatalf("forum client: %v", err)
	}

	deps := app.Dependencies{
		Forum:     forumClient,
		Manifests: manifests,
		History:   history,
	}

	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer db.Close()

		if *rollback {
			if err := store.RollbackMigrations(ctx, db, cfg.MigrationsDir); err != nil {
				log.Fatalf("rollback failed: %v", err)
			}
			log.Printf("migrations rolled back")
			return
		}
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
		deps.Events = store.NewPostgresStore(db)
	} else {
		if *rollback {
			log.Fatalf("--migrate-down needs DATABASE_URL")
		}
		log.Printf("DATABASE_URL not set; review audit log disabled")
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for webhook delivery dedupe")
		redisStore, err := delivery.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		deps.Deliveries = redisStore
	} else {
		log.Printf("Using in-memory webhook delivery dedupe")
		deps.Deliveries = delivery.NewMemoryStore()
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewCatalog(cfg.RepoDir, manifests))
	go searchService.ReindexAll()
	deps.Search = searchService

	if strings.TrimSpace(cfg.S3Endpoint) != "" {
		mirror, err := objectstore.New(objectstore.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			log.Fatalf("object store: %v", err)
		}
		if err := mirror.EnsureBucket(ctx); err != nil {
			log.Printf("WARNING: object store bucket check failed: %v", err)
		}
		deps.Mirror = mirror
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
		NotifyTo: cfg.NotifyTo,
	})
	if mailer.IsConfigured() {
		deps.Notifier = mailer
	}

	if cfg.AdminKeyHash == "" {
		log.Printf("MOONBASE_ADMIN_KEY_HASH not set; manual approve and reject are disabled")
	}
	if cfg.WebhookSecret == "" {
		log.Printf("WARNING: DISCOURSE_WEBHOOK_SECRET not set; every webhook delivery will be rejected")
	}

	service := app.New(cfg, deps)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Moonbase API listening on %s", cfg.Addr)
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
