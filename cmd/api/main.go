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

	"inkvault/api/internal/app"
	"inkvault/api/internal/blob"
	"inkvault/api/internal/collab"
	"inkvault/api/internal/config"
	"inkvault/api/internal/gitrepo"
	"inkvault/api/internal/identity"
	"inkvault/api/internal/search"
	"inkvault/api/internal/store"
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

	var profiles *identity.ProfileStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		profiles, err = identity.NewProfileStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer profiles.Close()
	} else {
		log.Printf("No Redis configured, display names come from token claims only")
	}
	resolver := identity.NewResolver([]byte(cfg.JWTSecret), profiles)

	var blobClient *blob.Client
	if strings.TrimSpace(cfg.BlobEndpoint) != "" {
		blobClient, err = blob.NewClient(blob.Config{
			Endpoint:  cfg.BlobEndpoint,
			AccessKey: cfg.BlobAccessKey,
			SecretKey: cfg.BlobSecretKey,
			Bucket:    cfg.BlobBucket,
			UseSSL:    cfg.BlobUseSSL,
		})
		if err != nil {
			log.Fatalf("blob storage setup failed: %v", err)
		}
		if err := blobClient.EnsureBucket(ctx); err != nil {
			log.Fatalf("blob bucket setup failed: %v", err)
		}
		log.Printf("Mirroring document text to %s/%s", cfg.BlobEndpoint, cfg.BlobBucket)
	}
	documents := blob.NewDocumentStore(dataStore, blobClient)

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient)

	var gitService *gitrepo.Service
	if strings.TrimSpace(cfg.ReposDir) != "" {
		if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
			log.Fatalf("failed to create repos dir: %v", err)
		}
		gitService = gitrepo.New(cfg.ReposDir)
		log.Printf("Recording document history under %s", cfg.ReposDir)
	}

	sched := collab.NewScheduler()
	rooms := collab.NewRoomSet()
	presence := collab.NewPresence(sched, cfg.PresenceGracePeriod, rooms)
	debouncer := collab.NewDebouncer(sched, cfg.SaveQuietPeriod)
	sessions := collab.NewSessionManager(documents, debouncer,
		persistToSearch(ctx, dataStore, searchService),
		persistToGit(ctx, dataStore, gitService),
	)
	// A file deleted through the vault API while a session is open leaves a
	// stale index entry behind; the session's last flush notices.
	sessions.OnMissing(searchService.DeleteFile)

	gateway := collab.NewGateway(resolver, dataStore, presence, sessions, rooms, cfg.CORSOrigin)

	var cache app.Pinger
	if profiles != nil {
		cache = profiles
	}
	var history app.History
	if gitService != nil {
		history = gitService
	}
	httpServer := app.NewHTTPServer(dataStore, cache, resolver, history, gateway, cfg.CORSOrigin)

	// No blanket write timeout: websocket connections stay open for hours.
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Inkvault collab API listening on %s", cfg.Addr)
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

// persistToSearch reindexes a document after every durable write so vault
// search stays close to what collaborators actually see.
func persistToSearch(ctx context.Context, dataStore *store.PostgresStore, svc *search.Service) collab.PersistHook {
	return func(fileID, text string, editor collab.UserPayload) {
		f, err := dataStore.LookupFile(ctx, fileID)
		if err != nil {
			log.Printf("search reindex: lookup %s failed: %v", fileID, err)
			return
		}
		svc.IndexFile(search.FileRecord{
			ID:      f.ID,
			VaultID: f.VaultID,
			Name:    f.Name,
			Content: text,
		})
	}
}

// persistToGit commits a snapshot attributed to the last editor. Nil service
// disables history.
func persistToGit(ctx context.Context, dataStore *store.PostgresStore, svc *gitrepo.Service) collab.PersistHook {
	return func(fileID, text string, editor collab.UserPayload) {
		if svc == nil {
			return
		}
		f, err := dataStore.LookupFile(ctx, fileID)
		if err != nil {
			log.Printf("history snapshot: lookup %s failed: %v", fileID, err)
			return
		}
		if _, err := svc.Snapshot(f.VaultID, f.ID, text, editor.DisplayName); err != nil {
			log.Printf("history snapshot: commit %s failed: %v", fileID, err)
		}
	}
}
