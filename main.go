package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"skuld/artifact"
	"skuld/auth"
	"skuld/config"
	"skuld/handler"
	"skuld/health"
	"skuld/hub"
	"skuld/model"
	"skuld/pipeline"
	"skuld/remote"
	"skuld/saga"
	"skuld/store"
	"skuld/vault"
)

func main() {
	cfg := config.Load()

	// Database
	db, err := store.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	if err := store.Migrate(db); err != nil {
		log.Fatalf("migration: %v", err)
	}

	if err := db.RecoverInFlightRuns(context.Background()); err != nil {
		log.Printf("WARNING: run recovery: %v", err)
	}

	// Credential vault
	var secrets vault.Source
	switch {
	case cfg.ConsulAddr != "":
		consulSource, err := vault.NewConsulSource(cfg.ConsulAddr, cfg.SecretPrefix)
		if err != nil {
			log.Fatalf("consul vault: %v", err)
		}
		if err := consulSource.Healthy(); err != nil {
			log.Printf("WARNING: consul not healthy (%v)", err)
		} else {
			log.Println("consul vault connected at " + cfg.ConsulAddr)
		}
		secrets = consulSource
	case cfg.SecretsFile != "":
		secrets = vault.NewSOPSSource(cfg.SecretsFile)
		log.Println("sops vault reading " + cfg.SecretsFile)
	default:
		log.Fatal("no credential backend: set SKULD_CONSUL_ADDR or SKULD_SECRETS_FILE")
	}

	// Artifact store
	if cfg.S3Endpoint == "" {
		log.Fatal("artifact store: SKULD_S3_ENDPOINT not set")
	}
	artifacts, err := artifact.NewS3Store(artifact.S3Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Region:    cfg.S3Region,
		Bucket:    cfg.S3Bucket,
		UseSSL:    cfg.S3UseSSL,
	})
	if err != nil {
		log.Fatalf("artifact store: %v", err)
	}
	if err := artifacts.EnsureBucket(context.Background()); err != nil {
		log.Fatalf("artifact bucket: %v", err)
	}
	log.Println("artifact store connected at " + cfg.S3Endpoint)

	// WebSocket hub
	allowedOrigins := []string{"http://localhost:5173", "http://localhost:3000"}
	if cfg.AllowedOrigins != "" {
		for _, o := range strings.Split(cfg.AllowedOrigins, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				allowedOrigins = append(allowedOrigins, o)
			}
		}
	}
	ws := hub.New(allowedOrigins)
	go ws.Run()

	// Saga store
	sagaStore := saga.NewPostgresStore(db.Pool)

	// Pipeline
	orch := &pipeline.Orchestrator{
		DB:        db,
		Artifacts: artifacts,
		Vault:     secrets,
		Exec:      remote.NewSSHExecutor(),
		Verifier:  health.NewVerifier(cfg.PollInterval),
		Builder: &pipeline.LocalBuilder{
			BuildCmd:     cfg.BuildCmd,
			TestCmd:      cfg.TestCmd,
			PackageCmd:   cfg.PackageCmd,
			WorkDir:      cfg.WorkDir,
			ArtifactFile: cfg.ArtifactFile,
		},
		SagaStore:     sagaStore,
		WS:            ws,
		DeployTimeout: cfg.DeployTimeout,
		VerifyTimeout: cfg.VerifyTimeout,
	}

	// Targets on disk are the source of truth for everything except the
	// active version pointer, which only the pipeline writes.
	if err := syncTargets(db, cfg.TargetsDir); err != nil {
		log.Printf("WARNING: target sync: %v", err)
	}

	go pruneArtifacts(db, artifacts, cfg.RetainVersions)

	// Handler
	h := handler.New(db, orch, artifacts, sagaStore, ws, cfg)

	// Router
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Proxy-Jwt-Assertion"},
		AllowCredentials: true,
	}))

	// Front-proxy JWT auth
	if cfg.JWKSURL != "" && cfg.JWTAudience != "" {
		validator := auth.NewValidator(cfg.JWKSURL, cfg.JWTAudience)
		r.Use(validator.Middleware)
		log.Println("proxy JWT auth enabled")
	}

	// Bearer token auth
	if cfg.APIToken != "" {
		r.Use(bearerAuth(cfg.APIToken))
		log.Println("API token auth enabled")
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"version": Version})
		})

		r.Post("/webhooks/{provider}", h.Webhook)

		r.Get("/stats", h.Stats)
		r.Get("/runs", h.ListRuns)
		r.Get("/runs/{id}", h.GetRun)
		r.Get("/runs/{id}/events", h.GetRunEvents)
		r.Get("/events", h.ListRecentEvents)
		r.Get("/artifacts", h.ListArtifacts)
		r.Get("/targets", h.ListTargets)

		r.Route("/targets/{name}", func(r chi.Router) {
			r.Use(handler.ValidateTargetName)
			r.Get("/", h.GetTarget)
			r.Post("/deploy", h.Deploy)
			r.Post("/rollback", h.Rollback)
		})
	})

	r.Get("/ws", ws.HandleConnect)

	// Serve UI static files
	if cfg.UIDir != "" {
		fileServer(r, cfg.UIDir)
	}

	srv := &http.Server{
		Addr:    cfg.BindAddr + ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Printf("skuld %s listening on %s:%s", Version, cfg.BindAddr, cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}

func syncTargets(db *store.DB, dir string) error {
	targets, err := model.DiscoverTargets(dir)
	if err != nil {
		return err
	}
	ctx := context.Background()
	for _, t := range targets {
		if err := db.UpsertTarget(ctx, t); err != nil {
			return err
		}
	}
	log.Printf("synced %d targets from %s", len(targets), dir)
	return nil
}

// pruneArtifacts drops old artifact versions on an hourly tick, keeping
// the newest N plus every version a target still points at or rolled
// back from.
func pruneArtifacts(db *store.DB, arts artifact.Store, keep int) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		protected := map[string]bool{}

		targets, err := db.ListTargets(ctx)
		if err != nil {
			log.Printf("prune: list targets: %v", err)
			cancel()
			continue
		}
		for _, t := range targets {
			if t.ActiveVersion != "" {
				protected[t.ActiveVersion] = true
			}
			runs, err := db.ListRuns(ctx, t.Name, 5)
			if err != nil {
				continue
			}
			for _, r := range runs {
				if r.PriorVersion != "" {
					protected[r.PriorVersion] = true
				}
			}
		}

		n, err := arts.Prune(ctx, keep, protected)
		if err != nil {
			log.Printf("prune: %v", err)
		} else if n > 0 {
			log.Printf("prune: removed %d artifact versions", n)
		}
		cancel()
	}
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/ws" || r.URL.Path == "/api/health" || r.URL.Path == "/api/version" || strings.HasPrefix(r.URL.Path, "/api/webhooks/") {
				next.ServeHTTP(w, r)
				return
			}
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if subtle.ConstantTimeCompare([]byte(auth[7:]), []byte(token)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func fileServer(r chi.Router, dir string) {
	fs := http.FileServer(http.Dir(dir))
	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		if _, err := os.Stat(dir + r.URL.Path); os.IsNotExist(err) {
			http.ServeFile(w, r, dir+"/index.html")
			return
		}
		fs.ServeHTTP(w, r)
	})
}
