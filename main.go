package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kevinaaaquil/kremlib/cache"
	"github.com/kevinaaaquil/kremlib/config"
	"github.com/kevinaaaquil/kremlib/handlers"
	"github.com/kevinaaaquil/kremlib/logging"
	"github.com/kevinaaaquil/kremlib/middleware"
	"github.com/kevinaaaquil/kremlib/models"
	"github.com/kevinaaaquil/kremlib/service"
	"github.com/kevinaaaquil/kremlib/store"
)

var (
	_ service.Catalog     = (*store.DB)(nil)
	_ service.Counters    = (*store.DB)(nil)
	_ middleware.Sessions = (*store.DB)(nil)
	_ handlers.Pinger     = (*store.DB)(nil)
)

var rootCmd = &cobra.Command{
	Use:           "kremlib",
	Short:         "kremlib - digital library backend",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), serve)
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the default categories and the configured admin account",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), seed)
	},
}

var indexesCmd = &cobra.Command{
	Use:   "indexes",
	Short: "Create the MongoDB indexes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), func(ctx context.Context, _ *config.Config, db *store.DB) error {
			return db.EnsureIndexes(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, seedCmd, indexesCmd)
}

func main() {
	_ = godotenv.Load()
	// Running the binary without a subcommand serves the API.
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withDB loads the configuration, connects to MongoDB and runs fn.
func withDB(ctx context.Context, fn func(context.Context, *config.Config, *store.DB) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	db, err := store.NewMongoDB(connectCtx, cfg.Mongo.URI, cfg.Mongo.DB)
	cancel()
	if err != nil {
		return fmt.Errorf("mongodb: %w", err)
	}
	defer func() {
		if err := db.Disconnect(context.Background()); err != nil {
			logging.Warn().Err(err).Msg("mongodb disconnect")
		}
	}()
	return fn(ctx, cfg, db)
}

func seed(ctx context.Context, cfg *config.Config, db *store.DB) error {
	if err := db.SeedCategories(ctx, models.DefaultCategories); err != nil {
		return fmt.Errorf("seed categories: %w", err)
	}
	if err := handlers.SeedAdmin(ctx, db, cfg.Admin.Username, cfg.Admin.Email, cfg.Admin.Password); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	return nil
}

func newFileStore(ctx context.Context, cfg *config.Config) (service.FileStore, error) {
	if cfg.Storage.Bucket != "" {
		s := cfg.Storage
		logging.Info().Str("bucket", s.Bucket).Msg("using s3 file storage")
		return service.NewS3Store(ctx, s.Bucket, s.Region, s.AccessKeyID, s.SecretAccessKey)
	}
	logging.Info().Str("root", cfg.Storage.MediaRoot).Msg("using local file storage")
	return service.NewDiskStore(cfg.Storage.MediaRoot)
}

func serve(ctx context.Context, cfg *config.Config, db *store.DB) error {
	if err := db.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("indexes: %w", err)
	}
	if err := seed(ctx, cfg, db); err != nil {
		return err
	}

	files, err := newFileStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("file storage: %w", err)
	}
	results, err := cache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer results.Close()

	var mailer service.BookSender
	if cfg.SMTPEnabled() {
		mailer = service.NewMailer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From)
	} else {
		logging.Warn().Msg("SMTP_HOST or SMTP_FROM not set; send-to-device is disabled")
	}

	tokens := &middleware.Authenticator{
		Secret:   []byte(cfg.Auth.JWTSecret),
		TTL:      cfg.Auth.TokenTTL,
		Sessions: db,
	}
	books := &handlers.BooksHandler{
		DB:              db,
		Files:           files,
		Library:         service.NewLibrary(files, db),
		Recommender:     service.NewRecommender(db),
		Mailer:          mailer,
		Cache:           results,
		DefaultPageSize: cfg.API.DefaultPageSize,
		MaxPageSize:     cfg.API.MaxPageSize,
	}
	handler := handlers.NewRouter(handlers.Router{
		Tokens:     tokens,
		Auth:       &handlers.AuthHandler{DB: db, Tokens: tokens, MaxFailures: cfg.Auth.MaxFailures, LockFor: cfg.Auth.LockFor},
		Profile:    &handlers.ProfileHandler{DB: db},
		Categories: &handlers.CategoriesHandler{DB: db, Cache: results},
		Books:      books,
		Upload: &handlers.UploadHandler{
			DB:       db,
			Ingestor: service.NewIngestor(files, service.NewMetadataClient()),
			Books:    books,
			Cache:    results,
			MaxBytes: cfg.MaxUploadBytes(),
		},
		Activity: &handlers.ActivityHandler{DB: db, Books: books, Cache: results},
		Users:    &handlers.UsersHandler{DB: db, Files: files, Cache: results},
		Health:   &handlers.HealthHandler{DB: db},

		CORSOrigins:     cfg.Security.CORSOrigins,
		RateLimitReqs:   cfg.Security.RateLimitReqs,
		RateLimitWindow: cfg.Security.RateLimitWindow,
	})

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", server.Addr).Str("env", cfg.Server.Environment).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logging.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
