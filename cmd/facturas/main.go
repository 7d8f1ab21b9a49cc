package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/franmartos11/mvm-facturas/internal/auth"
	"github.com/franmartos11/mvm-facturas/internal/extraction"
	"github.com/franmartos11/mvm-facturas/internal/invoice"
	"github.com/franmartos11/mvm-facturas/internal/storage"
	"github.com/franmartos11/mvm-facturas/internal/trends"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

type config struct {
	port            int
	publicBaseURL   string
	maxUploadMB     int
	shutdownTimeout time.Duration
	chartDays       int

	dbDriver string
	dbPath   string

	storageType    string
	storageDir     string
	minioEndpoint  string
	minioAccessKey string
	minioSecretKey string
	minioBucket    string
	minioUseSSL    bool
	gcsBucket      string

	extractor      string
	geminiKey      string
	geminiModel    string
	vertexProject  string
	vertexLocation string
	vertexModel    string
	ollamaURL      string
	ollamaModel    string
	extractTimeout time.Duration
	fetchTimeout   time.Duration

	jwtSecret  string
	tokenTTL   time.Duration
	authUser   string
	authPass   string
	issueToken string

	logLevel  string
	logFormat string
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env file is fine; real environment variables still apply
	_ = godotenv.Load()

	var cfg config
	fs := ff.NewFlagSet("facturas")
	fs.IntVar(&cfg.port, 0, "port", 8080, "HTTP server port")
	fs.StringVar(&cfg.publicBaseURL, 0, "public-base-url", "", "Public address of this server, used for local file URLs (default http://localhost:<port>)")
	fs.IntVar(&cfg.maxUploadMB, 0, "max-upload-mb", 50, "Maximum upload request size in MB")
	fs.DurationVar(&cfg.shutdownTimeout, 0, "shutdown-timeout", 15*time.Second, "Graceful shutdown timeout")
	fs.IntVar(&cfg.chartDays, 0, "chart-days", trends.DefaultChartDays, "Days shown in the dashboard spend chart")

	fs.StringVar(&cfg.dbDriver, 0, "db-driver", "bolt", "Database driver: 'bolt' or 'sqlite'")
	fs.StringVar(&cfg.dbPath, 0, "db", "facturas.db", "Database file path")

	fs.StringVar(&cfg.storageType, 0, "storage", "local", "Document storage: 'local', 'minio' or 'gcs'")
	fs.StringVar(&cfg.storageDir, 0, "storage-dir", "./uploads", "Local storage directory")
	fs.StringVar(&cfg.minioEndpoint, 0, "minio-endpoint", "localhost:9000", "MinIO/S3 endpoint")
	fs.StringVar(&cfg.minioAccessKey, 0, "minio-access-key", "", "MinIO/S3 access key")
	fs.StringVar(&cfg.minioSecretKey, 0, "minio-secret-key", "", "MinIO/S3 secret key")
	fs.StringVar(&cfg.minioBucket, 0, "minio-bucket", "invoices", "MinIO/S3 bucket")
	fs.BoolVar(&cfg.minioUseSSL, 0, "minio-use-ssl", "Use TLS for MinIO/S3")
	fs.StringVar(&cfg.gcsBucket, 0, "gcs-bucket", "", "Google Cloud Storage bucket")

	fs.StringVar(&cfg.extractor, 0, "extractor", "gemini", "Extraction backend: 'gemini', 'vertex' or 'ollama'")
	fs.StringVar(&cfg.geminiKey, 0, "gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
	fs.StringVar(&cfg.geminiModel, 0, "gemini-model", "gemini-2.5-flash", "Google Gemini model name")
	fs.StringVar(&cfg.vertexProject, 0, "vertex-project", "", "Google Cloud project for Vertex AI")
	fs.StringVar(&cfg.vertexLocation, 0, "vertex-location", "us-central1", "Vertex AI location")
	fs.StringVar(&cfg.vertexModel, 0, "vertex-model", "gemini-2.5-flash", "Vertex AI model name")
	fs.StringVar(&cfg.ollamaURL, 0, "ollama-url", "http://localhost:11434", "Ollama API base URL")
	fs.StringVar(&cfg.ollamaModel, 0, "ollama-model", "llava", "Ollama model name (e.g., llava, qwen2-vl)")
	fs.DurationVar(&cfg.extractTimeout, 0, "extract-timeout", invoice.DefaultExtractTimeout, "Timeout of a single model call")
	fs.DurationVar(&cfg.fetchTimeout, 0, "fetch-timeout", 30*time.Second, "Timeout for downloading a stored document")

	fs.StringVar(&cfg.jwtSecret, 0, "jwt-secret", "", "HS256 secret for bearer tokens")
	fs.DurationVar(&cfg.tokenTTL, 0, "token-ttl", 24*time.Hour, "Lifetime of issued tokens")
	fs.StringVar(&cfg.authUser, 0, "auth-user", "", "Basic auth username (optional)")
	fs.StringVar(&cfg.authPass, 0, "auth-pass", "", "Basic auth password (optional)")
	fs.StringVar(&cfg.issueToken, 0, "issue-token", "", "Print a bearer token for this user id and exit")

	fs.StringVar(&cfg.logLevel, 0, "log-level", "info", "Log level: debug, info, warn or error")
	fs.StringVar(&cfg.logFormat, 0, "log-format", "text", "Log format: 'text' or 'json'")
	showVersion := fs.BoolLong("version", "Show version information")

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("FACTURAS"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	logger, err := newLogger(os.Stderr, cfg.logLevel, cfg.logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if cfg.issueToken != "" {
		tokens, err := auth.NewTokens(cfg.jwtSecret, cfg.tokenTTL)
		if err != nil {
			slog.Error("Cannot issue token", "error", err)
			os.Exit(1)
		}
		token, err := tokens.Generate(cfg.issueToken)
		if err != nil {
			slog.Error("Cannot issue token", "error", err)
			os.Exit(1)
		}
		fmt.Println(token)
		os.Exit(0)
	}

	if err := run(cfg); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
}

// newLogger builds the process logger from the level and format flags
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}

func run(cfg config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.publicBaseURL == "" {
		cfg.publicBaseURL = fmt.Sprintf("http://localhost:%d", cfg.port)
	}

	slog.Info("Initializing database...", "driver", cfg.dbDriver, "path", cfg.dbPath)
	db, err := openDB(cfg.dbDriver, cfg.dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("Initializing storage...", "type", cfg.storageType)
	store, closeStore, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	extractor := openExtractor(ctx, cfg)
	defer extractor.Close()

	orchestrator := invoice.NewOrchestrator(db, invoice.NewHTTPFetcher(cfg.fetchTimeout), extractor, nil, cfg.extractTimeout)
	service := invoice.NewService(db, invoice.NewGateway(store, nil), orchestrator)

	authenticator, err := newAuthenticator(cfg)
	if err != nil {
		return err
	}
	server := invoice.NewServer(service, authenticator,
		invoice.WithMaxUploadBytes(int64(cfg.maxUploadMB)<<20),
		invoice.WithChartDays(cfg.chartDays),
	)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", httpServer.Addr), "version", version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

func openDB(driver, path string) (invoice.DB, error) {
	switch driver {
	case "bolt":
		db, err := invoice.NewBoltDB(path)
		if err != nil {
			return nil, fmt.Errorf("initializing database: %w", err)
		}
		return db, nil
	case "sqlite":
		db, err := invoice.NewSQLiteDB(path)
		if err != nil {
			return nil, fmt.Errorf("initializing database: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("invalid db driver %q: want bolt or sqlite", driver)
	}
}

func openStorage(ctx context.Context, cfg config) (invoice.Storage, func(), error) {
	noop := func() {}
	switch cfg.storageType {
	case "local":
		store, err := storage.NewLocal(cfg.storageDir, strings.TrimRight(cfg.publicBaseURL, "/")+"/files")
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	case "minio":
		store, err := storage.NewMinIO(ctx, storage.MinIOConfig{
			Endpoint:  cfg.minioEndpoint,
			AccessKey: cfg.minioAccessKey,
			SecretKey: cfg.minioSecretKey,
			Bucket:    cfg.minioBucket,
			UseSSL:    cfg.minioUseSSL,
		})
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	case "gcs":
		if cfg.gcsBucket == "" {
			return nil, noop, errors.New("--gcs-bucket is required for gcs storage")
		}
		store, err := storage.NewGCS(ctx, cfg.gcsBucket)
		if err != nil {
			return nil, noop, err
		}
		return store, func() { store.Close() }, nil
	default:
		return nil, noop, fmt.Errorf("invalid storage type %q: want local, minio or gcs", cfg.storageType)
	}
}

// openExtractor never fails: a backend that cannot start is replaced by one
// that reports the problem on every analyze call
func openExtractor(ctx context.Context, cfg config) extraction.Extractor {
	unavailable := func(reason string) extraction.Extractor {
		slog.Warn("Extraction disabled", "extractor", cfg.extractor, "reason", reason)
		return extraction.Unconfigured{Reason: reason}
	}

	switch cfg.extractor {
	case "gemini":
		apiKey := cfg.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return unavailable("set --gemini-key or GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini extractor...", "model", cfg.geminiModel)
		g, err := extraction.NewGemini(ctx, apiKey, cfg.geminiModel)
		if err != nil {
			return unavailable(err.Error())
		}
		return g
	case "vertex":
		if cfg.vertexProject == "" {
			return unavailable("set --vertex-project")
		}
		slog.Info("Initializing Vertex AI extractor...", "project", cfg.vertexProject, "location", cfg.vertexLocation, "model", cfg.vertexModel)
		v, err := extraction.NewVertex(ctx, cfg.vertexProject, cfg.vertexLocation, cfg.vertexModel)
		if err != nil {
			return unavailable(err.Error())
		}
		return v
	case "ollama":
		slog.Info("Initializing Ollama extractor...", "url", cfg.ollamaURL, "model", cfg.ollamaModel)
		return extraction.NewOllama(cfg.ollamaURL, cfg.ollamaModel)
	default:
		return unavailable(fmt.Sprintf("unknown extractor %q", cfg.extractor))
	}
}

func newAuthenticator(cfg config) (auth.Chain, error) {
	var chain auth.Chain
	if cfg.jwtSecret != "" {
		tokens, err := auth.NewTokens(cfg.jwtSecret, cfg.tokenTTL)
		if err != nil {
			return nil, err
		}
		chain = append(chain, tokens)
		slog.Info("Bearer token auth enabled")
	}
	basic := auth.Basic{Username: cfg.authUser, Password: cfg.authPass}
	if basic.Enabled() {
		chain = append(chain, basic)
		slog.Info("Basic auth enabled", "user", cfg.authUser)
	}
	if len(chain) == 0 {
		slog.Warn("No authentication configured; every API request will be rejected")
	}
	return chain, nil
}
