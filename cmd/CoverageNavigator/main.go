package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BTreeMap/CoverageNavigator/internal/api"
	"github.com/BTreeMap/CoverageNavigator/internal/assistant"
	"github.com/BTreeMap/CoverageNavigator/internal/documents"
	"github.com/BTreeMap/CoverageNavigator/internal/flow"
	"github.com/BTreeMap/CoverageNavigator/internal/genai"
	"github.com/BTreeMap/CoverageNavigator/internal/lockfile"
	"github.com/BTreeMap/CoverageNavigator/internal/metrics"
	"github.com/BTreeMap/CoverageNavigator/internal/screener"
	"github.com/BTreeMap/CoverageNavigator/internal/store"
	"github.com/BTreeMap/CoverageNavigator/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for CoverageNavigator state data
	DefaultStateDir = "/var/lib/coveragenavigator"
	// DefaultSessionRetention is how long an untouched session is kept
	DefaultSessionRetention = 7 * 24 * time.Hour
	// DefaultJanitorInterval is how often expired sessions are purged
	DefaultJanitorInterval = time.Hour
)

func main() {
	initializeLogger()
	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := run(config, flags); err != nil {
		slog.Error("CoverageNavigator failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("CoverageNavigator exited successfully")
}

// Config holds environment configuration
type Config struct {
	APIAddr          string
	OpenAIKey        string
	OpenAIModel      string
	OpenAIBaseURL    string
	GenAIDebug       bool
	StateDir         string
	DatabaseURL      string
	SchemaPath       string
	CORSOrigin       string
	SessionCacheSize int
	SessionRetention time.Duration
	JanitorInterval  time.Duration
	MaxUploadBytes   int
	S3               documents.S3Config
}

// Flags holds command line flag values
type Flags struct {
	apiAddr     *string
	stateDir    *string
	dbDSN       *string
	openaiKey   *string
	openaiModel *string
	schemaPath  *string
	genaiDebug  *bool
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		APIAddr:          util.GetEnv("API_ADDR", api.DefaultAddr),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      util.GetEnv("OPENAI_MODEL", genai.DefaultModel),
		OpenAIBaseURL:    os.Getenv("OPENAI_BASE_URL"),
		GenAIDebug:       util.ParseBoolEnv("GENAI_DEBUG", false),
		StateDir:         util.GetEnv("STATE_DIR", DefaultStateDir),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		SchemaPath:       os.Getenv("SCREENER_SCHEMA"),
		CORSOrigin:       util.GetEnv("CORS_ALLOW_ORIGIN", api.DefaultCORSOrigin),
		SessionCacheSize: util.ParseIntEnv("SESSION_CACHE_SIZE", flow.DefaultCacheSize),
		SessionRetention: util.ParseDurationEnv("SESSION_RETENTION", DefaultSessionRetention),
		JanitorInterval:  util.ParseDurationEnv("JANITOR_INTERVAL", DefaultJanitorInterval),
		MaxUploadBytes:   util.ParseIntEnv("UPLOAD_MAX_BYTES", int(api.DefaultMaxUploadBytes)),
		S3: documents.S3Config{
			Endpoint:  os.Getenv("S3_ENDPOINT"),
			Region:    os.Getenv("S3_REGION"),
			AccessKey: os.Getenv("S3_ACCESS_KEY"),
			SecretKey: os.Getenv("S3_SECRET_KEY"),
			Bucket:    util.GetEnv("S3_BUCKET", "coveragenavigator-documents"),
			UseSSL:    util.ParseBoolEnv("S3_USE_SSL", true),
		},
	}

	slog.Debug("environment variables loaded",
		"API_ADDR", config.APIAddr,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_MODEL", config.OpenAIModel,
		"OPENAI_BASE_URL_SET", config.OpenAIBaseURL != "",
		"GENAI_DEBUG", config.GenAIDebug,
		"STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"SCREENER_SCHEMA", config.SchemaPath,
		"CORS_ALLOW_ORIGIN", config.CORSOrigin,
		"SESSION_CACHE_SIZE", config.SessionCacheSize,
		"SESSION_RETENTION", config.SessionRetention,
		"JANITOR_INTERVAL", config.JanitorInterval,
		"S3_ENDPOINT", config.S3.Endpoint,
		"S3_SECRET_KEY_SET", config.S3.SecretKey != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		apiAddr:     flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		stateDir:    flag.String("state-dir", config.StateDir, "state directory for locks and debug dumps (overrides $STATE_DIR)"),
		dbDSN:       flag.String("db-dsn", config.DatabaseURL, "Postgres DSN or SQLite path for session snapshots (overrides $DATABASE_URL)"),
		openaiKey:   flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel: flag.String("openai-model", config.OpenAIModel, "completion model (overrides $OPENAI_MODEL)"),
		schemaPath:  flag.String("screener-schema", config.SchemaPath, "YAML screener schema (overrides $SCREENER_SCHEMA)"),
		genaiDebug:  flag.Bool("genai-debug", config.GenAIDebug, "dump completion requests under <state-dir>/debug (overrides $GENAI_DEBUG)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"apiAddr", *flags.apiAddr,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"openaiModel", *flags.openaiModel,
		"schemaPath", *flags.schemaPath,
		"genaiDebug", *flags.genaiDebug)

	return flags
}

func run(config Config, flags Flags) error {
	lock, err := lockfile.Acquire(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.New(buildStoreOptions(flags)...)
	if err != nil {
		return err
	}
	defer st.Close()

	schema, err := loadSchema(*flags.schemaPath)
	if err != nil {
		return err
	}

	recorder := metrics.NewPrometheusRecorder()
	proxy := assistant.NewProxy(buildCompleter(config, flags), assistant.WithRecorder(recorder))

	blobs, err := buildBlobStore(config)
	if err != nil {
		return err
	}

	manager, err := flow.NewManager(st, flow.Deps{
		Schema:   schema,
		Asker:    proxy,
		Intake:   documents.NewIntake(blobs, nil),
		Recorder: recorder,
	}, flow.WithCacheSize(config.SessionCacheSize))
	if err != nil {
		return err
	}

	server, err := api.NewServer(manager, buildAPIOptions(config, flags, recorder)...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if config.SessionRetention > 0 {
		go flow.NewJanitor(manager, config.SessionRetention, config.JanitorInterval).Run(ctx)
	} else {
		slog.Info("Session janitor disabled", "retention", config.SessionRetention)
	}

	slog.Info("Bootstrapping CoverageNavigator", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr, "model", *flags.openaiModel)
	return server.Run(ctx)
}

func loadSchema(path string) (*screener.Schema, error) {
	if path == "" {
		return screener.DefaultSchema(), nil
	}
	slog.Info("Loading screener schema from file", "path", path)
	return screener.LoadSchemaFile(path)
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildCompleter returns nil when no API key is configured, so every chat
// reports a configuration error instead of failing at startup.
func buildCompleter(config Config, flags Flags) assistant.Completer {
	client, err := genai.NewClient(buildGenAIOptions(config, flags)...)
	if errors.Is(err, genai.ErrMissingAPIKey) {
		slog.Warn("OpenAI API key not configured; the assistant will be unavailable")
		return nil
	}
	if err != nil {
		slog.Error("Failed to create GenAI client", "error", err)
		return nil
	}
	return client
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(config Config, flags Flags) []genai.Option {
	genaiOpts := []genai.Option{
		genai.WithModel(*flags.openaiModel),
		genai.WithDebugMode(*flags.genaiDebug),
		genai.WithStateDir(*flags.stateDir),
	}
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if config.OpenAIBaseURL != "" {
		genaiOpts = append(genaiOpts, genai.WithBaseURL(config.OpenAIBaseURL))
	}
	return genaiOpts
}

// buildBlobStore selects MinIO when an endpoint is configured; nil selects
// the in-memory store.
func buildBlobStore(config Config) (documents.BlobStore, error) {
	if config.S3.Endpoint == "" {
		slog.Debug("No S3 endpoint configured, uploads stay in memory")
		return nil, nil
	}
	return documents.NewS3BlobStore(config.S3)
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(config Config, flags Flags, recorder *metrics.PrometheusRecorder) []api.Option {
	return []api.Option{
		api.WithAddr(*flags.apiAddr),
		api.WithCORSOrigin(config.CORSOrigin),
		api.WithMaxUploadBytes(int64(config.MaxUploadBytes)),
		api.WithMetricsHandler(recorder.Handler()),
	}
}
