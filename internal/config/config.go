package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const (
	StoreDriverSQLite   = "sqlite"
	StoreDriverPostgres = "postgres"

	AIProviderOpenAI    = "openai"
	AIProviderAnthropic = "anthropic"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Store         StoreConfig
	Ingest        IngestConfig
	Query         QueryConfig
	Chat          ChatConfig
	AI            AIConfig
	Archive       ArchiveConfig
	ObjectStore   ObjectStoreConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address        string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxUploadBytes int64
}

type StoreConfig struct {
	Driver          string
	Path            string
	DSN             string
	AutoMigrate     bool
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type IngestConfig struct {
	MaxRows     int
	MaxColumns  int
	InsertBatch int
}

type QueryConfig struct {
	RowCap      int
	Timeout     time.Duration
	PreviewRows int
}

type ChatConfig struct {
	MaxIterations int
	ModelTimeout  time.Duration
	ToolTimeout   time.Duration
	SessionTTL    time.Duration
}

type AIConfig struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	AppName     string
	Temperature float64
	MaxTokens   int
}

type ArchiveConfig struct {
	Enabled   bool
	Snapshots bool
}

type ObjectStoreConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("SHEETQL_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid SHEETQL_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	if err := applyString(lookup, "SHEETQL_SERVICE_NAME", &cfg.Service.Name); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SHEETQL_HTTP_ADDR", &cfg.HTTP.Address); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SHEETQL_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SHEETQL_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SHEETQL_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout); err != nil {
		return Config{}, err
	}
	if err := applyInt64(lookup, "SHEETQL_HTTP_MAX_UPLOAD_BYTES", &cfg.HTTP.MaxUploadBytes); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SHEETQL_STORE_DRIVER", &cfg.Store.Driver); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SHEETQL_STORE_PATH", &cfg.Store.Path); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SHEETQL_STORE_DSN", &cfg.Store.DSN); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "SHEETQL_STORE_AUTO_MIGRATE", &cfg.Store.AutoMigrate); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "SHEETQL_STORE_MAX_OPEN_CONNS", &cfg.Store.MaxOpenConns); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "SHEETQL_STORE_MAX_IDLE_CONNS", &cfg.Store.MaxIdleConns); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SHEETQL_STORE_CONN_MAX_IDLE_TIME", &cfg.Store.ConnMaxIdleTime); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SHEETQL_STORE_CONN_MAX_LIFETIME", &cfg.Store.ConnMaxLifetime); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "SHEETQL_INGEST_MAX_ROWS", &cfg.Ingest.MaxRows); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "SHEETQL_INGEST_MAX_COLUMNS", &cfg.Ingest.MaxColumns); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "SHEETQL_INGEST_INSERT_BATCH", &cfg.Ingest.InsertBatch); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "SHEETQL_QUERY_ROW_CAP", &cfg.Query.RowCap); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SHEETQL_QUERY_TIMEOUT", &cfg.Query.Timeout); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "SHEETQL_QUERY_PREVIEW_ROWS", &cfg.Query.PreviewRows); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "SHEETQL_CHAT_MAX_ITERATIONS", &cfg.Chat.MaxIterations); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SHEETQL_CHAT_MODEL_TIMEOUT", &cfg.Chat.ModelTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SHEETQL_CHAT_TOOL_TIMEOUT", &cfg.Chat.ToolTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SHEETQL_CHAT_SESSION_TTL", &cfg.Chat.SessionTTL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SHEETQL_AI_PROVIDER", &cfg.AI.Provider); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SHEETQL_AI_BASE_URL", &cfg.AI.BaseURL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SHEETQL_AI_API_KEY", &cfg.AI.APIKey); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SHEETQL_AI_MODEL", &cfg.AI.Model); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SHEETQL_AI_APP_NAME", &cfg.AI.AppName); err != nil {
		return Config{}, err
	}
	if err := applyFloat(lookup, "SHEETQL_AI_TEMPERATURE", &cfg.AI.Temperature); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "SHEETQL_AI_MAX_TOKENS", &cfg.AI.MaxTokens); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "SHEETQL_ARCHIVE_ENABLED", &cfg.Archive.Enabled); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "SHEETQL_ARCHIVE_SNAPSHOTS", &cfg.Archive.Snapshots); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SHEETQL_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SHEETQL_OBJECTSTORE_REGION", &cfg.ObjectStore.Region); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SHEETQL_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SHEETQL_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SHEETQL_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "SHEETQL_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SHEETQL_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "SHEETQL_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "SHEETQL_LOG_JSON", &cfg.Observability.LogJSON); err != nil {
		return Config{}, err
	}
	if err := applyLogLevel(lookup, "SHEETQL_LOG_LEVEL", &cfg.Observability.LogLevel); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "SHEETQL_AUTH_REQUIRED", &cfg.Auth.Required); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SHEETQL_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys); err != nil {
		return Config{}, err
	}

	cfg.Store.Driver = strings.ToLower(cfg.Store.Driver)
	cfg.AI.Provider = strings.ToLower(cfg.AI.Provider)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return fmt.Errorf("http address is required")
	}
	if cfg.HTTP.MaxUploadBytes <= 0 {
		return fmt.Errorf("http max upload bytes must be > 0")
	}
	switch cfg.Store.Driver {
	case StoreDriverSQLite:
		if cfg.Store.Path == "" {
			return fmt.Errorf("store path is required for driver %q", cfg.Store.Driver)
		}
	case StoreDriverPostgres:
		if cfg.Store.DSN == "" {
			return fmt.Errorf("store dsn is required for driver %q", cfg.Store.Driver)
		}
	default:
		return fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
	switch cfg.AI.Provider {
	case AIProviderOpenAI, AIProviderAnthropic:
	default:
		return fmt.Errorf("unsupported ai provider %q", cfg.AI.Provider)
	}
	if cfg.Ingest.MaxRows <= 0 || cfg.Ingest.MaxColumns <= 0 || cfg.Ingest.InsertBatch <= 0 {
		return fmt.Errorf("ingest limits must be > 0")
	}
	if cfg.Query.RowCap <= 0 || cfg.Query.Timeout <= 0 || cfg.Query.PreviewRows < 0 {
		return fmt.Errorf("query row cap and timeout must be > 0")
	}
	if cfg.Chat.MaxIterations <= 0 {
		return fmt.Errorf("chat max iterations must be > 0")
	}
	if cfg.Chat.ModelTimeout <= 0 || cfg.Chat.ToolTimeout <= 0 {
		return fmt.Errorf("chat timeouts must be > 0")
	}
	return nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "sheetql-api"},
		HTTP: HTTPConfig{
			Address:        ":8080",
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   3 * time.Minute,
			IdleTimeout:    60 * time.Second,
			MaxUploadBytes: 32 << 20,
		},
		Store: StoreConfig{
			Driver:          StoreDriverSQLite,
			Path:            "data/uploads.db",
			AutoMigrate:     true,
			MaxOpenConns:    8,
			MaxIdleConns:    8,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Ingest: IngestConfig{
			MaxRows:     100000,
			MaxColumns:  200,
			InsertBatch: 500,
		},
		Query: QueryConfig{
			RowCap:      200,
			Timeout:     10 * time.Second,
			PreviewRows: 3,
		},
		Chat: ChatConfig{
			MaxIterations: 7,
			ModelTimeout:  60 * time.Second,
			ToolTimeout:   15 * time.Second,
			SessionTTL:    30 * time.Minute,
		},
		AI: AIConfig{
			Provider:    AIProviderOpenAI,
			BaseURL:     "https://openrouter.ai/api/v1",
			Model:       "openai/gpt-4o-mini",
			AppName:     "sheetql",
			Temperature: 0.1,
			MaxTokens:   1024,
		},
		Archive: ArchiveConfig{
			Enabled:   false,
			Snapshots: true,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "sheetql",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Store.Path = "data/test-uploads.db"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Auth.Required = false
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
