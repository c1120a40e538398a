package config

import (
	"errors"
	"io/fs"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/joho/godotenv"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/gate"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/logging"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/orchestrator"
	"github.com/Ramsey-B/fern/pkg/places"
	"github.com/Ramsey-B/fern/pkg/pollution"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/scheduler"
	"github.com/Ramsey-B/fern/pkg/similarity"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/tracing/exporters"
)

type Config struct {
	AppName                       string        `env:"APP_NAME" env-default:"fern-api"`
	Port                          int           `env:"PORT" env-default:"3004"`
	LogLevel                      string        `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool          `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int           `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"30"`
	HttpServerReadTimeoutSeconds  int           `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int           `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int           `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int           `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string      `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string      `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE"`
	StartupMaxAttempts            int           `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`
	ShutdownTimeout               time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"15s"`

	// PostgreSQL
	DatabaseDriver                string        `env:"DB_DRIVER" env-default:"postgres"`
	DatabaseHost                  string        `env:"DB_HOST" env-default:""`
	DatabasePort                  string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName              string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword              string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                  string        `env:"DB_NAME" env-default:"fern"`
	DatabaseSSLMode               string        `env:"DB_SQL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns          int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns          int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime       time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	DatabaseMigrationFolderPath   string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationVersion      int           `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce        int           `env:"DB_MIGRATION_FORCE" env-default:"0"`
	DatabaseMigrationAutoRollback bool          `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Redis (orchestrator lock)
	RedisEnabled  bool          `env:"REDIS_ENABLED" env-default:"false"`
	RedisHost     string        `env:"REDIS_HOST" env-default:"localhost"`
	RedisPort     int           `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword string        `env:"REDIS_PASSWORD" env-default:""`
	RedisDB       int           `env:"REDIS_DB" env-default:"0"`
	RedisLockTTL  time.Duration `env:"REDIS_LOCK_TTL" env-default:"30m"`

	// Kafka producer
	KafkaEnabled      bool     `env:"KAFKA_ENABLED" env-default:"false"`
	KafkaBrokers      []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaOutputTopic  string   `env:"KAFKA_OUTPUT_TOPIC" env-default:"identity-events"`
	KafkaBatchSize    int      `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout int      `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks int      `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression  string   `env:"KAFKA_COMPRESSION" env-default:"snappy"`

	// Graph database (Memgraph / Neo4j)
	GraphEnabled    bool   `env:"GRAPH_ENABLED" env-default:"false"`
	GraphDBHost     string `env:"GRAPH_DB_HOST" env-default:"localhost"`
	GraphDBPort     int    `env:"GRAPH_DB_PORT" env-default:"7687"`
	GraphDBUser     string `env:"GRAPH_DB_USER" env-default:""`
	GraphDBPassword string `env:"GRAPH_DB_PASSWORD" env-default:""`

	// Tracing
	TracingEnabled  bool   `env:"TRACING_ENABLED" env-default:"false"`
	TracingExporter string `env:"TRACING_EXPORTER" env-default:"console"`
	OTLPEndpoint    string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	OTLPProtocol    string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	OTLPInsecure    bool   `env:"OTLP_INSECURE" env-default:"true"`

	// Identity resolution
	AutoMatchThreshold     float64  `env:"AUTO_MATCH_THRESHOLD" env-default:"0.90"`
	ReviewThreshold        float64  `env:"REVIEW_THRESHOLD" env-default:"0.50"`
	EmailComponentMin      float64  `env:"EMAIL_COMPONENT_THRESHOLD" env-default:"0.35"`
	PhoneComponentMin      float64  `env:"PHONE_COMPONENT_THRESHOLD" env-default:"0.20"`
	MinNameSimilarity      float64  `env:"MIN_NAME_SIMILARITY" env-default:"0.3"`
	NameSimilarityAlgo     string   `env:"NAME_SIMILARITY_ALGORITHM" env-default:"trigram"`
	CandidateLimit         int      `env:"CANDIDATE_LIMIT" env-default:"50"`
	MaxReviewCandidates    int      `env:"MAX_REVIEW_CANDIDATES" env-default:"5"`
	SkeletonTrustedSources []string `env:"SKELETON_TRUSTED_SOURCES" env-default:""`
	BulkApproveLimit       int      `env:"BULK_APPROVE_LIMIT" env-default:"1000"`
	BlacklistSoftMode      bool     `env:"BLACKLIST_SOFT_MODE" env-default:"false"`
	VocabularyFile         string   `env:"VOCABULARY_FILE" env-default:""`

	// Places
	PlaceProximityMeters float64 `env:"PLACE_PROXIMITY_METERS" env-default:"10"`

	// Entity linking
	LinkingMinCoveragePct float64       `env:"LINKING_MIN_COVERAGE_PCT" env-default:"50"`
	LinkingExcludedRoles  []string      `env:"LINKING_EXCLUDED_ROLES" env-default:"staff,trapper"`
	SchedulerEnabled      bool          `env:"SCHEDULER_ENABLED" env-default:"false"`
	SchedulerInterval     time.Duration `env:"SCHEDULER_INTERVAL" env-default:"1h"`
	SchedulerRunOnStart   bool          `env:"SCHEDULER_RUN_ON_START" env-default:"false"`

	// Pollution scan
	PollutionMaxCatLinks int `env:"POLLUTION_MAX_CAT_LINKS" env-default:"200"`
	PollutionPageSize    int `env:"POLLUTION_PAGE_SIZE" env-default:"500"`
	PollutionWorkers     int `env:"POLLUTION_WORKERS" env-default:"4"`
}

// Load reads the optional .env files, then binds the environment.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := ectoenv.BindEnv(cfg); err != nil {
		return nil, err
	}
	if _, err := similarity.ByName(cfg.NameSimilarityAlgo); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{Level: c.LogLevel, Development: c.PrettyLogs}
}

func (c *Config) DatabaseConfig() database.ConnectionConfig {
	return database.ConnectionConfig{
		Driver:          c.DatabaseDriver,
		Host:            c.DatabaseHost,
		Port:            c.DatabasePort,
		User:            c.DatabaseUserName,
		Password:        c.DatabasePassword,
		Name:            c.DatabaseName,
		SSLMode:         c.DatabaseSSLMode,
		MaxOpenConns:    c.DatabaseMaxOpenConns,
		MaxIdleConns:    c.DatabaseMaxIdleConns,
		ConnMaxLifetime: c.DatabaseConnMaxLifetime,
	}
}

func (c *Config) MigrationConfig() *database.MigrationConfig {
	version := c.DatabaseMigrationVersion
	if version < 0 {
		version = 0
	}
	return &database.MigrationConfig{
		MigrationFolderPath: c.DatabaseMigrationFolderPath,
		Version:             uint(version),
		Force:               c.DatabaseMigrationForce,
		AutoRollback:        c.DatabaseMigrationAutoRollback,
	}
}

func (c *Config) TracingConfig() tracing.ProviderConfig {
	return tracing.ProviderConfig{
		ServiceName: c.AppName,
		Enabled:     c.TracingEnabled,
		Exporter:    c.TracingExporter,
		OTLP: exporters.OTLPConfig{
			Endpoint: c.OTLPEndpoint,
			Protocol: c.OTLPProtocol,
			Insecure: c.OTLPInsecure,
		},
	}
}

func (c *Config) ResolverConfig() matching.Config {
	cfg := matching.DefaultConfig()
	cfg.Thresholds = matching.Thresholds{
		AutoMatch:      c.AutoMatchThreshold,
		Review:         c.ReviewThreshold,
		EmailComponent: c.EmailComponentMin,
		PhoneComponent: c.PhoneComponentMin,
	}
	cfg.Table = matching.DefaultDecisionTable()
	cfg.SkeletonTrustedSources = nonEmpty(c.SkeletonTrustedSources)
	if c.BulkApproveLimit > 0 {
		cfg.BulkApproveLimit = c.BulkApproveLimit
	}
	return cfg
}

func (c *Config) ScorerConfig() matching.ScorerConfig {
	cfg := matching.DefaultScorerConfig()
	if c.MinNameSimilarity > 0 {
		cfg.MinNameSimilarity = c.MinNameSimilarity
	}
	if c.CandidateLimit > 0 {
		cfg.CandidateLimit = c.CandidateLimit
	}
	if c.MaxReviewCandidates > 0 {
		cfg.MaxCandidates = c.MaxReviewCandidates
	}
	if fn, err := similarity.ByName(c.NameSimilarityAlgo); err == nil {
		cfg.NameSimilarity = fn
	}
	return cfg
}

func (c *Config) GateConfig() gate.BlacklistConfig {
	cfg := gate.DefaultBlacklistConfig()
	cfg.SoftMode = c.BlacklistSoftMode
	return cfg
}

func (c *Config) PlacesConfig() places.Config {
	cfg := places.DefaultConfig()
	if c.PlaceProximityMeters > 0 {
		cfg.ProximityMeters = c.PlaceProximityMeters
	}
	return cfg
}

func (c *Config) LinkingConfig() orchestrator.Config {
	cfg := orchestrator.DefaultConfig()
	cfg.MinCoveragePct = c.LinkingMinCoveragePct
	roles := make([]models.Role, 0, len(c.LinkingExcludedRoles))
	for _, r := range nonEmpty(c.LinkingExcludedRoles) {
		roles = append(roles, models.Role(r))
	}
	cfg.ExcludedRoles = roles
	return cfg
}

func (c *Config) PollutionConfig() pollution.Config {
	return pollution.Config{
		MaxCatLinks: c.PollutionMaxCatLinks,
		PageSize:    c.PollutionPageSize,
		Workers:     c.PollutionWorkers,
	}
}

func (c *Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		Interval:   c.SchedulerInterval,
		LockTTL:    c.RedisLockTTL,
		RunOnStart: c.SchedulerRunOnStart,
	}
}

func (c *Config) RedisConfig() redis.Config {
	return redis.Config{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

func (c *Config) KafkaConfig() kafka.ProducerConfig {
	return kafka.ProducerConfig{
		Brokers:      nonEmpty(c.KafkaBrokers),
		Topic:        c.KafkaOutputTopic,
		BatchSize:    c.KafkaBatchSize,
		BatchTimeout: time.Duration(c.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: c.KafkaRequiredAcks,
		Compression:  c.KafkaCompression,
	}
}

func (c *Config) GraphConfig() graph.Config {
	return graph.Config{
		Host:     c.GraphDBHost,
		Port:     c.GraphDBPort,
		Username: c.GraphDBUser,
		Password: c.GraphDBPassword,
	}
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
