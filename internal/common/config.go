package common

import (
	"errors"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	OCR      OCRConfig
	Scrape   ScrapeConfig
	Pipeline PipelineConfig
	Email    EmailConfig
	Cache    CacheConfig
	Watch    WatchConfig
	Log      LogConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string // postgres | sqlite | memory
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr string
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Tesseract           string
	TesseractLang       string
	TessdataDir         string
	HeicConverter       string
	ArtifactCacheDir    string
	PSM                 int
	EnableTSVConfidence bool
	MaxDimension        int
	Timeout             time.Duration
}

// ScrapeConfig holds URL extraction configuration
type ScrapeConfig struct {
	UserAgent      string
	RequestTimeout time.Duration
	BrowserTimeout time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	MinStaticChars int
	Browser        string
}

// PipelineConfig holds orchestrator and worker pool configuration
type PipelineConfig struct {
	Workers          int
	QueueSize        int
	JobTimeout       time.Duration
	DiscardThreshold float64
	UploadDir        string
}

// EmailConfig holds mailbox polling configuration
type EmailConfig struct {
	IMAPAddr           string
	Username           string
	Password           string
	UseTLS             bool
	Folder             string
	RecipientAlias     string
	DefaultUserID      string
	MaxAttachmentBytes int
	MaxAttachments     int
	PollInterval       time.Duration
	Timeout            time.Duration
	AttachmentDir      string
	ApprovedSenders    []string
}

// CacheConfig holds ingredient mapping cache configuration
type CacheConfig struct {
	Backend       string // memory | redis
	MaxEntries    int
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// WatchConfig holds drop-folder configuration
type WatchConfig struct {
	Dirs     []string
	Debounce time.Duration
	UserID   string
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level string
	File  string
}

var envBindings = map[string]string{
	"database.driver":            "DB_DRIVER",
	"database.dsn":               "DB_URL",
	"database.max_conns":         "DB_MAX_CONNS",
	"database.min_conns":         "DB_MIN_CONNS",
	"database.max_conn_lifetime": "DB_MAX_CONN_LIFETIME",
	"database.max_conn_idle":     "DB_MAX_CONN_IDLE_TIME",
	"database.dial_timeout":      "DB_DIAL_TIMEOUT",
	"database.statement_timeout": "DB_STATEMENT_TIMEOUT",
	"server.grpc_addr":           "GRPC_ADDR",
	"ocr.tesseract":              "TESSERACT_BIN",
	"ocr.lang":                   "TESSERACT_LANG",
	"ocr.tessdata_dir":           "TESSDATA_PREFIX",
	"ocr.heic_converter":         "HEIC_CONVERTER",
	"ocr.artifact_cache_dir":     "ARTIFACT_CACHE_DIR",
	"ocr.psm":                    "TESSERACT_PSM",
	"ocr.tsv_confidence":         "OCR_TSV_CONFIDENCE",
	"ocr.max_dimension":          "OCR_MAX_DIMENSION",
	"ocr.timeout":                "OCR_TIMEOUT",
	"scrape.user_agent":          "SCRAPE_USER_AGENT",
	"scrape.request_timeout":     "SCRAPE_REQUEST_TIMEOUT",
	"scrape.browser_timeout":     "SCRAPE_BROWSER_TIMEOUT",
	"scrape.max_retries":         "SCRAPE_MAX_RETRIES",
	"scrape.retry_delay":         "SCRAPE_RETRY_DELAY",
	"scrape.min_static_chars":    "SCRAPE_MIN_STATIC_CHARS",
	"scrape.browser":             "SCRAPE_BROWSER",
	"pipeline.workers":           "PIPELINE_WORKERS",
	"pipeline.queue_size":        "PIPELINE_QUEUE_SIZE",
	"pipeline.job_timeout":       "PIPELINE_JOB_TIMEOUT",
	"pipeline.discard_threshold": "PIPELINE_DISCARD_THRESHOLD",
	"pipeline.upload_dir":        "UPLOAD_DIR",
	"email.imap_addr":            "EMAIL_IMAP_ADDR",
	"email.username":             "EMAIL_USERNAME",
	"email.password":             "EMAIL_PASSWORD",
	"email.use_tls":              "EMAIL_USE_TLS",
	"email.folder":               "EMAIL_FOLDER",
	"email.recipient_alias":      "EMAIL_RECIPIENT_ALIAS",
	"email.default_user_id":      "EMAIL_DEFAULT_USER_ID",
	"email.max_attachment_bytes": "EMAIL_MAX_ATTACHMENT_BYTES",
	"email.max_attachments":      "EMAIL_MAX_ATTACHMENTS",
	"email.poll_interval":        "EMAIL_POLL_INTERVAL",
	"email.timeout":              "EMAIL_TIMEOUT",
	"email.attachment_dir":       "EMAIL_ATTACHMENT_DIR",
	"email.approved_senders":     "EMAIL_APPROVED_SENDERS",
	"cache.backend":              "CACHE_BACKEND",
	"cache.max_entries":          "CACHE_MAX_ENTRIES",
	"cache.redis_addr":           "REDIS_ADDR",
	"cache.redis_password":       "REDIS_PASSWORD",
	"cache.redis_db":             "REDIS_DB",
	"cache.ttl":                  "CACHE_TTL",
	"watch.dirs":                 "WATCH_DIRS",
	"watch.debounce":             "WATCH_DEBOUNCE",
	"watch.user_id":              "WATCH_USER_ID",
	"log.level":                  "LOG_LEVEL",
	"log.file":                   "LOG_FILE",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("database.max_conn_idle", 5*time.Minute)
	v.SetDefault("database.dial_timeout", 3*time.Second)
	v.SetDefault("database.statement_timeout", time.Duration(0))

	v.SetDefault("server.grpc_addr", ":8080")

	v.SetDefault("ocr.tesseract", "tesseract")
	v.SetDefault("ocr.lang", "eng")
	v.SetDefault("ocr.heic_converter", "magick")
	v.SetDefault("ocr.artifact_cache_dir", "./tmp")
	v.SetDefault("ocr.psm", 6)
	v.SetDefault("ocr.tsv_confidence", false)
	v.SetDefault("ocr.max_dimension", 3000)
	v.SetDefault("ocr.timeout", 60*time.Second)

	v.SetDefault("scrape.user_agent", "Mozilla/5.0 (compatible; recipe-ingest/1.0)")
	v.SetDefault("scrape.request_timeout", 10*time.Second)
	v.SetDefault("scrape.browser_timeout", 30*time.Second)
	v.SetDefault("scrape.max_retries", 3)
	v.SetDefault("scrape.retry_delay", time.Second)
	v.SetDefault("scrape.min_static_chars", 200)
	v.SetDefault("scrape.browser", "chromium")

	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.queue_size", 256)
	v.SetDefault("pipeline.job_timeout", 3*time.Minute)
	v.SetDefault("pipeline.discard_threshold", 0.35)
	v.SetDefault("pipeline.upload_dir", "./uploads")

	v.SetDefault("email.use_tls", true)
	v.SetDefault("email.folder", "INBOX")
	v.SetDefault("email.max_attachment_bytes", 25*1024*1024)
	v.SetDefault("email.max_attachments", 20)
	v.SetDefault("email.poll_interval", 5*time.Minute)
	v.SetDefault("email.timeout", 30*time.Second)
	v.SetDefault("email.attachment_dir", "./uploads/email")

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.max_entries", 10000)
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.ttl", time.Duration(0))

	v.SetDefault("watch.debounce", 500*time.Millisecond)

	v.SetDefault("log.level", "info")
}

// LoadConfig loads configuration from an optional .env file and environment variables
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Default().Warn("config.dotenv.invalid", "error", err)
	}
	return loadFrom(viper.New())
}

func loadFrom(v *viper.Viper) *Config {
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}

	return &Config{
		Database: DatabaseConfig{
			Driver:           strings.ToLower(v.GetString("database.driver")),
			DSN:              v.GetString("database.dsn"),
			MaxConns:         v.GetInt32("database.max_conns"),
			MinConns:         v.GetInt32("database.min_conns"),
			MaxConnLifetime:  v.GetDuration("database.max_conn_lifetime"),
			MaxConnIdleTime:  v.GetDuration("database.max_conn_idle"),
			DialTimeout:      v.GetDuration("database.dial_timeout"),
			StatementTimeout: v.GetDuration("database.statement_timeout"),
		},
		Server: ServerConfig{
			GRPCAddr: v.GetString("server.grpc_addr"),
		},
		OCR: OCRConfig{
			Tesseract:           v.GetString("ocr.tesseract"),
			TesseractLang:       v.GetString("ocr.lang"),
			TessdataDir:         v.GetString("ocr.tessdata_dir"),
			HeicConverter:       v.GetString("ocr.heic_converter"),
			ArtifactCacheDir:    v.GetString("ocr.artifact_cache_dir"),
			PSM:                 v.GetInt("ocr.psm"),
			EnableTSVConfidence: v.GetBool("ocr.tsv_confidence"),
			MaxDimension:        v.GetInt("ocr.max_dimension"),
			Timeout:             v.GetDuration("ocr.timeout"),
		},
		Scrape: ScrapeConfig{
			UserAgent:      v.GetString("scrape.user_agent"),
			RequestTimeout: v.GetDuration("scrape.request_timeout"),
			BrowserTimeout: v.GetDuration("scrape.browser_timeout"),
			MaxRetries:     v.GetInt("scrape.max_retries"),
			RetryDelay:     v.GetDuration("scrape.retry_delay"),
			MinStaticChars: v.GetInt("scrape.min_static_chars"),
			Browser:        v.GetString("scrape.browser"),
		},
		Pipeline: PipelineConfig{
			Workers:          v.GetInt("pipeline.workers"),
			QueueSize:        v.GetInt("pipeline.queue_size"),
			JobTimeout:       v.GetDuration("pipeline.job_timeout"),
			DiscardThreshold: v.GetFloat64("pipeline.discard_threshold"),
			UploadDir:        v.GetString("pipeline.upload_dir"),
		},
		Email: EmailConfig{
			IMAPAddr:           v.GetString("email.imap_addr"),
			Username:           v.GetString("email.username"),
			Password:           v.GetString("email.password"),
			UseTLS:             v.GetBool("email.use_tls"),
			Folder:             v.GetString("email.folder"),
			RecipientAlias:     v.GetString("email.recipient_alias"),
			DefaultUserID:      v.GetString("email.default_user_id"),
			MaxAttachmentBytes: v.GetInt("email.max_attachment_bytes"),
			MaxAttachments:     v.GetInt("email.max_attachments"),
			PollInterval:       v.GetDuration("email.poll_interval"),
			Timeout:            v.GetDuration("email.timeout"),
			AttachmentDir:      v.GetString("email.attachment_dir"),
			ApprovedSenders:    splitList(v.GetString("email.approved_senders")),
		},
		Cache: CacheConfig{
			Backend:       strings.ToLower(v.GetString("cache.backend")),
			MaxEntries:    v.GetInt("cache.max_entries"),
			RedisAddr:     v.GetString("cache.redis_addr"),
			RedisPassword: v.GetString("cache.redis_password"),
			RedisDB:       v.GetInt("cache.redis_db"),
			TTL:           v.GetDuration("cache.ttl"),
		},
		Watch: WatchConfig{
			Dirs:     splitList(v.GetString("watch.dirs")),
			Debounce: v.GetDuration("watch.debounce"),
			UserID:   v.GetString("watch.user_id"),
		},
		Log: LogConfig{
			Level: v.GetString("log.level"),
			File:  v.GetString("log.file"),
		},
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
		if c.Database.DSN == "" {
			return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
		}
	case "memory":
	default:
		return NewAppError("CONFIG_ERROR", "DB_DRIVER must be postgres, sqlite or memory", ErrInvalidInput)
	}
	if c.Server.GRPCAddr == "" {
		return NewAppError("CONFIG_ERROR", "GRPC_ADDR is required", ErrInvalidInput)
	}
	if c.Pipeline.Workers <= 0 {
		return NewAppError("CONFIG_ERROR", "PIPELINE_WORKERS must be positive", ErrInvalidInput)
	}
	if c.Pipeline.DiscardThreshold < 0 || c.Pipeline.DiscardThreshold > 1 {
		return NewAppError("CONFIG_ERROR", "PIPELINE_DISCARD_THRESHOLD must be within [0,1]", ErrInvalidInput)
	}
	if c.Email.IMAPAddr != "" && (c.Email.Username == "" || c.Email.Password == "") {
		return NewAppError("CONFIG_ERROR", "EMAIL_USERNAME and EMAIL_PASSWORD are required when EMAIL_IMAP_ADDR is set", ErrInvalidInput)
	}
	if c.Cache.Backend != "memory" && c.Cache.Backend != "redis" {
		return NewAppError("CONFIG_ERROR", "CACHE_BACKEND must be memory or redis", ErrInvalidInput)
	}
	return nil
}
