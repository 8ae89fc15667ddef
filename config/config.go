package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"leadflow/models"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var (
	DB        *gorm.DB
	AppConfig Config
	envLoaded bool
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

// AutomationConfig holds the sequence engine tunables. The retry ceiling,
// retry delay and duplicate window were hard-coded in earlier revisions;
// they are environment-driven now so operators can adjust them without a
// deploy.
type AutomationConfig struct {
	BatchSize         int           `json:"batch_size"`
	MaxRetryAttempts  int           `json:"max_retry_attempts"`
	RetryDelay        time.Duration `json:"retry_delay"`
	DuplicateWindow   time.Duration `json:"duplicate_window"`
	SendDelay         time.Duration `json:"send_delay"`
	SendingStaleAfter time.Duration `json:"sending_stale_after"`
	LeaseTTL          time.Duration `json:"lease_ttl"`
	DefaultStageDelay time.Duration `json:"default_stage_delay"`
}

type OpenAIConfig struct {
	APIKey    string        `json:"-"`
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	Timeout   time.Duration `json:"timeout"`
}

type Config struct {
	Environment    string           `json:"environment"`
	ServerPort     string           `json:"server_port"`
	EncryptionKey  string           `json:"-"`
	CronSecret     string           `json:"-"`
	DBHost         string           `json:"db_host"`
	DBPort         string           `json:"db_port"`
	DBUser         string           `json:"db_user"`
	DBPassword     string           `json:"-"`
	DBName         string           `json:"db_name"`
	DBSSLMode      string           `json:"db_ssl_mode"`
	DBMaxIdleConns int              `json:"db_max_idle_conns"`
	DBMaxOpenConns int              `json:"db_max_open_conns"`
	SentryDSN      string           `json:"-"`
	Redis          RedisConfig      `json:"redis"`
	OpenAI         OpenAIConfig     `json:"openai"`
	Automation     AutomationConfig `json:"automation"`

	// Process-wide SMTP fallback, used only where a per-owner sender is
	// explicitly allowed to be absent (never for reply sending).
	SMTPHost      string `json:"smtp_host"`
	SMTPPort      int    `json:"smtp_port"`
	SMTPUsername  string `json:"smtp_username"`
	SMTPPassword  string `json:"-"`
	FromEmail     string `json:"from_email"`
	FromName      string `json:"from_name"`
	AllowFallback bool   `json:"allow_fallback_transport"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
	envLoaded = true
}

func LoadConfig() error {
	AppConfig = Config{
		Environment:    getEnv("ENVIRONMENT", "development"),
		ServerPort:     getEnv("SERVER_PORT", "5000"),
		EncryptionKey:  getEnv("ENCRYPTION_KEY", ""),
		CronSecret:     getEnv("CRON_SECRET", ""),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "leadflow"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
		SentryDSN:      getEnv("SENTRY_DSN", ""),
		Redis: RedisConfig{
			Enabled:  getEnv("REDIS_ADDRESS", "") != "",
			Address:  getEnv("REDIS_ADDRESS", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		OpenAI: OpenAIConfig{
			APIKey:    getEnv("OPENAI_API_KEY", ""),
			Model:     getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			MaxTokens: getEnvAsInt("OPENAI_MAX_TOKENS", 700),
			Timeout:   getEnvAsDuration("OPENAI_TIMEOUT", 15*time.Second),
		},
		Automation: AutomationConfig{
			BatchSize:         getEnvAsInt("AUTOMATION_BATCH_SIZE", 50),
			MaxRetryAttempts:  getEnvAsInt("AUTOMATION_MAX_RETRIES", 10),
			RetryDelay:        getEnvAsDuration("AUTOMATION_RETRY_DELAY", 5*time.Minute),
			DuplicateWindow:   getEnvAsDuration("AUTOMATION_DUPLICATE_WINDOW", 2*time.Hour),
			SendDelay:         getEnvAsDuration("AUTOMATION_SEND_DELAY", time.Second),
			SendingStaleAfter: getEnvAsDuration("AUTOMATION_SENDING_STALE_AFTER", 10*time.Minute),
			LeaseTTL:          getEnvAsDuration("AUTOMATION_LEASE_TTL", 2*time.Minute),
			DefaultStageDelay: getEnvAsDuration("AUTOMATION_DEFAULT_STAGE_DELAY", 7*24*time.Hour),
		},
		SMTPHost:      getEnv("SMTP_HOST", ""),
		SMTPPort:      getEnvAsInt("SMTP_PORT", 587),
		SMTPUsername:  getEnv("SMTP_USERNAME", ""),
		SMTPPassword:  getEnv("SMTP_PASSWORD", ""),
		FromEmail:     getEnv("SMTP_FROM_EMAIL", ""),
		FromName:      getEnv("SMTP_FROM_NAME", "Leadflow"),
		AllowFallback: getEnv("SMTP_ALLOW_FALLBACK", "false") == "true",
	}

	// Validate required configurations
	if AppConfig.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if AppConfig.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if AppConfig.Environment == "production" && AppConfig.CronSecret == "" {
		return fmt.Errorf("CRON_SECRET is required in production")
	}

	logConfig()
	return nil
}

func ConnectDB() error {
	log.Println("Attempting to connect to database...")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBSSLMode,
	)
	log.Println("Using connection string:", maskPassword(dsn))

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	log.Println("✅ Successfully connected to the database")
	log.Println("🔄 Starting database migration...")
	if err := MigrateDB(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Println("✅ Database migration completed")
	return nil
}

// MigrateDB runs schema migration for every persisted model. Exported so the
// test suite can migrate an in-memory store the same way production does.
func MigrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.CompanyProfile{},
		&models.Sender{},
		&models.Lead{},
		&models.SequenceAttempt{},
		&models.SendError{},
		&models.SequenceTemplate{},
		&models.TimingEntry{},
		&models.AutomationRun{},
		&models.InboundEmail{},
		&models.Conversation{},
		&models.DraftResponse{},
	)
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	if !envLoaded && fallback == "" {
		log.Printf("⚠️ Environment variable %s not found and no fallback provided", key)
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var value int
	_, err := fmt.Sscanf(valueStr, "%d", &value)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return fallback
	}
	return value
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig() {
	log.Println("🔧 Loaded configuration:")
	log.Printf("Environment: %s", AppConfig.Environment)
	log.Printf("Server Port: %s", AppConfig.ServerPort)
	log.Printf("Database: %s@%s:%s/%s",
		AppConfig.DBUser,
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBName)
	log.Printf("Redis: enabled=%t", AppConfig.Redis.Enabled)
	log.Printf("Automation: batch=%d retries=%d retry_delay=%s duplicate_window=%s",
		AppConfig.Automation.BatchSize,
		AppConfig.Automation.MaxRetryAttempts,
		AppConfig.Automation.RetryDelay,
		AppConfig.Automation.DuplicateWindow)
}
