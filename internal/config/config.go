package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the tap
type Config struct {
	Gemini GeminiConfig
	Sync   SyncConfig
	State  StateConfig
	Server ServerConfig
}

// GeminiConfig holds Gemini API credentials and options
type GeminiConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	APIVersion   int
	Sandbox      bool
	UserAgent    string
	Timeout      time.Duration
}

// SyncConfig holds report synchronization options
type SyncConfig struct {
	StartDate     string // YYYY-MM-DD, earliest data to request
	AdvertiserIDs []int64
	PollInterval  float64 // base seconds for poll back-off
	SchemaDir     string  // directory of JSON schemas for discovery
	Parallelism   int     // max concurrent streams, 1 = sequential
}

// StateConfig holds bookmark persistence configuration
type StateConfig struct {
	Type        string // "file", "dynamodb", "mongodb", "postgresql"
	Path        string // for file state
	Region      string // for AWS DynamoDB
	TableName   string
	Endpoint    string // custom endpoint for local testing
	MongoDBURI  string
	PostgresURI string
}

// ServerConfig holds the status/metrics HTTP server configuration
type ServerConfig struct {
	Port int
}

// fileConfig models the JSON config file passed on the command line.
type fileConfig struct {
	Username      string  `json:"username"`
	Password      string  `json:"password"`
	RefreshToken  string  `json:"refresh_token"`
	StartDate     string  `json:"start_date"`
	AdvertiserIDs []int64 `json:"advertiser_ids"`
	APIVersion    int     `json:"api_version"`
	Sandbox       bool    `json:"sandbox"`
	UserAgent     string  `json:"user_agent"`
	PollInterval  float64 `json:"poll_interval"`
}

// Load reads the JSON config file, applies environment variable overrides
// and validates required keys
func Load(path string) (*Config, error) {
	// Optional .env for local development
	_ = godotenv.Load()

	cfg := &Config{
		Gemini: GeminiConfig{
			Timeout: getEnvDuration("API_TIMEOUT", 60*time.Second),
		},
		Sync: SyncConfig{
			PollInterval: 1.0,
			SchemaDir:    getEnv("SCHEMA_DIR", "schemas"),
			Parallelism:  getEnvInt("STREAM_PARALLELISM", 1),
		},
		State: StateConfig{
			Type:        getEnv("STATE_TYPE", "file"),
			Path:        getEnv("STATE_PATH", "state.json"),
			Region:      getEnv("AWS_REGION", "us-west-2"),
			TableName:   getEnv("STATE_TABLE_NAME", "tap_gemini_state"),
			Endpoint:    getEnv("DYNAMODB_ENDPOINT", ""),
			MongoDBURI:  getEnv("MONGODB_URI", ""),
			PostgresURI: getEnv("POSTGRES_URI", ""),
		},
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 0), // 0 disables the status server
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		var fc fileConfig
		if err := json.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}

		cfg.Gemini.ClientID = fc.Username
		cfg.Gemini.ClientSecret = fc.Password
		cfg.Gemini.RefreshToken = fc.RefreshToken
		cfg.Gemini.APIVersion = fc.APIVersion
		cfg.Gemini.Sandbox = fc.Sandbox
		cfg.Gemini.UserAgent = fc.UserAgent
		cfg.Sync.StartDate = fc.StartDate
		cfg.Sync.AdvertiserIDs = fc.AdvertiserIDs
		if fc.PollInterval > 0 {
			cfg.Sync.PollInterval = fc.PollInterval
		}
	}

	// Environment variables win over the config file
	cfg.Gemini.ClientID = getEnv("GEMINI_CLIENT_ID", cfg.Gemini.ClientID)
	cfg.Gemini.ClientSecret = getEnv("GEMINI_CLIENT_SECRET", cfg.Gemini.ClientSecret)
	cfg.Gemini.RefreshToken = getEnv("GEMINI_REFRESH_TOKEN", cfg.Gemini.RefreshToken)
	cfg.Sync.StartDate = getEnv("START_DATE", cfg.Sync.StartDate)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Gemini.ClientID == "" {
		return fmt.Errorf("missing required config key: username")
	}
	if c.Gemini.ClientSecret == "" {
		return fmt.Errorf("missing required config key: password")
	}
	if c.Gemini.RefreshToken == "" {
		return fmt.Errorf("missing required config key: refresh_token")
	}
	if c.Sync.StartDate == "" {
		return fmt.Errorf("missing required config key: start_date")
	}
	if _, err := time.Parse("2006-01-02", c.Sync.StartDate); err != nil {
		return fmt.Errorf("invalid start_date %q: %w", c.Sync.StartDate, err)
	}
	if c.Sync.Parallelism < 1 {
		c.Sync.Parallelism = 1
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
