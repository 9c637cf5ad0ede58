package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	HTTPPort string // static UI, health, REST API, metrics
	WSPort   string // panel WebSocket

	SessionsDir  string
	StaticDir    string
	CLICommand   string // substituted for {{cli}} in command templates
	CommandsFile string // optional YAML catalog, hot-reloaded

	MaxOutputBytes int64
	CommandTimeout time.Duration // 0 disables the timeout
	SpawnViaCLI    bool

	AutosaveSchedule string  // cron expression, empty disables autosave
	WSMessageRate    float64 // inbound messages per second per connection, 0 = unlimited

	RedisURL       string
	AllowedOrigins string
	Environment    string
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		HTTPPort: getEnv("HTTP_PORT", getEnv("PORT", "8080")),
		WSPort:   getEnv("WS_PORT", "8081"),

		SessionsDir:  getEnv("SESSIONS_DIR", "./sessions"),
		StaticDir:    getEnv("STATIC_DIR", "./public"),
		CLICommand:   getEnv("CLI_COMMAND", "npx claude-flow@alpha"),
		CommandsFile: getEnv("COMMANDS_FILE", "commands.yaml"),

		MaxOutputBytes: getInt64Env("MAX_OUTPUT_BYTES", 10*1024*1024),
		CommandTimeout: getDurationEnv("COMMAND_TIMEOUT", 0),
		SpawnViaCLI:    getBoolEnv("SPAWN_VIA_CLI", true),

		AutosaveSchedule: getEnvAllowEmpty("AUTOSAVE_SCHEDULE", "*/5 * * * *"),
		WSMessageRate:    getFloatEnv("WS_MESSAGE_RATE", 0),

		RedisURL:       getEnv("REDIS_URL", ""),
		AllowedOrigins: getEnv("ALLOWED_ORIGINS", "*"),
		Environment:    strings.ToLower(getEnv("ENVIRONMENT", "development")),
	}
}

// IsProduction reports whether ENVIRONMENT=production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAllowEmpty distinguishes "unset" (default) from "set to empty" (disabled)
func getEnvAllowEmpty(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getDurationEnv accepts Go durations ("90s") or plain seconds ("90")
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
