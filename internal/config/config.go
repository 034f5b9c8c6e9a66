package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Message sink kinds.
const (
	SinkNone    = "none"
	SinkFile    = "file"
	SinkSurreal = "surreal"
)

// Config holds all configuration for the application.
type Config struct {
	AppEnv     string `validate:"required"`
	ServerAddr string `validate:"required"`
	LogFormat  string `validate:"oneof=text json"`
	LogLevel   string `validate:"oneof=debug info warn error"`

	ReapInterval         time.Duration `validate:"gt=0"`
	HistoryCapacity      int           `validate:"gte=2"`
	SendBuffer           int           `validate:"gte=1"`
	PingInterval         time.Duration `validate:"gte=0"`
	SuppressRejoinNotice bool
	ReadRateLimit        float64 `validate:"gt=0"`

	JWTSecret      string
	AllowedOrigins []string `validate:"min=1"`

	MessageSink string `validate:"oneof=none file surreal"`
	SinkDir     string `validate:"required_if=MessageSink file"`

	DBUrl  string `validate:"required_if=MessageSink surreal"`
	DBNs   string `validate:"required_if=MessageSink surreal"`
	DBDb   string `validate:"required_if=MessageSink surreal"`
	DBUser string
	DBPass string
}

// IsDevelopment reports whether the app runs in the development environment.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// Load reads configuration from the environment, after loading a .env file
// if one exists, and validates it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	appEnv := getEnv("APP_ENV", "development")
	defaultLevel := "info"
	if appEnv == "development" {
		defaultLevel = "debug"
	}

	var errs []string
	cfg := &Config{
		AppEnv:               appEnv,
		ServerAddr:           getEnv("SERVER_ADDR", ":8080"),
		LogFormat:            getEnv("LOG_FORMAT", "text"),
		LogLevel:             strings.ToLower(getEnv("LOG_LEVEL", defaultLevel)),
		ReapInterval:         getDuration("REAP_INTERVAL", 30*time.Second, &errs),
		HistoryCapacity:      getInt("HISTORY_CAPACITY", 1000, &errs),
		SendBuffer:           getInt("SEND_BUFFER", 256, &errs),
		PingInterval:         getDuration("PING_INTERVAL", 25*time.Second, &errs),
		SuppressRejoinNotice: getBool("SUPPRESS_REJOIN_NOTICE", false, &errs),
		ReadRateLimit:        getFloat("READ_RATE_LIMIT", 10, &errs),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		AllowedOrigins:       splitList(getEnv("ALLOWED_ORIGINS", "*")),
		MessageSink:          strings.ToLower(getEnv("MESSAGE_SINK", SinkNone)),
		SinkDir:              getEnv("SINK_DIR", "data/messages"),
		DBUrl:                os.Getenv("SURREAL_URL"),
		DBUser:               os.Getenv("SURREAL_USER"),
		DBPass:               os.Getenv("SURREAL_PASS"),
		DBNs:                 os.Getenv("SURREAL_NS"),
		DBDb:                 os.Getenv("SURREAL_DB"),
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// New loads configuration and exits the process when it is invalid.
func New() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatal(err)
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %v", key, err))
		return fallback
	}
	return d
}

func getInt(key string, fallback int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %v", key, err))
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64, errs *[]string) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %v", key, err))
		return fallback
	}
	return f
}

func getBool(key string, fallback bool, errs *[]string) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %v", key, err))
		return fallback
	}
	return b
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
