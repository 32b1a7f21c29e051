package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// defaultBaseURL is the build-time fallback for the chat backend.
const defaultBaseURL = "http://localhost:8080"

// Config aggregates client and stub-server settings.
type Config struct {
	API  APIConfig
	Stub StubConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	apiCfg, err := loadAPIConfig()
	if err != nil {
		return nil, err
	}

	stubCfg, err := loadStubConfig()
	if err != nil {
		return nil, err
	}

	return &Config{API: apiCfg, Stub: stubCfg}, nil
}

// APIConfig describes how the client reaches the backend.
type APIConfig struct {
	BaseURL   string
	TokenFile string
	UserEmail string
	// RequestTimeout bounds ordinary CRUD calls.
	RequestTimeout time.Duration
	// StreamTimeout bounds the chat-send call; streamed answers run far
	// longer than CRUD requests.
	StreamTimeout time.Duration
}

func loadAPIConfig() (APIConfig, error) {
	requestTimeout, err := parseDurationEnv("ASSISTANT_REQUEST_TIMEOUT", 15*time.Second)
	if err != nil {
		return APIConfig{}, err
	}

	streamTimeout, err := parseDurationEnv("ASSISTANT_STREAM_TIMEOUT", 5*time.Minute)
	if err != nil {
		return APIConfig{}, err
	}

	tokenFile := strings.TrimSpace(os.Getenv("ASSISTANT_TOKEN_FILE"))
	if tokenFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return APIConfig{}, fmt.Errorf("resolve home dir for token file: %w", err)
		}
		tokenFile = filepath.Join(home, ".assistant", "token")
	}

	return APIConfig{
		BaseURL:        getEnvOrDefault("ASSISTANT_BASE_URL", defaultBaseURL),
		TokenFile:      tokenFile,
		UserEmail:      strings.TrimSpace(os.Getenv("ASSISTANT_USER_EMAIL")),
		RequestTimeout: requestTimeout,
		StreamTimeout:  streamTimeout,
	}, nil
}

// StubConfig describes the development stub server.
type StubConfig struct {
	Addr      string
	JWTSecret string
}

func loadStubConfig() (StubConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	addr := port
	if !strings.Contains(port, ":") {
		if strings.Contains(port, " ") {
			return StubConfig{}, fmt.Errorf("invalid PORT value: %q", port)
		}
		addr = ":" + port
	}

	return StubConfig{
		Addr:      addr,
		JWTSecret: getEnvOrDefault("STUB_JWT_SECRET", "dev-only-secret"),
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	// Accept plain seconds as well as Go duration syntax.
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}
