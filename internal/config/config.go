package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Host        string // game server host[:port], used for the socket
	Secure      bool   // wss/https instead of ws/http
	APIURL      string
	Token       string
	Username    string
	Password    string
	Email       string
	Register    bool   // create the account before logging in
	StatusAddr  string // local status server; empty disables it
	LobbyWindow time.Duration
	MinPlayers  int
	AutoMark    bool
	Dev         bool
}

// Load reads the given .env files (default ".env") into the process
// environment, then builds the config from BINGO_* variables. Missing files
// are not an error.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{
		Host:        getEnv("BINGO_HOST", "localhost:8000"),
		Secure:      getEnvAsBool("BINGO_SECURE", false),
		Token:       getEnv("BINGO_TOKEN", ""),
		Username:    getEnv("BINGO_USERNAME", ""),
		Password:    getEnv("BINGO_PASSWORD", ""),
		Email:       getEnv("BINGO_EMAIL", ""),
		Register:    getEnvAsBool("BINGO_REGISTER", false),
		StatusAddr:  getEnv("BINGO_STATUS_ADDR", "127.0.0.1:8089"),
		LobbyWindow: getEnvAsDuration("BINGO_LOBBY_WINDOW", 60*time.Second),
		MinPlayers:  getEnvAsInt("BINGO_MIN_PLAYERS", 3),
		AutoMark:    getEnvAsBool("BINGO_AUTO_MARK", false),
		Dev:         getEnvAsBool("BINGO_DEV", false),
	}
	cfg.APIURL = getEnv("BINGO_API_URL", cfg.DefaultAPIURL())
	return cfg, nil
}

func (c *Config) DefaultAPIURL() string {
	if c.Secure {
		return "https://" + c.Host
	}
	return "http://" + c.Host
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
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
