// internal/config/config.go
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all server-level settings sourced from the environment.
// Lobby/game settings live on each lobby instead (internal/models).
type Config struct {
	Addr string

	// BotToken is the shared secret used to verify signed login payloads
	// from the client platform.
	BotToken string

	// TextAPIBase is the base URL of the primary (text) generation provider.
	TextAPIBase string
	// MediaAPIBase is the base URL of the secondary (image/voice) provider.
	MediaAPIBase string

	// MediaDir is the public directory generated media files are written to.
	MediaDir string
	// MediaTTL is how long a generated media file lives before reaping.
	MediaTTL time.Duration

	RedisAddr string
	RedisDB   int
}

// Load assembles a Config from environment variables, applying defaults.
func Load() Config {
	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	return Config{
		Addr:         addr,
		BotToken:     os.Getenv("AUTH_BOT_TOKEN"),
		TextAPIBase:  Get("TEXT_API_BASE", "https://generativelanguage.googleapis.com"),
		MediaAPIBase: Get("MEDIA_API_BASE", "https://api.navy"),
		MediaDir:     Get("MEDIA_DIR", "./public/media"),
		MediaTTL:     GetDuration("MEDIA_TTL", 2*time.Hour),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RedisDB:      GetInt("REDIS_DB", 0),
	}
}

// Get reads an environment variable or returns a default value.
func Get(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// GetInt parses an environment variable as an integer, else a default value.
func GetInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// GetDuration parses an environment variable as a time.Duration, else a default value.
func GetDuration(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
