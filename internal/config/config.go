// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config holds the daemon configuration. Everything is env-first:
// FromEnv reads PAPERCAST_* variables with logged defaults, Validate rejects
// configurations the daemon cannot safely run with.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config is the complete runtime configuration of papercastd.
type Config struct {
	// Storage
	DataDir      string // root for media/{week}/{type} bins and debug artifacts
	StoreBackend string // dedup/feed-cache backend: "redis" (default) or "badger"
	StoreDir     string // badger directory when StoreBackend=badger
	LibraryDB    string // sqlite artifact index path (default {DataDir}/library.db)

	// Redis
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Feeds
	FeedReaderURL    string // RSS read-later feed (optional)
	FeedStashURL     string // bookmark manager API URL incl. token query param (optional)
	FeedPollInterval time.Duration
	MaintenanceTick  time.Duration
	MaintenanceOn    bool

	// Browser / capture
	CookiesFile    string
	MirrorHost     string // mirror host for social-media URLs (optional)
	PrivacyFilter  []string
	UserAgent      string
	CaptureTimeout time.Duration
	SkipInstall    bool // assume the playwright driver and Chromium are already present

	// Quality verification
	LLMHost             string // Ollama-compatible endpoint, e.g. http://ollama:11434
	VisionModel         string
	TextModel           string
	QualityThreshold    int    // visual score 0..100 below which a capture fails
	QualityPatternsFile string // optional YAML pattern-table override
	VisualVerify        bool

	// Podcast pipeline
	ASRHost string // Whisper-compatible endpoint, e.g. http://whisper:9000

	// Logging
	LogLevel string
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// FromEnv builds a Config from PAPERCAST_* environment variables.
// Missing variables fall back to documented defaults; parse failures are
// logged and fall back as well. Call Validate before use.
func FromEnv() Config {
	cfg := Config{
		DataDir:      ParseString("PAPERCAST_DATA_DIR", "./data"),
		StoreBackend: ParseString("PAPERCAST_STORE_BACKEND", "redis"),
		StoreDir:     ParseString("PAPERCAST_STORE_DIR", ""),
		LibraryDB:    ParseString("PAPERCAST_LIBRARY_DB", ""),

		RedisHost:     ParseString("PAPERCAST_REDIS_HOST", "localhost"),
		RedisPort:     ParseInt("PAPERCAST_REDIS_PORT", 6379),
		RedisPassword: ParseString("PAPERCAST_REDIS_PASSWORD", ""),
		RedisDB:       ParseInt("PAPERCAST_REDIS_DB", 0),

		FeedReaderURL:    ParseString("PAPERCAST_FEED_READER_URL", ""),
		FeedStashURL:     ParseString("PAPERCAST_FEED_STASH_URL", ""),
		FeedPollInterval: time.Duration(ParseInt("PAPERCAST_FEED_POLL_INTERVAL_MINUTES", 15)) * time.Minute,
		MaintenanceTick:  ParseDuration("PAPERCAST_MAINTENANCE_TICK", 5*time.Minute),
		MaintenanceOn:    ParseBool("PAPERCAST_MAINTENANCE", true),

		CookiesFile:    ParseString("PAPERCAST_COOKIES_FILE", ""),
		MirrorHost:     ParseString("PAPERCAST_MIRROR_HOST", ""),
		UserAgent:      ParseString("PAPERCAST_USER_AGENT", defaultUserAgent),
		CaptureTimeout: ParseDuration("PAPERCAST_CAPTURE_TIMEOUT", 60*time.Second),
		SkipInstall:    ParseBool("PAPERCAST_BROWSER_SKIP_INSTALL", false),

		LLMHost:             ParseString("PAPERCAST_LLM_HOST", ""),
		VisionModel:         ParseString("PAPERCAST_VISION_MODEL", "llava"),
		TextModel:           ParseString("PAPERCAST_TEXT_MODEL", "llama3.1"),
		QualityThreshold:    ParseInt("PAPERCAST_QUALITY_THRESHOLD", 50),
		QualityPatternsFile: ParseString("PAPERCAST_QUALITY_PATTERNS_FILE", ""),
		VisualVerify:        ParseBool("PAPERCAST_VISUAL_VERIFY", true),

		ASRHost: ParseString("PAPERCAST_ASR_HOST", ""),

		LogLevel: ParseString("PAPERCAST_LOG_LEVEL", "info"),
	}

	if raw := ParseString("PAPERCAST_PRIVACY_FILTER", ""); raw != "" {
		for _, term := range strings.Split(raw, ",") {
			if t := strings.TrimSpace(term); t != "" {
				cfg.PrivacyFilter = append(cfg.PrivacyFilter, t)
			}
		}
	}
	if cfg.LibraryDB == "" {
		cfg.LibraryDB = filepath.Join(cfg.DataDir, "library.db")
	}
	if cfg.StoreDir == "" {
		cfg.StoreDir = filepath.Join(cfg.DataDir, "state")
	}
	if cfg.CookiesFile == "" {
		cfg.CookiesFile = filepath.Join(cfg.DataDir, "cookies.txt")
	}
	return cfg
}

// RedisAddr returns the host:port address for the Redis client.
func (c Config) RedisAddr() string {
	return net.JoinHostPort(c.RedisHost, strconv.Itoa(c.RedisPort))
}

// Validate checks the configuration for values the daemon cannot run with.
// All problems are reported at once.
func (c Config) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, errors.New("data dir must not be empty"))
	}
	if c.RedisHost == "" {
		errs = append(errs, errors.New("redis host must not be empty"))
	}
	if c.RedisPort <= 0 || c.RedisPort > 65535 {
		errs = append(errs, fmt.Errorf("redis port out of range: %d", c.RedisPort))
	}
	switch c.StoreBackend {
	case "redis", "badger":
	default:
		errs = append(errs, fmt.Errorf("unknown store backend: %s (supported: redis, badger)", c.StoreBackend))
	}
	if c.FeedPollInterval < time.Minute {
		errs = append(errs, fmt.Errorf("feed poll interval too small: %s (minimum 1m)", c.FeedPollInterval))
	}
	if c.MaintenanceTick < time.Minute {
		errs = append(errs, fmt.Errorf("maintenance tick too small: %s (minimum 1m)", c.MaintenanceTick))
	}
	if c.QualityThreshold < 0 || c.QualityThreshold > 100 {
		errs = append(errs, fmt.Errorf("quality threshold out of range: %d (0-100)", c.QualityThreshold))
	}
	for _, u := range []struct{ name, value string }{
		{"feed reader URL", c.FeedReaderURL},
		{"feed stash URL", c.FeedStashURL},
		{"LLM host", c.LLMHost},
		{"ASR host", c.ASRHost},
	} {
		if u.value == "" {
			continue
		}
		parsed, err := url.Parse(u.value)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			errs = append(errs, fmt.Errorf("%s is not a valid URL: %q", u.name, u.value))
		}
	}
	if c.CookiesFile != "" {
		if _, err := os.Stat(c.CookiesFile); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("cookies file not accessible: %w", err))
		}
	}
	return errors.Join(errs...)
}
