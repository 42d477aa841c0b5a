package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Site
	SiteID string // selects the media archive asset: <SITE_ID>-media.zip

	// Releases
	ReleaseRepo     string // owner/name of the release repository
	ReleaseAPIURL   string // GitHub API base
	ManifestURL     string // release manifest with the media archive URL
	SkipUpdateCheck bool

	// Content
	ContentAPIURL      string
	ContentEventsURL   string
	ContentRefreshCron string

	// Boot
	CountdownSeconds int

	// Playback
	Crossfade     time.Duration
	ImageDuration time.Duration
	Muted         bool
	PlayerCommand string // "none" plays headless
	PlayerArgs    []string

	// Media refresh after boot, empty disables it
	MediaRefreshCron string

	// Server
	ServerPort string

	// Paths
	DataDir      string
	MediaDir     string // $DATA_DIR/videos
	MetaFile     string // $DATA_DIR/media-meta.json
	DatabaseFile string // $DATA_DIR/grainlink.db
	LogFile      string // $DATA_DIR/grainlink.log
	UpdatesDir   string // $DATA_DIR/updates

	// Logging
	LogLevel  string
	LogFormat string
}

// MediaAssetName is the release asset holding the media archive for this site
func (c *Config) MediaAssetName() string {
	return c.SiteID + "-media.zip"
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	// Load .env file if it exists (ignore if not found)
	_ = v.ReadInConfig()

	v.SetDefault("SITE_ID", "default")
	v.SetDefault("RELEASE_API_URL", "https://api.github.com")
	v.SetDefault("COUNTDOWN_SECONDS", 90)
	v.SetDefault("CROSSFADE_MS", 1000)
	v.SetDefault("IMAGE_DURATION_SECONDS", 10)
	v.SetDefault("MUTED", true)
	v.SetDefault("PLAYER_COMMAND", "mpv")
	v.SetDefault("PLAYER_ARGS", "--fs --no-osc --no-input-default-bindings")
	v.SetDefault("CONTENT_REFRESH_CRON", "*/15 * * * *")
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")

	dataDir := v.GetString("DATA_DIR")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".local", "share", "grainlink")
	} else {
		absPath, err := filepath.Abs(dataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path for DATA_DIR: %w", err)
		}
		dataDir = absPath
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	config := &Config{
		SiteID: v.GetString("SITE_ID"),

		ReleaseRepo:     v.GetString("RELEASE_REPO"),
		ReleaseAPIURL:   strings.TrimRight(v.GetString("RELEASE_API_URL"), "/"),
		ManifestURL:     v.GetString("MANIFEST_URL"),
		SkipUpdateCheck: v.GetBool("SKIP_UPDATE_CHECK"),

		ContentAPIURL:      v.GetString("CONTENT_API_URL"),
		ContentEventsURL:   v.GetString("CONTENT_EVENTS_URL"),
		ContentRefreshCron: v.GetString("CONTENT_REFRESH_CRON"),

		CountdownSeconds: v.GetInt("COUNTDOWN_SECONDS"),

		Crossfade:     time.Duration(v.GetInt("CROSSFADE_MS")) * time.Millisecond,
		ImageDuration: time.Duration(v.GetInt("IMAGE_DURATION_SECONDS")) * time.Second,
		Muted:         v.GetBool("MUTED"),
		PlayerCommand: v.GetString("PLAYER_COMMAND"),
		PlayerArgs:    strings.Fields(v.GetString("PLAYER_ARGS")),

		MediaRefreshCron: v.GetString("MEDIA_REFRESH_CRON"),

		ServerPort: v.GetString("SERVER_PORT"),

		DataDir:      dataDir,
		MediaDir:     filepath.Join(dataDir, "videos"),
		MetaFile:     filepath.Join(dataDir, "media-meta.json"),
		DatabaseFile: filepath.Join(dataDir, "grainlink.db"),
		LogFile:      filepath.Join(dataDir, "grainlink.log"),
		UpdatesDir:   filepath.Join(dataDir, "updates"),

		LogLevel:  v.GetString("LOG_LEVEL"),
		LogFormat: v.GetString("LOG_FORMAT"),
	}

	if config.ManifestURL == "" && config.ReleaseRepo != "" {
		config.ManifestURL = fmt.Sprintf("https://github.com/%s/releases/latest/download/latest.json", config.ReleaseRepo)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) validate() error {
	if c.SiteID == "" {
		return fmt.Errorf("SITE_ID is required")
	}
	if c.ReleaseRepo != "" && strings.Count(c.ReleaseRepo, "/") != 1 {
		return fmt.Errorf("RELEASE_REPO must be owner/name, got %q", c.ReleaseRepo)
	}
	if c.CountdownSeconds < 0 {
		return fmt.Errorf("COUNTDOWN_SECONDS must not be negative")
	}
	if c.Crossfade < 0 {
		return fmt.Errorf("CROSSFADE_MS must not be negative")
	}
	if c.ImageDuration <= 0 {
		return fmt.Errorf("IMAGE_DURATION_SECONDS must be positive")
	}
	return nil
}
