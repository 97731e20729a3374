package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/sift/internal/board"
	"github.com/starford/sift/internal/classifier"
	"github.com/starford/sift/internal/extractor"
	"github.com/starford/sift/internal/fetcher"
	"github.com/starford/sift/internal/models"
	"github.com/starford/sift/internal/schedule"
	"github.com/starford/sift/internal/storage"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App        ApplicationConfig   `yaml:"app"`
	Auth       AuthConfig          `yaml:"auth"`
	Storage    StorageConfig       `yaml:"storage"`
	Board      BoardConfig         `yaml:"board"`
	Fetcher    FetcherConfig       `yaml:"fetcher"`
	Extractor  extractor.Selectors `yaml:"extractor"`
	Scrape     ScrapeConfig        `yaml:"scrape"`
	Schedule   ScheduleConfig      `yaml:"schedule"`
	Classifier ClassifierConfig    `yaml:"classifier"`
	Inbox      InboxConfig         `yaml:"inbox"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	sections := []struct {
		name     string
		validate func() error
	}{
		{"app", c.App.Validate},
		{"auth", c.Auth.Validate},
		{"storage", c.Storage.Validate},
		{"board", c.Board.Validate},
		{"fetcher", c.Fetcher.Validate},
		{"extractor", func() error { return validateSelectors(&c.Extractor) }},
		{"scrape", c.Scrape.Validate},
		{"schedule", c.Schedule.Validate},
		{"classifier", c.Classifier.Validate},
		{"inbox", c.Inbox.Validate},
	}
	for _, s := range sections {
		if err := s.validate(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.Required,
			validation.In(storage.DriverSQLite, storage.DriverPebble, storage.DriverFile)),
		validation.Field(&c.Path, validation.Required),
	)
}

// BoardConfig holds the category set and the schema sentinel.
type BoardConfig struct {
	Categories []models.CategoryDef `yaml:"categories"`
	Sentinel   string               `yaml:"sentinel"`
}

// Validate validates the board configuration.
func (c *BoardConfig) Validate() error {
	if len(c.Categories) == 0 {
		c.Categories = models.DefaultCategories
	}
	if c.Sentinel == "" {
		c.Sentinel = board.DefaultSentinel
	}
	seen := make(map[string]bool, len(c.Categories))
	for _, d := range c.Categories {
		if strings.TrimSpace(d.ID) == "" {
			return errors.New("category id is empty")
		}
		if seen[d.ID] {
			return fmt.Errorf("duplicate category %q", d.ID)
		}
		seen[d.ID] = true
	}
	if !seen[models.UncategorizedID] {
		return fmt.Errorf("categories must include %q", models.UncategorizedID)
	}
	if !seen[c.Sentinel] || c.Sentinel == models.UncategorizedID {
		return fmt.Errorf("sentinel %q must name a configured category other than %q", c.Sentinel, models.UncategorizedID)
	}
	return nil
}

// FetcherConfig controls the headless browser.
type FetcherConfig struct {
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	MarkerTimeout     time.Duration `yaml:"marker_timeout"`
	ScrollInterval    time.Duration `yaml:"scroll_interval"`
	SettleDelay       time.Duration `yaml:"settle_delay"`
	MaxScrollRounds   int           `yaml:"max_scroll_rounds"`
	NoSandbox         bool          `yaml:"no_sandbox"`
	ChromePath        string        `yaml:"chrome_path"`
}

// Validate validates the fetcher configuration.
func (c *FetcherConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.NavigationTimeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.MarkerTimeout, validation.Required),
		validation.Field(&c.ScrollInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.SettleDelay, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxScrollRounds, validation.Min(0)),
	)
}

func (c *FetcherConfig) toFetcher(cardSelector string) fetcher.Config {
	return fetcher.Config{
		NavigationTimeout: c.NavigationTimeout,
		MarkerTimeout:     c.MarkerTimeout,
		ScrollInterval:    c.ScrollInterval,
		SettleDelay:       c.SettleDelay,
		MaxScrollRounds:   c.MaxScrollRounds,
		NoSandbox:         c.NoSandbox,
		ChromePath:        c.ChromePath,
		CardSelector:      cardSelector,
	}
}

func validateSelectors(s *extractor.Selectors) error {
	if err := validation.ValidateStruct(s,
		validation.Field(&s.Card, validation.Required),
		validation.Field(&s.Time, validation.Required),
		validation.Field(&s.Likes, validation.Required),
		validation.Field(&s.Text, validation.Required),
	); err != nil {
		return err
	}
	return s.Validate()
}

// ScrapeConfig limits POST /api/scrape per client.
type ScrapeConfig struct {
	RatePerMinute int `yaml:"rate_per_minute"`
	Burst         int `yaml:"burst"`
}

// Validate validates the scrape configuration.
func (c *ScrapeConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.RatePerMinute, validation.Min(0)),
		validation.Field(&c.Burst, validation.Min(0)),
	)
}

// ScheduleConfig drives periodic scrape-and-ingest.
type ScheduleConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
	URL     string `yaml:"url"`
}

// Validate validates the schedule configuration.
func (c *ScheduleConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Cron, validation.Required),
		validation.Field(&c.URL, validation.Required),
	); err != nil {
		return err
	}
	return schedule.Validate(c.Cron)
}

// ClassifierConfig configures the Anthropic classifier.
type ClassifierConfig struct {
	Enabled   bool   `yaml:"enabled"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
	BaseURL   string `yaml:"base_url"`
	BatchSize int    `yaml:"batch_size"`
}

// Validate validates the classifier configuration.
func (c *ClassifierConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.APIKey, validation.Required),
		validation.Field(&c.MaxTokens, validation.Min(0)),
		validation.Field(&c.BatchSize, validation.Min(0)),
	)
}

func (c *ClassifierConfig) toClassifier() classifier.Config {
	return classifier.Config{
		APIKey:    c.APIKey,
		Model:     c.Model,
		MaxTokens: c.MaxTokens,
		BaseURL:   c.BaseURL,
		BatchSize: c.BatchSize,
	}
}

// InboxConfig points at the directory watched for classification files.
type InboxConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Validate validates the inbox configuration.
func (c *InboxConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	fc := fetcher.DefaultConfig()
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Storage: StorageConfig{
			Driver: storage.DriverSQLite,
			Path:   "./sift.db",
		},
		Board: BoardConfig{
			Categories: models.DefaultCategories,
			Sentinel:   board.DefaultSentinel,
		},
		Fetcher: FetcherConfig{
			NavigationTimeout: fc.NavigationTimeout,
			MarkerTimeout:     fc.MarkerTimeout,
			ScrollInterval:    fc.ScrollInterval,
			SettleDelay:       fc.SettleDelay,
			MaxScrollRounds:   fc.MaxScrollRounds,
		},
		Extractor: extractor.DefaultSelectors(),
		Scrape: ScrapeConfig{
			RatePerMinute: 6,
			Burst:         2,
		},
		Schedule: ScheduleConfig{
			Cron: "*/30 * * * *",
		},
		Inbox: InboxConfig{
			Path: "./inbox",
		},
	}
}
