package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"InboxRPA/internal/domain"
)

const (
	configPathEnv = "INBOXRPA_CONFIG"

	emailUserEnv         = "EMAIL_USER"
	emailPasswordEnv     = "EMAIL_PASSWORD"
	imapServerEnv        = "IMAP_SERVER"
	imapPortEnv          = "IMAP_PORT"
	imapMailboxEnv       = "IMAP_MAILBOX"
	senderFilterEnv      = "SENDER_FILTER"
	urlPatternEnv        = "URL_PATTERN"
	buttonSelectorEnv    = "BUTTON_SELECTOR"
	selectorTypeEnv      = "SELECTOR_TYPE"
	browserDriverEnv     = "BROWSER_DRIVER"
	headlessModeEnv      = "HEADLESS_MODE"
	logLevelEnv          = "LOG_LEVEL"
	logDirEnv            = "LOG_DIR"
	databaseDriverEnv    = "DATABASE_DRIVER"
	databaseDSNEnv       = "DATABASE_DSN"
	maxRetriesEnv        = "MAX_RETRIES"
	retryDelayEnv        = "RETRY_DELAY"
	executionIntervalEnv = "EXECUTION_INTERVAL"
	retentionDaysEnv     = "RETENTION_DAYS"
	telegramTokenEnv     = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv    = "TELEGRAM_CHAT_ID"
	metricsAddrEnv       = "METRICS_ADDR"
)

// Browser drivers.
const (
	DriverHTTP   = "http"
	DriverChrome = "chrome"
)

// Config holds high-level settings required across the application.
type Config struct {
	Mail          MailConfig         `yaml:"mail"`
	Links         LinksConfig        `yaml:"links"`
	Browser       BrowserConfig      `yaml:"browser"`
	Selectors     []SelectorConfig   `yaml:"selectors"`
	Database      DatabaseConfig     `yaml:"database"`
	Retry         RetryConfig        `yaml:"retry"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Logging       LoggingConfig      `yaml:"logging"`
	Notifications NotificationConfig `yaml:"notifications"`
	Metrics       MetricsConfig      `yaml:"metrics"`
}

// MailConfig describes the mailbox and which messages to read.
type MailConfig struct {
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Server       string `yaml:"server"`
	Port         int    `yaml:"port"`
	Mailbox      string `yaml:"mailbox"`
	SenderFilter string `yaml:"senderFilter"`
	Limit        int    `yaml:"limit"`
}

// LinksConfig controls link extraction and probing.
type LinksConfig struct {
	URLPattern string  `yaml:"urlPattern"`
	ProbeRate  float64 `yaml:"probeRate"`
}

// BrowserConfig selects and tunes the automation driver.
type BrowserConfig struct {
	Driver         string         `yaml:"driver"`
	Headless       bool           `yaml:"headless"`
	ExecPath       string         `yaml:"execPath"`
	PageTimeout    time.Duration  `yaml:"pageTimeout"`
	AttemptTimeout time.Duration  `yaml:"attemptTimeout"`
	ButtonSelector SelectorConfig `yaml:"buttonSelector"`
}

// SelectorConfig is one locator strategy.
type SelectorConfig struct {
	Kind        string `yaml:"kind"`
	Value       string `yaml:"value"`
	Description string `yaml:"description"`
}

// DatabaseConfig describes the ledger store.
type DatabaseConfig struct {
	Driver        string `yaml:"driver"`
	DSN           string `yaml:"dsn"`
	RetentionDays int    `yaml:"retentionDays"`
}

// RetryConfig shapes the backoff policy.
type RetryConfig struct {
	MaxRetries int           `yaml:"maxRetries"`
	Delay      time.Duration `yaml:"delay"`
	MaxDelay   time.Duration `yaml:"maxDelay"`
}

// SchedulerConfig defines the pause between runs in forever mode.
type SchedulerConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// LoggingConfig sets the level and the optional directory for log files.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
	BaseURL  string `yaml:"baseUrl"`
}

// MetricsConfig enables the metrics endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads .env (if present), the YAML file at path or $INBOXRPA_CONFIG, then applies
// environment overrides.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		// Keys absent from the file keep their defaults; present keys win even when zero.
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	setString(&c.Mail.User, emailUserEnv)
	setString(&c.Mail.Password, emailPasswordEnv)
	setString(&c.Mail.Server, imapServerEnv)
	setString(&c.Mail.Mailbox, imapMailboxEnv)
	setString(&c.Mail.SenderFilter, senderFilterEnv)
	setString(&c.Links.URLPattern, urlPatternEnv)
	setString(&c.Browser.ButtonSelector.Value, buttonSelectorEnv)
	setString(&c.Browser.ButtonSelector.Kind, selectorTypeEnv)
	setString(&c.Browser.Driver, browserDriverEnv)
	setString(&c.Logging.Level, logLevelEnv)
	setString(&c.Logging.Dir, logDirEnv)
	setString(&c.Database.Driver, databaseDriverEnv)
	setString(&c.Database.DSN, databaseDSNEnv)
	setString(&c.Notifications.Telegram.BotToken, telegramTokenEnv)
	setString(&c.Notifications.Telegram.ChatID, telegramChatIDEnv)
	setString(&c.Metrics.Addr, metricsAddrEnv)

	var errs []error
	errs = append(errs,
		setInt(&c.Mail.Port, imapPortEnv),
		setInt(&c.Retry.MaxRetries, maxRetriesEnv),
		setInt(&c.Database.RetentionDays, retentionDaysEnv),
		setBool(&c.Browser.Headless, headlessModeEnv),
		setSeconds(&c.Retry.Delay, retryDelayEnv),
		setSeconds(&c.Scheduler.Interval, executionIntervalEnv),
	)
	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setInt(dst *int, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

// setSeconds accepts Go durations ("90s") or plain seconds ("1.5").
func setSeconds(dst *time.Duration, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return nil
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: not a duration: %q", key, v)
	}
	*dst = time.Duration(secs * float64(time.Second))
	return nil
}

// Validate checks the settings the run cannot start without.
func (c Config) Validate() error {
	var errs []error
	if c.Mail.Limit <= 0 {
		errs = append(errs, errors.New("mail limit must be positive"))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries cannot be negative"))
	}
	if c.Retry.Delay < 0 {
		errs = append(errs, errors.New("retry delay cannot be negative"))
	}
	switch strings.ToLower(c.Browser.Driver) {
	case DriverHTTP, DriverChrome:
	default:
		errs = append(errs, fmt.Errorf("unknown browser driver %q", c.Browser.Driver))
	}
	if c.Browser.ButtonSelector.Value != "" {
		if _, err := domain.ParseLocatorKind(normalizeKind(c.Browser.ButtonSelector.Kind)); err != nil {
			errs = append(errs, fmt.Errorf("selector type: %w", err))
		}
	}
	for i, s := range c.Selectors {
		if _, err := domain.ParseLocatorKind(normalizeKind(s.Kind)); err != nil {
			errs = append(errs, fmt.Errorf("selectors[%d]: %w", i, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return domain.NewError(domain.KindConfiguration, "validate config", err)
	}
	return nil
}

// Strategies converts the configured selector list; empty means built-in defaults.
func (c Config) Strategies() []domain.SelectorSpec {
	specs := make([]domain.SelectorSpec, 0, len(c.Selectors))
	for _, s := range c.Selectors {
		specs = append(specs, s.spec())
	}
	return specs
}

// Override returns the configured button selector, or nil when unset.
func (c Config) Override() *domain.SelectorSpec {
	if strings.TrimSpace(c.Browser.ButtonSelector.Value) == "" {
		return nil
	}
	spec := c.Browser.ButtonSelector.spec()
	return &spec
}

func (s SelectorConfig) spec() domain.SelectorSpec {
	return domain.SelectorSpec{
		Kind:        domain.LocatorKind(normalizeKind(s.Kind)),
		Value:       s.Value,
		Description: s.Description,
	}
}

func normalizeKind(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}

// Query builds the mailbox query.
func (c Config) Query() domain.FetchQuery {
	return domain.FetchQuery{
		UnseenOnly:     true,
		SenderContains: c.Mail.SenderFilter,
		Limit:          c.Mail.Limit,
		NewestFirst:    true,
	}
}

// Retention converts RetentionDays to a duration; zero disables pruning.
func (c Config) Retention() time.Duration {
	if c.Database.RetentionDays <= 0 {
		return 0
	}
	return time.Duration(c.Database.RetentionDays) * 24 * time.Hour
}

func defaultConfig() Config {
	return Config{
		Mail: MailConfig{
			Port:    993,
			Mailbox: "INBOX",
			Limit:   10,
		},
		Links: LinksConfig{ProbeRate: 2},
		Browser: BrowserConfig{
			Driver:         DriverHTTP,
			Headless:       true,
			PageTimeout:    30 * time.Second,
			AttemptTimeout: 10 * time.Second,
			ButtonSelector: SelectorConfig{Kind: string(domain.LocatorXPath)},
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "data/inboxrpa.db",
		},
		Retry: RetryConfig{
			MaxRetries: 3,
			Delay:      time.Second,
			MaxDelay:   30 * time.Second,
		},
		Scheduler: SchedulerConfig{Interval: 10 * time.Minute},
		Logging:   LoggingConfig{Level: "info"},
	}
}
