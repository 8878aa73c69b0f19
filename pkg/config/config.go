package config

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/mstoykov/envconfig"
	"github.com/sirupsen/logrus"

	"dev/bravebird/debug-ui-verifier/pkg/browser"
	"dev/bravebird/debug-ui-verifier/pkg/models"
)

// Config holds settings shared by the verifier binaries. Every field has a
// default, so an empty environment reproduces the fixed verification contract.
type Config struct {
	TargetURL         string        `envconfig:"VERIFY_TARGET_URL"`
	ScreenshotPath    string        `envconfig:"VERIFY_SCREENSHOT_PATH"`
	Timeout           time.Duration `envconfig:"VERIFY_TIMEOUT"`
	NavigationTimeout time.Duration `envconfig:"VERIFY_NAVIGATION_TIMEOUT"`
	Headless          bool          `envconfig:"VERIFY_HEADLESS"`
	FullPage          bool          `envconfig:"VERIFY_FULL_PAGE"`
	ChromeBin         string        `envconfig:"CHROME_BIN"`
	LogLevel          string        `envconfig:"LOG_LEVEL"`

	// Worker / API
	MySQLDSN      string `envconfig:"MYSQL_DSN"`
	TemporalHost  string `envconfig:"TEMPORAL_HOST"`
	Port          string `envconfig:"PORT"`
	ScreenshotDir string `envconfig:"SCREENSHOT_DIR"`
}

// Default returns the configuration used when no environment is set.
func Default() Config {
	return Config{
		TargetURL:         models.DefaultTargetURL,
		ScreenshotPath:    models.DefaultScreenshotPath,
		Timeout:           models.DefaultTimeout,
		NavigationTimeout: models.DefaultNavigationTimeout,
		Headless:          true,
		LogLevel:          "warn",
		TemporalHost:      "localhost:7233",
		Port:              "8080",
		ScreenshotDir:     "/tmp/screenshots",
	}
}

// Load applies the variables returned by lookup on top of the defaults.
func Load(lookup func(key string) (string, bool)) (Config, error) {
	conf := Default()
	if err := envconfig.Process("", &conf, lookup); err != nil {
		return conf, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := conf.Validate(); err != nil {
		return conf, err
	}
	return conf, nil
}

// LoadFromEnv reads the configuration from the process environment.
func LoadFromEnv() (Config, error) {
	return Load(os.LookupEnv)
}

// Validate checks values that would otherwise fail late, mid-run.
func (c Config) Validate() error {
	u, err := url.Parse(c.TargetURL)
	if err != nil {
		return fmt.Errorf("invalid VERIFY_TARGET_URL %q: %w", c.TargetURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid VERIFY_TARGET_URL %q: scheme and host are required", c.TargetURL)
	}
	if c.ScreenshotPath == "" {
		return fmt.Errorf("VERIFY_SCREENSHOT_PATH must not be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("VERIFY_TIMEOUT must be positive, got %s", c.Timeout)
	}
	if c.NavigationTimeout <= 0 {
		return fmt.Errorf("VERIFY_NAVIGATION_TIMEOUT must be positive, got %s", c.NavigationTimeout)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	return nil
}

// Plan returns the verification procedure with the configured overrides.
func (c Config) Plan() models.Plan {
	plan := models.DefaultPlan()
	plan.URL = c.TargetURL
	plan.ScreenshotPath = c.ScreenshotPath
	plan.FullPage = c.FullPage
	plan.Timeout = c.Timeout
	plan.NavigationTimeout = c.NavigationTimeout
	return plan
}

// BrowserOptions returns the launch options for the browser session.
func (c Config) BrowserOptions() browser.Options {
	return browser.Options{
		Bin:      c.ChromeBin,
		Headless: c.Headless,
		Flags:    browser.DefaultFlags(),
	}
}

// NewLogger builds a stderr logger at the configured level.
func (c Config) NewLogger() *logrus.Logger {
	return c.LoggerTo(os.Stderr)
}

// LoggerTo builds a logger at the configured level that writes to out.
func (c Config) LoggerTo(out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.WarnLevel
	}
	logger.SetLevel(level)
	return logger
}
