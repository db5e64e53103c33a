package config

import (
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/tickerdesk/tickerdesk/util"
)

// StateDirName is the per-installation directory holding config, logs and the
// update marker. Updates never touch it.
const StateDirName = ".tickerdesk"

const configFileName = "config.json"

// Config is the persisted client configuration.
type Config struct {
	// UpdateRepo is the "owner/repo" the release feed is read from.
	UpdateRepo string `json:"updateRepo"`

	// MirrorPrefix is prepended to feed and download URLs on retry. Empty
	// disables the mirror.
	MirrorPrefix string `json:"mirrorPrefix"`

	// GithubToken raises the release feed rate limit when set.
	GithubToken string `json:"githubToken,omitempty"`

	// UserStocks are the codes shown on the board, e.g. "sh600000".
	UserStocks []string `json:"userStocks"`

	// RefreshSeconds is the quote refresh interval.
	RefreshSeconds int `json:"refreshSeconds"`

	// QuoteEndpoint overrides the quote service base URL.
	QuoteEndpoint string `json:"quoteEndpoint,omitempty"`
}

func defaultConfig() *Config {
	return &Config{
		UpdateRepo:     "tickerdesk/tickerdesk",
		MirrorPrefix:   "https://ghfast.top/",
		UserStocks:     []string{"sh000001"},
		RefreshSeconds: 5,
	}
}

// DefaultPath returns the config location inside the installation at
// targetDir.
func DefaultPath(targetDir string) string {
	return filepath.Join(targetDir, StateDirName, configFileName)
}

// Load reads the config at path. A missing file is created with defaults so
// the first run leaves an editable config behind.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Infof("no config at %s, writing defaults", path)
		cfg := defaultConfig()
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	cfg := defaultConfig()
	if _, err := util.ReadJson(path, cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

// Save writes the config atomically.
func Save(path string, cfg *Config) error {
	return util.WriteJson(path, cfg)
}

func (c *Config) normalize() {
	if c.RefreshSeconds <= 0 {
		c.RefreshSeconds = defaultConfig().RefreshSeconds
	}
	if c.UpdateRepo == "" {
		c.UpdateRepo = defaultConfig().UpdateRepo
	}
}
