package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Sources     Sources     `yaml:"sources"`
	Keywords    []Keyword   `yaml:"keywords"`
	POIs        []POI       `yaml:"pois"`
	Extraction  Extraction  `yaml:"extraction"`
	Correlation Correlation `yaml:"correlation"`
	Output      Output      `yaml:"output"`
	Server      Server      `yaml:"server"`
	Logging     Logging     `yaml:"logging"`
}

type Sources struct {
	Feeds    []Feed   `yaml:"feeds"`
	Pastebin Pastebin `yaml:"pastebin"`
	Fixtures Fixtures `yaml:"fixtures"`
}

type Feed struct {
	URL         string  `yaml:"url"`
	Name        string  `yaml:"name"`
	SourceType  string  `yaml:"source_type"`
	Credibility float64 `yaml:"credibility"`
}

type Pastebin struct {
	Enabled     bool    `yaml:"enabled"`
	ArchiveURL  string  `yaml:"archive_url"`
	Credibility float64 `yaml:"credibility"`
	MaxPastes   int     `yaml:"max_pastes"`
}

type Fixtures struct {
	InsiderPath     string `yaml:"insider_path"`
	SupplyChainPath string `yaml:"supply_chain_path"`
}

type Keyword struct {
	Term     string  `yaml:"term"`
	Category string  `yaml:"category"`
	Weight   float64 `yaml:"weight"`
}

type POI struct {
	Name        string   `yaml:"name"`
	Org         string   `yaml:"org"`
	Role        string   `yaml:"role"`
	Sensitivity int      `yaml:"sensitivity"`
	Aliases     []string `yaml:"aliases"`
}

type Extraction struct {
	AllowSingleTokenPOI bool `yaml:"allow_single_token_poi"`
}

type Correlation struct {
	Days           int     `yaml:"days"`
	WindowHours    int     `yaml:"window_hours"`
	MinClusterSize int     `yaml:"min_cluster_size"`
	Limit          int     `yaml:"limit"`
	MinLinkScore   float64 `yaml:"min_link_score"`
	MaxPairChecks  int     `yaml:"max_pair_checks"`
	IncludeDemo    bool    `yaml:"include_demo"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for osintwatch.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "osintwatch")
}

// DataDir returns the XDG data directory for osintwatch.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "osintwatch")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/osintwatch/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'osintwatch init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Sources: Sources{
			Pastebin: Pastebin{
				ArchiveURL:  "https://pastebin.com/archive",
				Credibility: 0.4,
				MaxPastes:   25,
			},
		},
		Correlation: Correlation{
			Days:           7,
			WindowHours:    72,
			MinClusterSize: 2,
			Limit:          50,
			MinLinkScore:   0.35,
			MaxPairChecks:  25000,
		},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	for i := range cfg.Sources.Feeds {
		if cfg.Sources.Feeds[i].SourceType == "" {
			cfg.Sources.Feeds[i].SourceType = "rss"
		}
		if cfg.Sources.Feeds[i].Credibility == 0 {
			cfg.Sources.Feeds[i].Credibility = 0.5
		}
	}
	for i := range cfg.Keywords {
		if cfg.Keywords[i].Weight == 0 {
			cfg.Keywords[i].Weight = 1.0
		}
		if cfg.Keywords[i].Category == "" {
			cfg.Keywords[i].Category = "general"
		}
	}
	for i := range cfg.POIs {
		if cfg.POIs[i].Sensitivity == 0 {
			cfg.POIs[i].Sensitivity = 3
		}
	}

	return cfg, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
