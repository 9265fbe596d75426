package mirror

import (
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/steakknife/rubygems-mirror/internal/gem"
)

const (
	defaultMaxConns = 10

	// ArtifactsDir is the directory below the source and destination
	// roots holding the gem files.
	ArtifactsDir = "gems"
)

var (
	validID = regexp.MustCompile(`^[a-z0-9_-]+$`)
)

// IsValidID checks if the given ID is valid.
func IsValidID(id string) bool {
	return validID.MatchString(id)
}

type tomlURL struct {
	*url.URL
}

func (u *tomlURL) UnmarshalText(text []byte) error {
	parsedURL, err := url.Parse(string(text))
	if err != nil {
		return err
	}
	switch parsedURL.Scheme {
	case "http":
	case "https":
	default:
		return errors.New("unsupported scheme: " + parsedURL.Scheme)
	}

	// for URL.ResolveReference
	if !strings.HasSuffix(parsedURL.Path, "/") {
		parsedURL.Path += "/"
		if parsedURL.RawPath != "" {
			parsedURL.RawPath += "/"
		}
	}

	u.URL = parsedURL
	return nil
}

func (u tomlURL) MarshalText() ([]byte, error) {
	if u.URL == nil {
		return nil, nil
	}
	return []byte(u.URL.String()), nil
}

// MirrConfig is an auxiliary struct for Config. It describes one mirror:
// where the gems come from and where they are stored.
type MirrConfig struct {
	URL              tomlURL `toml:"url"`
	Dir              string  `toml:"dir"`
	Prerelease       bool    `toml:"prerelease"`
	Parallelism      int     `toml:"parallelism,omitempty"`
	ReuseIndexes     bool    `toml:"reuse_indexes,omitempty"`
	IndexCompression string  `toml:"index_compression,omitempty"`

	// Package filtering configuration
	Filters *PackageFilters `toml:"filters,omitempty"`
}

// PackageFilters defines filtering rules for packages
type PackageFilters struct {
	KeepVersions    int      `toml:"keep_versions,omitempty"`
	ExcludePatterns []string `toml:"exclude_patterns,omitempty"`
}

// Check validates the configuration.
func (mirrorConfig *MirrConfig) Check() error {
	if mirrorConfig.URL.URL == nil {
		return errors.New("url is not set")
	}
	if mirrorConfig.Dir == "" {
		return errors.New("dir is not set")
	}
	if !filepath.IsAbs(mirrorConfig.Dir) {
		return errors.New("dir must be an absolute path")
	}
	st, err := os.Stat(mirrorConfig.Dir)
	switch {
	case os.IsNotExist(err):
		return errors.New("directory not found: " + mirrorConfig.Dir)
	case err != nil:
		return errors.Wrap(err, "cannot access dir")
	case !st.IsDir():
		return errors.New("not a directory: " + mirrorConfig.Dir)
	}
	if mirrorConfig.Parallelism < 0 {
		return errors.New("parallelism must not be negative")
	}
	if c := mirrorConfig.IndexCompression; c != "" && !gem.IsSupportedCompression(c) {
		return errors.New("unsupported index_compression: " + c)
	}

	if f := mirrorConfig.Filters; f != nil {
		if f.KeepVersions < 0 {
			return errors.New("keep_versions must not be negative")
		}
		for _, p := range f.ExcludePatterns {
			if _, err := path.Match(p, ""); err != nil {
				return errors.Wrapf(err, "invalid exclude pattern %q", p)
			}
		}
	}
	return nil
}

// IndexDocuments returns the index documents this mirror reads.
func (mirrorConfig *MirrConfig) IndexDocuments() []string {
	if mirrorConfig.Prerelease {
		return []string{gem.SpecsFile, gem.PrereleaseSpecsFile}
	}
	return []string{gem.SpecsFile}
}

// Compression returns the configured index compression, gz by default.
func (mirrorConfig *MirrConfig) Compression() string {
	if mirrorConfig.IndexCompression == "" {
		return gem.CompressionGzip
	}
	return mirrorConfig.IndexCompression
}

// Resolve returns *url.URL for a relative path.
func (mirrorConfig *MirrConfig) Resolve(path string) *url.URL {
	return mirrorConfig.URL.ResolveReference(&url.URL{Path: path})
}

// ArtifactURL returns the remote location of a gem file.
func (mirrorConfig *MirrConfig) ArtifactURL(name string) *url.URL {
	return mirrorConfig.Resolve(path.Join(ArtifactsDir, name))
}

// LogConfig represents slog configuration options
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Apply configures the global slog logger based on the configuration
func (logConfig *LogConfig) Apply() error {
	var level slog.Level
	switch strings.ToLower(logConfig.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return errors.New("invalid log level: " + logConfig.Level)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(logConfig.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "plain", "", "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return errors.New("invalid log format: " + logConfig.Format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

// Config is a struct to read TOML configurations.
//
// Use https://github.com/BurntSushi/toml as follows:
//
//	config := mirror.NewConfig()
//	md, err := toml.DecodeFile("/path/to/config.toml", config)
//	if err != nil {
//	    ...
//	}
//
// or LoadConfig, which also understands the legacy .gemmirrorrc format.
type Config struct {
	MaxConns int                    `toml:"max_conns"`
	Log      LogConfig              `toml:"log"`
	Mirrors  map[string]*MirrConfig `toml:"mirrors"`
}

// Check validates the configuration and every mirror in it.
func (c *Config) Check() error {
	if c.MaxConns < 0 {
		return &ConfigError{Err: errors.New("max_conns must not be negative")}
	}
	if len(c.Mirrors) == 0 {
		return &ConfigError{Err: errors.New("no mirrors defined")}
	}
	for _, id := range c.MirrorIDs() {
		if !IsValidID(id) {
			return &ConfigError{Mirror: id, Err: errors.New("invalid id")}
		}
		mc := c.Mirrors[id]
		if mc == nil {
			return &ConfigError{Mirror: id, Err: errors.New("empty mirror definition")}
		}
		if err := mc.Check(); err != nil {
			return &ConfigError{Mirror: id, Err: err}
		}
	}
	return nil
}

// MirrorIDs returns the configured mirror IDs in sorted order.
func (c *Config) MirrorIDs() []string {
	ids := make([]string, 0, len(c.Mirrors))
	for id := range c.Mirrors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Parallelism returns the number of workers to use for a mirror.
func (c *Config) Parallelism(id string) int {
	if mc, ok := c.Mirrors[id]; ok && mc.Parallelism > 0 {
		return mc.Parallelism
	}
	if c.MaxConns > 0 {
		return c.MaxConns
	}
	return defaultMaxConns
}

// NewConfig creates Config with default values.
func NewConfig() *Config {
	return &Config{
		MaxConns: defaultMaxConns,
	}
}

// legacyMirror is one entry of a .gemmirrorrc file.
type legacyMirror struct {
	From *string `yaml:"from"`
	To   *string `yaml:"to"`
	Pre  *bool   `yaml:"pre"`
}

// IsLegacyConfig returns true if configPath names a YAML mirror list
// rather than a TOML configuration.
func IsLegacyConfig(configPath string) bool {
	base := filepath.Base(configPath)
	ext := filepath.Ext(base)
	return base == ".gemmirrorrc" || ext == ".yml" || ext == ".yaml"
}

// LoadConfig reads a configuration file. TOML files are decoded into
// Config; YAML files are read as a legacy list of {from, to, pre} entries
// and become mirrors named mirror-0, mirror-1, ...
//
// The returned metadata is empty for legacy files.
func LoadConfig(configPath string) (*Config, toml.MetaData, error) {
	config := NewConfig()
	if !IsLegacyConfig(configPath) {
		md, err := toml.DecodeFile(configPath, config)
		if err != nil {
			return nil, md, err
		}
		for _, mc := range config.Mirrors {
			if mc != nil {
				mc.Dir = expandPath(mc.Dir)
			}
		}
		return config, md, nil
	}

	data, err := os.ReadFile(configPath) // #nosec G304 - path is supplied by the operator
	if err != nil {
		return nil, toml.MetaData{}, err
	}
	if err := decodeLegacy(data, config); err != nil {
		return nil, toml.MetaData{}, errors.Wrap(err, configPath)
	}
	return config, toml.MetaData{}, nil
}

func decodeLegacy(data []byte, config *Config) error {
	var entries []legacyMirror
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return &ConfigError{Err: errors.Wrap(err, "invalid config file")}
	}

	config.Mirrors = make(map[string]*MirrConfig, len(entries))
	for i, entry := range entries {
		id := "mirror-" + strconv.Itoa(i)
		if entry.From == nil {
			return &ConfigError{Mirror: id, Err: errors.New("mirror missing 'from' field")}
		}
		if entry.To == nil {
			return &ConfigError{Mirror: id, Err: errors.New("mirror missing 'to' field")}
		}

		mc := &MirrConfig{Dir: expandPath(*entry.To)}
		if err := mc.URL.UnmarshalText([]byte(*entry.From)); err != nil {
			return &ConfigError{Mirror: id, Err: err}
		}
		if entry.Pre != nil {
			mc.Prerelease = *entry.Pre
		}
		config.Mirrors[id] = mc
	}
	return nil
}

// expandPath resolves a leading "~" and makes p absolute.
func expandPath(p string) string {
	if p == "" {
		return p
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[1:])
		}
	}
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return p
}
