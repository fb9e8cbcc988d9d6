package nfi

import (
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/nfi/pkg/executor"
	"github.com/nfi/pkg/task"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

const (
	AppName      = "nfi"
	SettingsFile = "nfi.ini"
	DatabaseFile = "nfi.db"
)

// Standard paths used to store NFI data
// https://specifications.freedesktop.org/basedir-spec/latest/
type StandardPaths struct {
	// Profile name
	// Default: "nfi"
	NFI_APPNAME string
	// Path to configuration directory.
	// Default: "$XDG_CONFIG_HOME/$NFI_APPNAME" or "$HOME/.config/$NFI_APPNAME"
	CONFIG_HOME string
	// Path to state directory. Scratch directories of running scans go here
	// unless configured otherwise.
	// Default: "$XDG_STATE_HOME/$NFI_APPNAME" or "$HOME/.local/state/$NFI_APPNAME"
	STATE_HOME string
	// Path to data directory. Holds the database.
	// Default: "$XDG_DATA_HOME/$NFI_APPNAME" or "$HOME/.local/share/$NFI_APPNAME"
	DATA_HOME string
}

func (s StandardPaths) init() error {
	for _, p := range []string{s.CONFIG_HOME, s.STATE_HOME, s.DATA_HOME} {
		if err := os.MkdirAll(p, 0700); err != nil {
			return errors.Wrapf(err, "failed to create standard path: %s", p)
		}
	}
	return nil
}

type stdpathsBuilder struct {
	home string
	app  string
}

func newStdpathsBuilder() *stdpathsBuilder {
	return &stdpathsBuilder{home: os.Getenv("HOME")}
}

func isSet(val string) bool {
	return !slices.Contains([]string{"", "-"}, val)
}

// bind picks the flag value, then the environment, then the default
func (b *stdpathsBuilder) bind(val, env, def string) string {
	if isSet(val) {
		return val
	}
	if v := os.Getenv(env); isSet(v) {
		return v
	}
	return def
}

// bindToApp is bind, except that locations not given explicitly are nested
// under the app name
func (b *stdpathsBuilder) bindToApp(val, env, def string) string {
	if isSet(val) {
		return val
	}
	return path.Join(b.bind(val, env, def), b.app)
}

// BindStandardPaths fills every unset path in place.
func BindStandardPaths(stdpaths *StandardPaths) *StandardPaths {
	b := newStdpathsBuilder()
	b.app = b.bind(stdpaths.NFI_APPNAME, "NFI_APPNAME", AppName)

	stdpaths.NFI_APPNAME = b.app
	stdpaths.CONFIG_HOME = b.bindToApp(stdpaths.CONFIG_HOME, "XDG_CONFIG_HOME", path.Join(b.home, ".config"))
	stdpaths.STATE_HOME = b.bindToApp(stdpaths.STATE_HOME, "XDG_STATE_HOME", path.Join(b.home, ".local", "state"))
	stdpaths.DATA_HOME = b.bindToApp(stdpaths.DATA_HOME, "XDG_DATA_HOME", path.Join(b.home, ".local", "share"))
	return stdpaths
}

type DatabaseSettings struct {
	Path string
}

type VaultSettings struct {
	// URL-safe base64 of a 32 byte key. Takes precedence over SecretKey.
	EncryptionKey string
	// Secret the key is derived from
	SecretKey string
}

type TaskSettings struct {
	History int
	TTL     time.Duration
}

type Configuration struct {
	paths StandardPaths

	Database  DatabaseSettings
	Vault     VaultSettings
	Collector executor.Config
	Tasks     TaskSettings
}

func (c *Configuration) Paths() StandardPaths {
	return c.paths
}

// Task dispatch settings. Scans are bounded by the collector timeout, the
// task deadline only adds a margin for bookkeeping.
func (c *Configuration) TaskConfig() task.Config {
	return task.Config{
		Timeout: c.Collector.Timeout + time.Minute,
		History: c.Tasks.History,
		TTL:     c.Tasks.TTL,
	}
}

// DefaultConfiguration returns the settings used when no file is given.
func DefaultConfiguration(stdpaths StandardPaths) *Configuration {
	collector := executor.DefaultConfig()
	collector.ScratchDir = stdpaths.STATE_HOME

	return &Configuration{
		paths:     stdpaths,
		Database:  DatabaseSettings{Path: filepath.Join(stdpaths.DATA_HOME, DatabaseFile)},
		Collector: collector,
		Tasks: TaskSettings{
			History: task.DefaultHistory,
			TTL:     task.DefaultTTL,
		},
	}
}

// ParseSettings reads an INI document over the defaults in conf.
func ParseSettings(source any, conf *Configuration) error {
	cfg, err := ini.Load(source)
	if err != nil {
		return errors.Wrap(err, "failed to parse settings")
	}

	db := cfg.Section("database")
	conf.Database.Path = db.Key("path").MustString(conf.Database.Path)

	v := cfg.Section("vault")
	conf.Vault.EncryptionKey = v.Key("encryption_key").MustString(conf.Vault.EncryptionKey)
	conf.Vault.SecretKey = v.Key("secret_key").MustString(conf.Vault.SecretKey)

	col := cfg.Section("collector")
	conf.Collector.Binary = col.Key("binary").MustString(conf.Collector.Binary)
	conf.Collector.Timeout = col.Key("timeout").MustDuration(conf.Collector.Timeout)
	conf.Collector.ScratchDir = col.Key("scratch_dir").MustString(conf.Collector.ScratchDir)
	if col.HasKey("playbook_paths") {
		var paths []string
		for _, p := range col.Key("playbook_paths").Strings(",") {
			if p = strings.TrimSpace(p); p != "" {
				paths = append(paths, p)
			}
		}
		if len(paths) > 0 {
			conf.Collector.Playbooks = paths
		}
	}

	t := cfg.Section("tasks")
	conf.Tasks.History = t.Key("history").MustInt(conf.Tasks.History)
	conf.Tasks.TTL = t.Key("ttl").MustDuration(conf.Tasks.TTL)

	if conf.Collector.Timeout <= 0 {
		return errors.Errorf("invalid collector timeout %s", conf.Collector.Timeout)
	}
	return nil
}

// bindEnv applies the environment overrides for the vault.
func bindEnv(conf *Configuration) {
	if v := os.Getenv("ENCRYPTION_KEY"); v != "" {
		conf.Vault.EncryptionKey = v
	}
	if v := os.Getenv("SECRET_KEY"); v != "" {
		conf.Vault.SecretKey = v
	}
}

// LoadSettings builds the configuration from the defaults, the settings file
// and the environment, in that order. Without an explicit file, the one in
// the config home is used if it exists.
func LoadSettings(fpath string, stdpaths *StandardPaths) (*Configuration, error) {
	if err := stdpaths.init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize standard paths")
	}
	conf := DefaultConfiguration(*stdpaths)

	if !isSet(fpath) {
		fpath = filepath.Join(stdpaths.CONFIG_HOME, SettingsFile)
		if _, err := os.Stat(fpath); err != nil {
			fpath = ""
		}
	}
	if fpath != "" {
		if err := ParseSettings(fpath, conf); err != nil {
			return nil, errors.Wrapf(err, "failed to load settings from %s", fpath)
		}
	}

	bindEnv(conf)
	return conf, nil
}
