package internal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNoConfig is returned by LoadLocal when no config file exists.
var ErrNoConfig = errors.New("no config file found")

// FileConfig is the on-disk YAML configuration. Unset keys are nil and leave
// the corresponding option untouched.
type FileConfig struct {
	LogLevel      *string  `yaml:"log_level"`
	LogFile       *string  `yaml:"log_file"`
	Threads       *int     `yaml:"threads"`
	EngineTimeout *string  `yaml:"engine_timeout"`
	MaxItemSize   *string  `yaml:"max_item_size"`
	MailboxLimit  *int     `yaml:"mailbox_limit"`
	Unsafe        *bool    `yaml:"unsafe"`
	Rules         []string `yaml:"rules"`
	WatchRules    *bool    `yaml:"watch_rules"`

	Walk *WalkConfig `yaml:"walk"`
}

type WalkConfig struct {
	Depth         *int     `yaml:"depth"`
	Archives      *bool    `yaml:"archives"`
	SniffArchives *bool    `yaml:"sniff_archives"`
	MaxEntries    *int     `yaml:"max_entries"`
	Whitelist     []string `yaml:"whitelist"`
	Blacklist     []string `yaml:"blacklist"`
	Include       []string `yaml:"include"`
	Exclude       []string `yaml:"exclude"`
}

// LoadFile reads a YAML config file from the provided path.
func LoadFile(path string) (FileConfig, error) {
	var cfg FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadLocal looks for .scriptscan.yml/.yaml or scriptscan.yml/.yaml in dir.
func LoadLocal(dir string) (FileConfig, string, error) {
	for _, name := range []string{".scriptscan.yml", ".scriptscan.yaml", "scriptscan.yml", "scriptscan.yaml"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			cfg, err := LoadFile(p)
			return cfg, p, err
		}
	}
	return FileConfig{}, "", ErrNoConfig
}

// Apply copies the values set in the file into o. isSet reports whether a
// command line flag of the given name was given explicitly; flags win.
func (c FileConfig) Apply(o *Options, isSet func(flag string) bool) error {
	if isSet == nil {
		isSet = func(string) bool { return false }
	}
	setStr(&o.LogLevel, c.LogLevel, isSet("log-level"))
	setStr(&o.LogFile, c.LogFile, isSet("logfile"))
	setStr(&o.MaxItemSize, c.MaxItemSize, isSet("max-item-size"))
	setInt(&o.Threads, c.Threads, isSet("threads"))
	setInt(&o.MailboxLimit, c.MailboxLimit, isSet("mailbox-limit"))
	setBool(&o.Unsafe, c.Unsafe, isSet("unsafe-mode"))
	setBool(&o.WatchRules, c.WatchRules, isSet("watch-rules"))
	if c.EngineTimeout != nil && !isSet("engine-timeout") {
		d, err := time.ParseDuration(*c.EngineTimeout)
		if err != nil {
			return fmt.Errorf("invalid engine_timeout %q: %w", *c.EngineTimeout, err)
		}
		o.EngineTimeout = d
	}
	if len(c.Rules) > 0 && !isSet("rules") {
		o.Rules = append([]string(nil), c.Rules...)
	}
	if w := c.Walk; w != nil {
		setInt(&o.Walk.Depth, w.Depth, isSet("depth"))
		setBool(&o.Walk.Archives, w.Archives, isSet("archives"))
		setBool(&o.Walk.SniffArchives, w.SniffArchives, isSet("sniff-archives"))
		setInt(&o.Walk.MaxArchiveFiles, w.MaxEntries, isSet("max-archive-files"))
		setList(&o.Walk.Whitelist, w.Whitelist, isSet("whitelist"))
		setList(&o.Walk.Blacklist, w.Blacklist, isSet("blacklist"))
		setList(&o.Walk.Include, w.Include, isSet("include"))
		setList(&o.Walk.Exclude, w.Exclude, isSet("exclude"))
	}
	return nil
}

func setStr(dst *string, v *string, flagSet bool) {
	if v != nil && !flagSet {
		*dst = *v
	}
}

func setInt(dst *int, v *int, flagSet bool) {
	if v != nil && !flagSet {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool, flagSet bool) {
	if v != nil && !flagSet {
		*dst = *v
	}
}

func setList(dst *[]string, v []string, flagSet bool) {
	if len(v) > 0 && !flagSet {
		*dst = append([]string(nil), v...)
	}
}
