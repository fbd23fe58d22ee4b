// Package config holds the configuration of the treebuild command.
//
// Values come from three places, in increasing order of precedence: the
// built-in defaults, a JSON configuration file, and command-line flags that
// were set explicitly.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"dario.cat/mergo"
	"github.com/containerd/log"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

const (
	// DefaultConfigFile is read when no configuration file is given. It
	// is allowed to be missing.
	DefaultConfigFile = "/etc/treebuild/config.json"
	// DefaultRoot is the default location of the image store.
	DefaultRoot = "/var/lib/treebuild"

	defaultShell = "/bin/sh"
	defaultPath  = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
)

// Config is the configuration of the treebuild command. The json names of
// the fields are also the names of the flags that override them.
type Config struct {
	Root           string `json:"root,omitempty"`
	TmpDir         string `json:"tmp-dir,omitempty"`
	LogLevel       string `json:"log-level,omitempty"`
	LogFormat      string `json:"log-format,omitempty"`
	GenerateConfig bool   `json:"generate-config,omitempty"`
	KeepTemp       bool   `json:"keep-temp,omitempty"`
	Shell          string `json:"shell,omitempty"`
	DefaultPath    string `json:"default-path,omitempty"`
}

// New returns a Config with the default values.
func New() *Config {
	return &Config{
		Root:        DefaultRoot,
		LogLevel:    "info",
		LogFormat:   string(log.TextFormat),
		Shell:       defaultShell,
		DefaultPath: defaultPath,
	}
}

// MergeConfigurations reads configFile and merges it with the defaults
// and with flagsConfig, the values bound to flags. Only flags that were
// explicitly set take precedence over the file. An empty configFile skips
// the file.
func MergeConfigurations(flagsConfig *Config, flags *pflag.FlagSet, configFile string) (*Config, error) {
	fileConfig := &Config{}
	if configFile != "" {
		var err error
		fileConfig, err = getConflictFreeConfiguration(configFile, flags)
		if err != nil {
			return nil, err
		}
	}

	conf := New()
	if err := mergo.Merge(conf, fileConfig, mergo.WithOverride); err != nil {
		return nil, errors.Wrap(err, "failed to merge configuration file")
	}
	if flags != nil {
		applyChangedFlags(conf, flagsConfig, flags)
	}

	if err := Validate(conf); err != nil {
		return nil, err
	}
	return conf, nil
}

// getConflictFreeConfiguration loads the configuration file and rejects
// directives that do not map to a configuration option.
func getConflictFreeConfiguration(configFile string, flags *pflag.FlagSet) (*Config, error) {
	b, err := os.ReadFile(configFile)
	if err != nil {
		return nil, err
	}
	// strip the UTF-8 byte order mark, editors on Windows like to add one
	b = bytes.TrimPrefix(b, []byte("\xef\xbb\xbf"))

	var config Config
	if len(bytes.TrimSpace(b)) == 0 {
		return &config, nil
	}

	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	if err := findConfigurationConflicts(raw, flags); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// findConfigurationConflicts returns an error for unknown directives in
// the file. Directives that are also set as flags are logged; the flag
// wins.
func findConfigurationConflicts(config map[string]any, flags *pflag.FlagSet) error {
	known := fieldNames()
	var unknown []string
	for key := range config {
		if _, ok := known[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return errors.Errorf("the following directives don't match any configuration option: %s", strings.Join(unknown, ", "))
	}

	if flags == nil {
		return nil
	}
	var conflicts []string
	flags.Visit(func(f *pflag.Flag) {
		if value, ok := config[f.Name]; ok {
			conflicts = append(conflicts, fmt.Sprintf("%s: (from flag: %v, from file: %v)", f.Name, f.Value, value))
		}
	})
	if len(conflicts) > 0 {
		log.L.Debugf("flags override configuration file: %s", strings.Join(conflicts, ", "))
	}
	return nil
}

// applyChangedFlags copies the fields whose flag was set from src to dst.
func applyChangedFlags(dst, src *Config, flags *pflag.FlagSet) {
	dv := reflect.ValueOf(dst).Elem()
	sv := reflect.ValueOf(src).Elem()
	for name, i := range fieldNames() {
		if f := flags.Lookup(name); f != nil && f.Changed {
			dv.Field(i).Set(sv.Field(i))
		}
	}
}

// fieldNames maps the json names of Config to field indices.
func fieldNames() map[string]int {
	t := reflect.TypeOf(Config{})
	names := make(map[string]int, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		names[name] = i
	}
	return names
}

// Validate checks the configuration for invalid values.
func Validate(conf *Config) error {
	if _, err := logrus.ParseLevel(conf.LogLevel); err != nil {
		return errors.Errorf("invalid log level: %s", conf.LogLevel)
	}
	switch log.OutputFormat(conf.LogFormat) {
	case log.TextFormat, log.JSONFormat:
	default:
		return errors.Errorf("invalid log format: %s", conf.LogFormat)
	}
	if conf.Root == "" || !filepath.IsAbs(conf.Root) {
		return errors.Errorf("root must be an absolute path: %q", conf.Root)
	}
	if conf.Shell == "" || !filepath.IsAbs(conf.Shell) {
		return errors.Errorf("shell must be an absolute path: %q", conf.Shell)
	}
	if conf.DefaultPath == "" {
		return errors.New("default-path must not be empty")
	}
	return nil
}
