// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/cacheguard/lib/fleet"
	"github.com/bureau-foundation/cacheguard/lib/joblocate"
	"github.com/bureau-foundation/cacheguard/lib/remediate"
	"github.com/bureau-foundation/cacheguard/lib/remote"
	"github.com/bureau-foundation/cacheguard/lib/usage"
)

// EnvVar names the environment variable read by Load.
const EnvVar = "CACHEGUARD_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the complete cacheguard configuration.
type Config struct {
	Environment Environment `yaml:"environment" validate:"oneof=development staging production"`

	// CacheDir is the YARN usercache root on every worker.
	CacheDir string `yaml:"cache_dir" validate:"required,startswith=/,ne=/"`

	// ThresholdPercent is the usage at or above which a worker is
	// remediated.
	ThresholdPercent float64 `yaml:"threshold_percent" validate:"gte=0,lte=100"`

	// PercentTolerance is how far df's rounded percentage may drift
	// from used/total before the byte count wins.
	PercentTolerance float64 `yaml:"percent_tolerance" validate:"gt=0,lte=100"`

	Concurrency int           `yaml:"concurrency" validate:"gte=1,lte=4096"`
	Timeout     time.Duration `yaml:"timeout" validate:"gt=0"`

	// DialRate caps new SSH connections per second. Zero is unlimited.
	DialRate float64 `yaml:"dial_rate" validate:"gte=0"`

	DryRun bool `yaml:"dry_run"`

	SSH SSHConfig `yaml:"ssh"`

	// Workers lists hosts explicitly. WorkerCount generates
	// WorkerPrefix01..NN instead; the two are mutually exclusive.
	Workers      []WorkerConfig `yaml:"workers" validate:"dive"`
	WorkerCount  int            `yaml:"worker_count" validate:"gte=0"`
	WorkerPrefix string         `yaml:"worker_prefix"`

	Jobs JobsConfig `yaml:"jobs"`

	Development *Overrides `yaml:"development,omitempty" validate:"-"`
	Staging     *Overrides `yaml:"staging,omitempty" validate:"-"`
	Production  *Overrides `yaml:"production,omitempty" validate:"-"`
}

// SSHConfig is the connection default shared by all workers.
type SSHConfig struct {
	User    string `yaml:"user"`
	KeyFile string `yaml:"key_file"`

	// KnownHostsFile verifies worker host keys. Required unless
	// InsecureIgnoreHostKey is set.
	KnownHostsFile        string `yaml:"known_hosts_file"`
	InsecureIgnoreHostKey bool   `yaml:"insecure_ignore_host_key"`

	UseAgent       bool          `yaml:"use_agent"`
	Port           int           `yaml:"port" validate:"gte=0,lte=65535"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" validate:"gte=0"`
}

// WorkerConfig is one explicitly listed worker. Empty fields inherit
// from SSHConfig.
type WorkerConfig struct {
	Host      string `yaml:"host" validate:"required,hostname_rfc1123|ip"`
	Port      int    `yaml:"port" validate:"gte=0,lte=65535"`
	User      string `yaml:"user"`
	KeyFile   string `yaml:"key_file"`
	UseAgent  *bool  `yaml:"use_agent"`
	Transport string `yaml:"transport" validate:"omitempty,oneof=ssh local"`
}

// JobsConfig configures how running jobs are found and killed.
type JobsConfig struct {
	ListCommand  string        `yaml:"list_command" validate:"required"`
	KillCommand  string        `yaml:"kill_command" validate:"required"`
	KillGrace    time.Duration `yaml:"kill_grace" validate:"gte=0"`
	NamePrefix   string        `yaml:"name_prefix"`
	OrphanMinAge time.Duration `yaml:"orphan_min_age" validate:"gt=0"`
}

// Overrides are per-environment replacements. Nil fields keep the
// base value.
type Overrides struct {
	CacheDir              *string        `yaml:"cache_dir,omitempty"`
	ThresholdPercent      *float64       `yaml:"threshold_percent,omitempty"`
	Concurrency           *int           `yaml:"concurrency,omitempty"`
	Timeout               *time.Duration `yaml:"timeout,omitempty"`
	DialRate              *float64       `yaml:"dial_rate,omitempty"`
	DryRun                *bool          `yaml:"dry_run,omitempty"`
	KnownHostsFile        *string        `yaml:"known_hosts_file,omitempty"`
	InsecureIgnoreHostKey *bool          `yaml:"insecure_ignore_host_key,omitempty"`
}

// Default returns the configuration every file is layered onto. It is
// complete except for workers.
func Default() *Config {
	return &Config{
		Environment:      Development,
		CacheDir:         "/var/hadoop/data/usercache",
		ThresholdPercent: 80,
		PercentTolerance: usage.DefaultTolerance,
		Concurrency:      fleet.DefaultConcurrency,
		Timeout:          fleet.DefaultTimeout,
		DialRate:         20,
		SSH: SSHConfig{
			User:           "hadoop",
			KeyFile:        "${HOME}/.ssh/id_ed25519",
			KnownHostsFile: "${HOME}/.ssh/known_hosts",
			Port:           remote.DefaultSSHPort,
			ConnectTimeout: remote.DefaultConnectTimeout,
		},
		WorkerPrefix: fleet.DefaultWorkerPrefix,
		Jobs: JobsConfig{
			ListCommand:  joblocate.DefaultListCommand,
			KillCommand:  remediate.DefaultKillCommand,
			KillGrace:    remediate.DefaultKillGrace,
			NamePrefix:   joblocate.DefaultNamePrefix,
			OrphanMinAge: joblocate.DefaultOrphanMinAge,
		},
	}
}

// Load loads the file named by CACHEGUARD_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvVar)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your cacheguard.yaml config file, or use --config flag", EnvVar)
	}
	return LoadFile(configPath)
}

// Resolve picks the configuration source for a command: path when
// set, else the file named by CACHEGUARD_CONFIG, else the defaults
// alone, in which case workers must come from flags.
func Resolve(path string) (*Config, error) {
	if path != "" {
		return LoadFile(path)
	}
	if os.Getenv(EnvVar) != "" {
		return Load()
	}
	cfg := Default()
	cfg.expandVariables()
	return cfg, nil
}

// LoadFile loads configuration from path. The result is not validated;
// callers apply flag overrides first and then call Validate.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

// loadFile merges a file into c. JSON is a subset of YAML, so JSONC is
// stripped to JSON and decoded with the same YAML tags.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if overrides.CacheDir != nil {
		c.CacheDir = *overrides.CacheDir
	}
	if overrides.ThresholdPercent != nil {
		c.ThresholdPercent = *overrides.ThresholdPercent
	}
	if overrides.Concurrency != nil {
		c.Concurrency = *overrides.Concurrency
	}
	if overrides.Timeout != nil {
		c.Timeout = *overrides.Timeout
	}
	if overrides.DialRate != nil {
		c.DialRate = *overrides.DialRate
	}
	if overrides.DryRun != nil {
		c.DryRun = *overrides.DryRun
	}
	if overrides.KnownHostsFile != nil {
		c.SSH.KnownHostsFile = *overrides.KnownHostsFile
	}
	if overrides.InsecureIgnoreHostKey != nil {
		c.SSH.InsecureIgnoreHostKey = *overrides.InsecureIgnoreHostKey
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} in path fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.CacheDir = expandVars(c.CacheDir, vars)
	c.SSH.KeyFile = expandVars(c.SSH.KeyFile, vars)
	c.SSH.KnownHostsFile = expandVars(c.SSH.KnownHostsFile, vars)
	for index := range c.Workers {
		c.Workers[index].KeyFile = expandVars(c.Workers[index].KeyFile, vars)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field constraints and the rules that span fields.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if err := validate.Struct(c); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			for _, fieldError := range validationErrors {
				errs = append(errs, describe(fieldError))
			}
		} else {
			errs = append(errs, err)
		}
	}

	if len(c.Workers) > 0 && c.WorkerCount > 0 {
		errs = append(errs, fmt.Errorf("workers and worker_count are mutually exclusive"))
	}
	if len(c.Workers) == 0 && c.WorkerCount == 0 {
		errs = append(errs, fmt.Errorf("no workers configured: set workers or worker_count"))
	}
	if !c.SSH.InsecureIgnoreHostKey && c.SSH.KnownHostsFile == "" && c.needsSSH() {
		errs = append(errs, fmt.Errorf("ssh.known_hosts_file is required unless ssh.insecure_ignore_host_key is set"))
	}
	if c.Environment == Production && c.SSH.InsecureIgnoreHostKey {
		errs = append(errs, fmt.Errorf("ssh.insecure_ignore_host_key is not allowed in production"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// describe renders a validation failure with the YAML field path.
func describe(fieldError validator.FieldError) error {
	namespace := fieldError.Namespace()
	if _, rest, found := strings.Cut(namespace, "."); found {
		namespace = rest
	}
	if fieldError.Param() != "" {
		return fmt.Errorf("%s: failed %s=%s (value %v)", namespace, fieldError.Tag(), fieldError.Param(), fieldError.Value())
	}
	return fmt.Errorf("%s: failed %s (value %v)", namespace, fieldError.Tag(), fieldError.Value())
}

func (c *Config) needsSSH() bool {
	if c.WorkerCount > 0 {
		return true
	}
	for _, worker := range c.Workers {
		if worker.Transport != string(remote.TransportLocal) {
			return true
		}
	}
	return false
}

// Targets resolves the configured workers into fleet targets.
func (c *Config) Targets() ([]fleet.Target, error) {
	defaults := fleet.Defaults{
		Port:     c.SSH.Port,
		User:     c.SSH.User,
		KeyFile:  c.SSH.KeyFile,
		UseAgent: c.SSH.UseAgent,
	}

	var specs []fleet.WorkerSpec
	if c.WorkerCount > 0 {
		for _, host := range fleet.ExpandWorkers(c.WorkerCount, c.WorkerPrefix) {
			specs = append(specs, fleet.WorkerSpec{Host: host})
		}
	}
	for _, worker := range c.Workers {
		specs = append(specs, fleet.WorkerSpec{
			Host:      worker.Host,
			Port:      worker.Port,
			User:      worker.User,
			KeyFile:   worker.KeyFile,
			UseAgent:  worker.UseAgent,
			Transport: remote.Transport(worker.Transport),
		})
	}
	return fleet.ResolveTargets(defaults, specs)
}

// SetWorkers replaces the worker list with hosts, clearing any
// generated count. Used by the --workers flag.
func (c *Config) SetWorkers(hosts []string) {
	c.WorkerCount = 0
	c.Workers = make([]WorkerConfig, len(hosts))
	for index, host := range hosts {
		c.Workers[index] = WorkerConfig{Host: host}
	}
}
