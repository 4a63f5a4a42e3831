// Package config loads the server configuration. Values come from
// general.ini plus CLI flags and environment variables.
// Precedence: CLI flags > env vars > general.ini > defaults.
package config

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

// Config holds all runtime configuration for the pushbridge server.
type Config struct {
	ConfigFile string

	Host           string
	Port           int
	TLSCertificate string
	LogFile        string
	Debug          bool
	ReturnAsync    bool
	SpoolDir       string

	// AllowedHosts are the raw ACL entries; AllowedPool the parsed
	// networks. An empty pool admits every caller.
	AllowedHosts []string
	AllowedPool  []*net.IPNet

	AppsConfigFile    string
	CredentialsFolder string

	CassandraContactPoints []string
	CassandraKeyspace      string
	CassandraTable         string

	PostgresDSN string

	LogLevel  string
	LogFormat string
}

// defaults
const (
	defaultConfigFile = "/etc/pushbridge/general.ini"
	defaultHost       = "127.0.0.1"
	defaultPort       = 8400
	defaultSpoolDir   = "/var/spool/pushbridge"
	defaultLogLevel   = "info"
	defaultLogFormat  = "json"
)

// envPrefix is the prefix for all pushbridge environment variables.
const envPrefix = "PUSHBRIDGE_"

// Load parses configuration from CLI flags, environment variables and
// general.ini.
func Load() (*Config, error) {
	return load(os.Args[1:], os.LookupEnv)
}

func load(args []string, lookupEnv func(string) (string, bool)) (*Config, error) {
	cfg := &Config{
		Host:        defaultHost,
		Port:        defaultPort,
		ReturnAsync: true,
		SpoolDir:    defaultSpoolDir,
		LogLevel:    defaultLogLevel,
		LogFormat:   defaultLogFormat,
	}

	fs := flag.NewFlagSet("pushbridge", flag.ContinueOnError)

	var (
		flagConfig    = fs.String("config", "", "path to general.ini")
		flagHost      = fs.String("host", "", "listen address")
		flagPort      = fs.Int("port", 0, "listen port")
		flagSpoolDir  = fs.String("spool-dir", "", "directory for the token spool file")
		flagLogLevel  = fs.String("log-level", "", "log level (debug, info, warn, error)")
		flagLogFormat = fs.String("log-format", "", "log output format (text, json)")
		flagDebug     = fs.Bool("debug", false, "log request and response bodies")
	)

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	cfg.ConfigFile = defaultConfigFile
	explicit := false
	if v, ok := lookupEnv(envPrefix + "CONFIG"); ok && v != "" {
		cfg.ConfigFile, explicit = v, true
	}
	if set["config"] {
		cfg.ConfigFile, explicit = *flagConfig, true
	}

	if err := cfg.applyFile(explicit); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg, set, lookupEnv)

	if set["host"] {
		cfg.Host = *flagHost
	}
	if set["port"] {
		cfg.Port = *flagPort
	}
	if set["spool-dir"] {
		cfg.SpoolDir = *flagSpoolDir
	}
	if set["log-level"] {
		cfg.LogLevel = *flagLogLevel
	}
	if set["log-format"] {
		cfg.LogFormat = *flagLogFormat
	}
	if set["debug"] {
		cfg.Debug = *flagDebug
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyFile loads general.ini over the defaults. A missing file at the
// default location is fine; an explicitly configured one must exist.
func (c *Config) applyFile(explicit bool) error {
	file, err := ini.Load(c.ConfigFile)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return fmt.Errorf("reading %s: %w", c.ConfigFile, err)
	}

	server := file.Section("server")
	c.Host = server.Key("host").MustString(c.Host)
	c.Port = server.Key("port").MustInt(c.Port)
	c.TLSCertificate = server.Key("tls_certificate").String()
	c.LogFile = server.Key("log_file").String()
	c.Debug = server.Key("debug").MustBool(c.Debug)
	c.ReturnAsync = server.Key("return_async").MustBool(c.ReturnAsync)
	c.SpoolDir = server.Key("spool_dir").MustString(c.SpoolDir)
	if hosts := server.Key("allowed_hosts").String(); hosts != "" {
		for _, entry := range strings.Split(hosts, ",") {
			if entry = strings.TrimSpace(entry); entry != "" {
				c.AllowedHosts = append(c.AllowedHosts, entry)
			}
		}
	}

	apps := file.Section("applications")
	c.AppsConfigFile = apps.Key("config_file").String()
	c.CredentialsFolder = apps.Key("credentials_folder").String()

	cassandra := file.Section("cassandra")
	if points := cassandra.Key("cluster_contact_points").String(); points != "" {
		for _, point := range strings.Split(points, ",") {
			if point = strings.TrimSpace(point); point != "" {
				c.CassandraContactPoints = append(c.CassandraContactPoints, point)
			}
		}
	}
	c.CassandraKeyspace = cassandra.Key("keyspace").String()
	c.CassandraTable = cassandra.Key("table").String()

	c.PostgresDSN = file.Section("postgres").Key("dsn").String()

	// Relative application paths are resolved against the config dir.
	configDir := filepath.Dir(c.ConfigFile)
	if c.AppsConfigFile == "" {
		c.AppsConfigFile = filepath.Join(configDir, "applications.ini")
	} else if !filepath.IsAbs(c.AppsConfigFile) {
		c.AppsConfigFile = filepath.Join(configDir, c.AppsConfigFile)
	}
	if c.CredentialsFolder == "" {
		c.CredentialsFolder = filepath.Join(configDir, "credentials")
	} else if !filepath.IsAbs(c.CredentialsFolder) {
		c.CredentialsFolder = filepath.Join(configDir, c.CredentialsFolder)
	}

	return nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > general.ini.
func applyEnvOverrides(cfg *Config, set map[string]bool, lookupEnv func(string) (string, bool)) {
	envMap := map[string]string{
		"host":       envPrefix + "HOST",
		"port":       envPrefix + "PORT",
		"spool-dir":  envPrefix + "SPOOL_DIR",
		"log-level":  envPrefix + "LOG_LEVEL",
		"log-format": envPrefix + "LOG_FORMAT",
		"debug":      envPrefix + "DEBUG",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := lookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "host":
			cfg.Host = val
		case "port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.Port = v
			}
		case "spool-dir":
			cfg.SpoolDir = val
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "debug":
			if v, err := strconv.ParseBool(val); err == nil {
				cfg.Debug = v
			}
		}
	}

	if v, ok := lookupEnv(envPrefix + "POSTGRES_DSN"); ok && v != "" {
		cfg.PostgresDSN = v
	}
}

// validate checks the config values and parses the ACL entries.
func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	if c.Debug {
		c.LogLevel = "debug"
	}

	pool, err := ParseAddressPool(c.AllowedHosts)
	if err != nil {
		return err
	}
	c.AllowedPool = pool

	return nil
}

// ParseAddressPool parses ACL entries into networks. Bare addresses are
// treated as single-host networks.
func ParseAddressPool(entries []string) ([]*net.IPNet, error) {
	var pool []*net.IPNet
	for _, entry := range entries {
		cidr := entry
		if !strings.Contains(cidr, "/") {
			if ip := net.ParseIP(cidr); ip != nil && ip.To4() == nil {
				cidr += "/128"
			} else {
				cidr += "/32"
			}
		}
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("allowed_hosts entry %q: %w", entry, err)
		}
		pool = append(pool, network)
	}
	return pool, nil
}

// HostAllowed reports whether the remote address passes the ACL. An empty
// pool admits everyone.
func (c *Config) HostAllowed(host string) bool {
	if len(c.AllowedPool) == 0 {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, network := range c.AllowedPool {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// SlogHandler returns a slog.Handler configured with the appropriate
// format (text or json) and log level.
func (c *Config) SlogHandler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
