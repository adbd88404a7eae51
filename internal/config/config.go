package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	"panorama-rulefinder/internal/panorama"
)

// EnvPrefix prefixes every environment override, e.g. RULEFINDER_PANORAMA_API_KEY.
const EnvPrefix = "rulefinder"

// Keys shared by the config file, the environment and the command line flags.
const (
	KeyHost         = "panorama.host"
	KeyAPIKey       = "panorama.api_key"
	KeyPort         = "panorama.port"
	KeyDevice       = "panorama.device"
	KeyRulebase     = "panorama.rulebase"
	KeyTimeout      = "panorama.timeout"
	KeyDeviceGroups = "device_groups"
	KeyDBDriver     = "database.driver"
	KeyDBDSN        = "database.dsn"
	KeyDNSServer    = "dns.server"
	KeyDNSTimeout   = "dns.timeout"
	KeyLogLevel     = "log.level"
	KeyLogFile      = "log.file"
	KeyListen       = "server.listen"
	KeyStrict       = "sync.strict"
	KeyDedupe       = "search.dedupe"
)

type Database struct {
	Driver string // "mysql" or "sqlite"
	DSN    string
}

type Config struct {
	Panorama     panorama.Config
	DeviceGroups []string
	Database     Database
	DNSServer    string // empty uses the system resolver
	DNSTimeout   time.Duration
	LogLevel     string
	LogFile      string
	Listen       string
	Strict       bool
	Dedupe       bool
}

// New returns a viper instance with defaults and environment overrides set up.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyPort, panorama.DefaultPort)
	v.SetDefault(KeyDevice, panorama.DefaultDevice)
	v.SetDefault(KeyRulebase, panorama.PostRulebase)
	v.SetDefault(KeyDBDriver, "mysql")
	v.SetDefault(KeyDNSTimeout, 2*time.Second)
	v.SetDefault(KeyLogLevel, "INFO")
	v.SetDefault(KeyListen, "127.0.0.1:8080")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path when given and resolves every key into a Config.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "could not read config file %s", path)
		}
	}

	return &Config{
		Panorama: panorama.Config{
			Host:     v.GetString(KeyHost),
			APIKey:   v.GetString(KeyAPIKey),
			Port:     v.GetInt(KeyPort),
			Device:   v.GetString(KeyDevice),
			Rulebase: v.GetString(KeyRulebase),
			Timeout:  v.GetDuration(KeyTimeout),
		},
		DeviceGroups: splitList(v.GetStringSlice(KeyDeviceGroups)),
		Database: Database{
			Driver: strings.ToLower(v.GetString(KeyDBDriver)),
			DSN:    v.GetString(KeyDBDSN),
		},
		DNSServer:  v.GetString(KeyDNSServer),
		DNSTimeout: v.GetDuration(KeyDNSTimeout),
		LogLevel:   v.GetString(KeyLogLevel),
		LogFile:    v.GetString(KeyLogFile),
		Listen:     v.GetString(KeyListen),
		Strict:     v.GetBool(KeyStrict),
		Dedupe:     v.GetBool(KeyDedupe),
	}, nil
}

// splitList accepts both list values and comma separated strings, as
// environment variables only carry the latter.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// ValidateAPI checks the settings needed to reach the management API.
func (c *Config) ValidateAPI() error {
	if c.Panorama.Host == "" {
		return errors.Newf("panorama host is required (flag --host, key %s or env RULEFINDER_PANORAMA_HOST)", KeyHost)
	}
	if c.Panorama.APIKey == "" {
		return errors.Newf("panorama api key is required (key %s or env RULEFINDER_PANORAMA_API_KEY)", KeyAPIKey)
	}
	return nil
}

// ValidateDatabase checks the settings needed to open the rule store.
func (c *Config) ValidateDatabase() error {
	switch c.Database.Driver {
	case "mysql", "mariadb", "sqlite", "sqlite3":
	default:
		return errors.Newf("unsupported database driver %q: want mysql or sqlite", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.Newf("database dsn is required (flag --db, key %s or env RULEFINDER_DATABASE_DSN)", KeyDBDSN)
	}
	return nil
}
