package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/chathub-io/chathub/globals"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultUnreadListSize = 20
	defaultGroupMemberCap = 50
)

// Config is the global configuration object which is filled via the configuration file.
type Config struct {
	PersistenceConfig PersistenceConfig `mapstructure:"persistence"`
	PresenceConfig    PresenceConfig    `mapstructure:"presence"`
	BrokerConfig      BrokerConfig      `mapstructure:"broker"`
	HistoryConfig     HistoryConfig     `mapstructure:"history"`
	OIDCConfigs       []OIDCConfig      `mapstructure:"oidc"`
	LogLevel          string            `mapstructure:"log_level"`
}

// PersistenceConfig configures the durable store. Type is either "sqlite" or "postgres",
// the DSN is passed to the respective gorm driver.
type PersistenceConfig struct {
	Type string `mapstructure:"type"`
	DSN  string `mapstructure:"dsn"`
}

// PresenceConfig configures the fast online/last-seen store. Type "buntdb" keeps
// presence in a local file (":memory:" for ephemeral), type "redis" shares it
// across server instances.
type PresenceConfig struct {
	Type string `mapstructure:"type"`
	Path string `mapstructure:"path"` // buntdb file
	Addr string `mapstructure:"addr"` // redis address
}

// BrokerConfig configures the group-messaging bus. Type "memory" is process-local,
// type "nats" bridges groups across server instances via the given URL.
type BrokerConfig struct {
	Type string `mapstructure:"type"`
	URL  string `mapstructure:"url"`
}

// HistoryConfig configures the number of unread notifications sent to a freshly
// connected notification channel, and the cap on group room members.
type HistoryConfig struct {
	UnreadListSize int `mapstructure:"unread_list_size"`
	GroupMemberCap int `mapstructure:"group_member_cap"`
}

// An OIDCConfig object configures an OpenID Connect provider that is used to
// authenticate users. Clients provide an ID token and the name of the provider,
// authentication is then performed via verification of the token.
type OIDCConfig struct {
	Name        string `mapstructure:"name"`
	ClientId    string `mapstructure:"client_id"`
	ProviderUrl string `mapstructure:"provider_url"`
}

func (c *Config) UnreadListSize() int {
	if c.HistoryConfig.UnreadListSize > 0 {
		return c.HistoryConfig.UnreadListSize
	}
	return defaultUnreadListSize
}

func (c *Config) GroupMemberCap() int {
	if c.HistoryConfig.GroupMemberCap > 0 {
		return c.HistoryConfig.GroupMemberCap
	}
	return defaultGroupMemberCap
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.String("log-level", "", "log level (trace/debug/info/warn/error)")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	name = strings.Replace(name, "-", "_", -1)
	return pflag.NormalizedName(name)
}

// ReadConfiguration reads and parses the configuration located at configPath, which can
// either point to a single TOML file or to a directory, in which case all *.toml files
// in this directory are concatenated. It returns a Config object.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	cfg := Config{}
	flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
	viper.SetDefault("log_level", "INFO")
	if err := viper.BindPFlags(flagSet); err != nil {
		globals.AppLogger.Error("could not bind flags (ignored)", "error", err)
	}
	viper.SetEnvPrefix("CHATHUB")
	viper.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		contents := make([]byte, 0)
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		for _, configFile := range files {
			fileContents, err := os.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		viper.SetConfigType("toml")
		if err := viper.ReadConfig(bytes.NewBuffer(contents)); err != nil {
			globals.AppLogger.Error("could not read config", "error", err)
		}
	}
	if err := viper.Unmarshal(&cfg); err != nil {
		globals.AppLogger.Error("could not unmarshal config", "error", err)
	}

	return &cfg, nil
}
