// Package config loads the auction daemon configuration from YAML with
// SEALEDBID_* environment overrides.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/cloudx-io/sealedbid/store/mysql"
)

// Enclave connection modes.
const (
	EnclaveEmbedded = "embedded"
	EnclaveTCP      = "tcp"
	EnclaveVsock    = "vsock"
)

// Store drivers.
const (
	StoreMemory = "memory"
	StoreMySQL  = "mysql"
)

type Config struct {
	Log     LogConfig     `yaml:"log"`
	Engine  EngineConfig  `yaml:"engine"`
	Enclave EnclaveConfig `yaml:"enclave"`
	Oracle  OracleConfig  `yaml:"oracle"`
	Keeper  KeeperConfig  `yaml:"keeper"`
	API     APIConfig     `yaml:"api"`
	Store   StoreConfig   `yaml:"store"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

type EngineConfig struct {
	Address         string   `yaml:"address"`
	Operators       []string `yaml:"operators"`
	Keepers         []string `yaml:"keepers"`
	AllowPlainClose bool     `yaml:"allow_plain_close"`
}

type EnclaveConfig struct {
	Mode    string        `yaml:"mode"`
	Addr    string        `yaml:"addr"` // tcp mode
	CID     uint32        `yaml:"cid"`  // vsock mode
	Port    uint32        `yaml:"port"` // vsock mode
	ZKDir   string        `yaml:"zk_dir"`
	Timeout time.Duration `yaml:"timeout"`
}

type OracleConfig struct {
	Identity        string        `yaml:"identity"`
	Workers         int           `yaml:"workers"`
	QueueSize       int           `yaml:"queue_size"`
	MaxElapsed      time.Duration `yaml:"max_elapsed"`
	InitialInterval time.Duration `yaml:"initial_interval"`
}

type KeeperConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Identity string        `yaml:"identity"`
	Interval time.Duration `yaml:"interval"`
	Plain    bool          `yaml:"plain"`
}

type APIConfig struct {
	Port      int     `yaml:"port"`
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

type StoreConfig struct {
	Driver string       `yaml:"driver"`
	MySQL  mysql.Config `yaml:"mysql"`
}

// Default returns a development configuration: embedded enclave, in-memory
// store, keeper enabled.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Engine: EngineConfig{
			Address: "0x00000000000000000000000000000000000a0c71",
		},
		Enclave: EnclaveConfig{
			Mode:    EnclaveEmbedded,
			Addr:    "127.0.0.1:5000",
			CID:     16,
			Port:    5000,
			Timeout: 30 * time.Second,
		},
		Oracle: OracleConfig{
			Identity:        "0x0000000000000000000000000000000000fac1e0",
			Workers:         4,
			QueueSize:       64,
			MaxElapsed:      2 * time.Minute,
			InitialInterval: 500 * time.Millisecond,
		},
		Keeper: KeeperConfig{
			Enabled:  true,
			Identity: "0x00000000000000000000000000000000000cee9e",
			Interval: 15 * time.Second,
		},
		API:   APIConfig{Port: 8080},
		Store: StoreConfig{Driver: StoreMemory},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path yields the defaults
// plus environment.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "fail to open config file")
		}
	}
	return Parse(data, os.LookupEnv)
}

// Parse is Load over in-memory YAML and an explicit environment lookup.
func Parse(data []byte, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "parse config")
		}
	}
	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseAddress(field, v string) (common.Address, error) {
	if !common.IsHexAddress(v) {
		return common.Address{}, errors.Errorf("%s: invalid address %q", field, v)
	}
	return common.HexToAddress(v), nil
}

func parseAddresses(field string, vs []string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(vs))
	for _, v := range vs {
		a, err := parseAddress(field, v)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Validate checks every field the daemons depend on.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return errors.Errorf("log.format: want text or json, got %q", c.Log.Format)
	}

	if _, err := parseAddress("engine.address", c.Engine.Address); err != nil {
		return err
	}
	if _, err := parseAddresses("engine.operators", c.Engine.Operators); err != nil {
		return err
	}
	if _, err := parseAddresses("engine.keepers", c.Engine.Keepers); err != nil {
		return err
	}

	switch c.Enclave.Mode {
	case EnclaveEmbedded:
	case EnclaveTCP:
		if c.Enclave.Addr == "" {
			return errors.New("enclave.addr is required in tcp mode")
		}
	case EnclaveVsock:
		if c.Enclave.CID == 0 || c.Enclave.Port == 0 {
			return errors.New("enclave.cid and enclave.port are required in vsock mode")
		}
	default:
		return errors.Errorf("enclave.mode: unknown mode %q", c.Enclave.Mode)
	}

	if _, err := parseAddress("oracle.identity", c.Oracle.Identity); err != nil {
		return err
	}
	if c.Oracle.Workers <= 0 || c.Oracle.QueueSize <= 0 {
		return errors.Errorf("oracle: workers and queue_size must be positive, got %d and %d", c.Oracle.Workers, c.Oracle.QueueSize)
	}

	if c.Keeper.Enabled {
		if _, err := parseAddress("keeper.identity", c.Keeper.Identity); err != nil {
			return err
		}
		if c.Keeper.Interval <= 0 {
			return errors.Errorf("keeper.interval must be positive, got %s", c.Keeper.Interval)
		}
		if c.Keeper.Plain && !c.Engine.AllowPlainClose {
			return errors.New("keeper.plain requires engine.allow_plain_close")
		}
	}

	if c.API.Port <= 0 || c.API.Port > 65535 {
		return errors.Errorf("api.port out of range: %d", c.API.Port)
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StoreMySQL:
		if c.Store.MySQL.Master.Host == "" || c.Store.MySQL.Master.DBName == "" {
			return errors.New("store.mysql.master host and db_name are required")
		}
	default:
		return errors.Errorf("store.driver: unknown driver %q", c.Store.Driver)
	}
	return nil
}

// EngineAddress returns the engine's validated identity.
func (c *Config) EngineAddress() common.Address {
	return common.HexToAddress(c.Engine.Address)
}

func (c *Config) OracleAddress() common.Address {
	return common.HexToAddress(c.Oracle.Identity)
}

func (c *Config) KeeperAddress() common.Address {
	return common.HexToAddress(c.Keeper.Identity)
}

func (c *Config) Operators() []common.Address {
	out, _ := parseAddresses("", c.Engine.Operators)
	return out
}

// Keepers lists the engine's keeper allowlist. An enabled keeper is always
// on it.
func (c *Config) Keepers() []common.Address {
	out, _ := parseAddresses("", c.Engine.Keepers)
	if c.Keeper.Enabled {
		k := c.KeeperAddress()
		for _, a := range out {
			if a == k {
				return out
			}
		}
		out = append(out, k)
	}
	return out
}

// ConfigureLogger applies the log level and format to l.
func (c *Config) ConfigureLogger(l *logrus.Logger) error {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return errors.Wrap(err, "log.level")
	}
	l.SetLevel(level)
	if strings.EqualFold(c.Log.Format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
