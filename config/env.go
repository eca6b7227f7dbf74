package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const envPrefix = "SEALEDBID_"

type override struct {
	key   string
	apply func(c *Config, v string) error
}

func setString(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func setInt(dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func setUint32(dst func(*Config) *uint32) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return err
		}
		*dst(c) = uint32(n)
		return nil
	}
}

func setBool(dst func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

func setDuration(dst func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

func setList(dst func(*Config) *[]string) func(*Config, string) error {
	return func(c *Config, v string) error {
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		*dst(c) = out
		return nil
	}
}

var overrides = []override{
	{"LOG_LEVEL", setString(func(c *Config) *string { return &c.Log.Level })},
	{"LOG_FORMAT", setString(func(c *Config) *string { return &c.Log.Format })},

	{"ENGINE_ADDRESS", setString(func(c *Config) *string { return &c.Engine.Address })},
	{"ENGINE_OPERATORS", setList(func(c *Config) *[]string { return &c.Engine.Operators })},
	{"ENGINE_KEEPERS", setList(func(c *Config) *[]string { return &c.Engine.Keepers })},
	{"ENGINE_ALLOW_PLAIN_CLOSE", setBool(func(c *Config) *bool { return &c.Engine.AllowPlainClose })},

	{"ENCLAVE_MODE", setString(func(c *Config) *string { return &c.Enclave.Mode })},
	{"ENCLAVE_ADDR", setString(func(c *Config) *string { return &c.Enclave.Addr })},
	{"ENCLAVE_CID", setUint32(func(c *Config) *uint32 { return &c.Enclave.CID })},
	{"ENCLAVE_PORT", setUint32(func(c *Config) *uint32 { return &c.Enclave.Port })},
	{"ENCLAVE_ZK_DIR", setString(func(c *Config) *string { return &c.Enclave.ZKDir })},

	{"ORACLE_IDENTITY", setString(func(c *Config) *string { return &c.Oracle.Identity })},
	{"ORACLE_WORKERS", setInt(func(c *Config) *int { return &c.Oracle.Workers })},
	{"ORACLE_QUEUE_SIZE", setInt(func(c *Config) *int { return &c.Oracle.QueueSize })},
	{"ORACLE_MAX_ELAPSED", setDuration(func(c *Config) *time.Duration { return &c.Oracle.MaxElapsed })},

	{"KEEPER_ENABLED", setBool(func(c *Config) *bool { return &c.Keeper.Enabled })},
	{"KEEPER_IDENTITY", setString(func(c *Config) *string { return &c.Keeper.Identity })},
	{"KEEPER_INTERVAL", setDuration(func(c *Config) *time.Duration { return &c.Keeper.Interval })},
	{"KEEPER_PLAIN", setBool(func(c *Config) *bool { return &c.Keeper.Plain })},

	{"API_PORT", setInt(func(c *Config) *int { return &c.API.Port })},
	{"API_RATE_LIMIT", func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		c.API.RateLimit = f
		return nil
	}},

	{"STORE_DRIVER", setString(func(c *Config) *string { return &c.Store.Driver })},
	{"MYSQL_HOST", setString(func(c *Config) *string { return &c.Store.MySQL.Master.Host })},
	{"MYSQL_PORT", func(c *Config, v string) error {
		n, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return err
		}
		c.Store.MySQL.Master.Port = uint(n)
		return nil
	}},
	{"MYSQL_USER", setString(func(c *Config) *string { return &c.Store.MySQL.Master.Username })},
	{"MYSQL_PASSWORD", setString(func(c *Config) *string { return &c.Store.MySQL.Master.Password })},
	{"MYSQL_DB", setString(func(c *Config) *string { return &c.Store.MySQL.Master.DBName })},
}

func applyEnv(c *Config, lookup func(string) (string, bool)) error {
	for _, o := range overrides {
		v, ok := lookup(envPrefix + o.key)
		if !ok {
			continue
		}
		if err := o.apply(c, v); err != nil {
			return errors.Wrapf(err, "%s%s", envPrefix, o.key)
		}
	}
	return nil
}
