package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rpattn/staffsync/internal/db"
	"github.com/rpattn/staffsync/internal/payroll"
)

// Config is the full service configuration.
type Config struct {
	Database db.Config
	Payroll  payroll.Config
	// CallTimeout bounds each outbound payroll request.
	CallTimeout time.Duration
	ListenAddr  string
	// Workers bounds cross-employee parallelism during reconstruction.
	Workers int
}

// Load reads config.yaml from configPath (optional) with environment
// overrides. Only the payroll credentials are required; everything else has
// a sensible default.
func Load(configPath string) (Config, error) {
	cfg := Config{
		Database:    db.DefaultConfig(),
		CallTimeout: 15 * time.Second,
		ListenAddr:  ":8080",
		Workers:     4,
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("STAFFSYNC")
	// Map nested keys onto flat env vars: STAFFSYNC_DATABASE_HOST and so on.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("payroll.base_url")
	v.BindEnv("payroll.api_token")
	v.BindEnv("payroll.rate_limit")
	v.BindEnv("payroll.call_timeout")
	v.BindEnv("server.listen_addr")
	v.BindEnv("server.workers")

	if err := v.ReadInConfig(); err != nil {
		fmt.Println("No config.yaml found, using defaults and env vars")
	} else {
		fmt.Println("Loaded config.yaml")
	}

	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("payroll.base_url") {
		cfg.Payroll.BaseURL = v.GetString("payroll.base_url")
	}
	if v.IsSet("payroll.api_token") {
		cfg.Payroll.APIToken = v.GetString("payroll.api_token")
	}
	if v.IsSet("payroll.rate_limit") {
		cfg.Payroll.RateLimit = v.GetFloat64("payroll.rate_limit")
	}
	if v.IsSet("payroll.call_timeout") {
		cfg.CallTimeout = v.GetDuration("payroll.call_timeout")
	}
	if v.IsSet("server.listen_addr") {
		cfg.ListenAddr = v.GetString("server.listen_addr")
	}
	if v.IsSet("server.workers") {
		cfg.Workers = v.GetInt("server.workers")
	}

	return cfg, nil
}
