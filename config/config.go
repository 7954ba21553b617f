package config

import (
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/ilyakaznacheev/cleanenv"
)

type (
	Config struct {
		App           `json:"app"           toml:"app"`
		Daemon        `json:"daemon"        toml:"daemon"`
		Limits        `json:"limits"        toml:"limits"`
		HTTP          `json:"http"          toml:"http"`
		DB            `json:"db"            toml:"db"`
		Bridge        `json:"bridge"        toml:"bridge"`
		Notifications `json:"notifications" toml:"notifications"`
	}

	App struct {
		Name        string `json:"name"        toml:"name"        env:"APP_NAME"  env-default:"p2p-reconciler"`
		Environment string `json:"environment" toml:"environment" env:"ENV_NAME"  env-default:"dev"`
		Debug       bool   `json:"debug"       toml:"debug"       env:"DEBUG"     env-default:"false"`
	}

	Daemon struct {
		PollIntervalSeconds     int     `json:"poll_interval_seconds"     toml:"poll_interval_seconds"     env:"POLL_INTERVAL"       env-default:"30"`
		WorkerPoolSize          int     `json:"worker_pool_size"          toml:"worker_pool_size"          env:"WORKER_POOL_SIZE"    env-default:"4"`
		MaxAttempts             int     `json:"max_attempts"              toml:"max_attempts"              env:"MAX_ATTEMPTS"        env-default:"3"`
		ConfirmationWaitSeconds int     `json:"confirmation_wait_seconds" toml:"confirmation_wait_seconds" env:"CONFIRMATION_WAIT"   env-default:"120"`
		ErrorPauseThreshold     int     `json:"error_pause_threshold"     toml:"error_pause_threshold"     env:"ERROR_PAUSE_COUNT"   env-default:"3"`
		ErrorPauseMinutes       int     `json:"error_pause_minutes"       toml:"error_pause_minutes"       env:"ERROR_PAUSE_MINUTES" env-default:"5"`
		VerifyWindowMinutes     int     `json:"verify_window_minutes"     toml:"verify_window_minutes"     env:"VERIFY_WINDOW"       env-default:"30"`
		AmountTolerancePercent  float64 `json:"amount_tolerance_percent"  toml:"amount_tolerance_percent"  env:"AMOUNT_TOLERANCE"    env-default:"1"`
		DryRun                  bool    `json:"dry_run"                   toml:"dry_run"                   env:"DRY_RUN"             env-default:"false"`
	}

	Limits struct {
		MaxPerMinute    int     `json:"max_per_minute"    toml:"max_per_minute"    env:"MAX_TRANSFERS_PER_MINUTE" env-default:"3"`
		MaxPerHour      int     `json:"max_per_hour"      toml:"max_per_hour"      env:"MAX_TRANSFERS_PER_HOUR"   env-default:"20"`
		MaxDailyAmount  float64 `json:"max_daily_amount"  toml:"max_daily_amount"  env:"MAX_DAILY_AMOUNT"         env-default:"50000000"`
		MaxSingleAmount float64 `json:"max_single_amount" toml:"max_single_amount" env:"MAX_SINGLE_AMOUNT"        env-default:"500000"`
	}

	HTTP struct {
		Port string `json:"port" toml:"port" env:"HTTP_PORT" env-default:"8090"`
	}

	DB struct {
		DatabaseURL       string `json:"database_url"        toml:"database_url"        env:"DATABASE_URL" env-required:"true"`
		PoolMax           int32  `json:"pool_max"            toml:"pool_max"            env:"PG_POOL_MAX"           env-default:"4"`
		ConnectTimeout    int    `json:"connect_timeout"     toml:"connect_timeout"     env:"PG_POOL_CONN_TIMEOUT"  env-default:"5"`
		HealthCheckPeriod int    `json:"health_check_period" toml:"health_check_period" env:"PG_POOL_HEALTHCHECK"   env-default:"1"`
	}

	Bridge struct {
		Mock                  bool   `json:"mock"                    toml:"mock"                    env:"BRIDGE_MOCK"            env-default:"false"`
		BaseURL               string `json:"base_url"                toml:"base_url"                env:"BRIDGE_URL"             env-default:"http://127.0.0.1:8765"`
		RequestTimeoutSeconds int    `json:"request_timeout_seconds" toml:"request_timeout_seconds" env:"BRIDGE_REQUEST_TIMEOUT" env-default:"90"`
	}

	Notifications struct {
		Sound   bool `json:"sound"   toml:"sound"   env:"NOTIFY_SOUND"   env-default:"true"`
		Desktop bool `json:"desktop" toml:"desktop" env:"NOTIFY_DESKTOP" env-default:"true"`
	}
)

func LoadConfig() (*Config, error) {
	cfg := &Config{}

	_, b, _, _ := runtime.Caller(0)
	basePath := filepath.Dir(b)

	configTomlPath := filepath.Join(basePath, "config.toml")
	err := cleanenv.ReadConfig(configTomlPath, cfg)
	if err != nil {
		configJsonPath := filepath.Join(basePath, "config.json")
		err = cleanenv.ReadConfig(configJsonPath, cfg)
		if err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	}

	err = cleanenv.ReadEnv(cfg)
	if err != nil {
		return nil, fmt.Errorf("env read error: %w", err)
	}

	return cfg, nil
}
