package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"
)

type (
	Config struct {
		TelegramAPIToken string   `env:"TOKEN,required"`
		DefaultLanguage  string   `env:"LANG,default=id"`
		EnabledHandlers  []string `env:"HANDLERS,default=admin,antispam,gatekeeper"`
		LogLevel         int      `env:"LOG_LEVEL,default=2"`
		DotPath          string   `env:"DOT_PATH,default=~/.xbot"`
		OwnerIDs         []int64  `env:"OWNER_IDS"`
		Gateway          Gateway
		Verify           Verify
		SpamControl      SpamControl
		LLM              LLM
		Metrics          Metrics
	}

	Gateway struct {
		MinInterval time.Duration `env:"GATEWAY_MIN_INTERVAL,default=400ms"`
		MaxAttempts int           `env:"GATEWAY_MAX_ATTEMPTS,default=5"`
	}

	Verify struct {
		Timeout time.Duration `env:"VERIFY_TIMEOUT,default=60s"`
	}

	SpamControl struct {
		RetentionWindow  time.Duration `env:"SPAM_RETENTION_WINDOW,default=5m"`
		SweepInterval    time.Duration `env:"SPAM_SWEEP_INTERVAL,default=60s"`
		RestrictDuration time.Duration `env:"SPAM_RESTRICT_DURATION,default=10m"`
	}

	LLM struct {
		APIKey  string `env:"LLM_API_KEY"`
		Model   string `env:"LLM_API_MODEL,default=gpt-4o-mini"`
		BaseURL string `env:"LLM_API_URL,default=https://api.openai.com/v1"`
	}

	Metrics struct {
		ListenAddr string `env:"METRICS_ADDR,default=:2112"`
	}
)

var (
	once         sync.Once
	globalConfig = &Config{}
	globalErr    error
)

func Load() (Config, error) {
	once.Do(func() {
		cfg := &Config{}
		envcfg := envconfig.Config{
			Lookuper: envconfig.PrefixLookuper("XBOT_", envconfig.OsLookuper()),
			Target:   cfg,
		}
		if err := envconfig.ProcessWith(context.Background(), &envcfg); err != nil {
			globalErr = fmt.Errorf("process env config: %w", err)
			return
		}
		log.Traceln("loaded config")
		globalConfig = cfg
	})
	return *globalConfig, globalErr
}

func Get() Config {
	cfg, err := Load()
	if err != nil {
		log.WithField("error", err.Error()).Error("cant load config")
	}
	return cfg
}

// IsOwner reports whether the user is one of the process-wide bot owners.
func (c Config) IsOwner(userID int64) bool {
	for _, id := range c.OwnerIDs {
		if id == userID {
			return true
		}
	}
	return false
}
