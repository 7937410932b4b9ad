package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const envPrefix = "TASKBOT_"

// LoadDotEnv loads KEY=VALUE pairs from path into the process
// environment. Variables already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// applyEnv overlays TASKBOT_* variables on cfg. Secrets normally arrive
// this way rather than through the config file.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	str("TELEGRAM_TOKEN", &cfg.Telegram.Token)
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("STORAGE_DRIVER", &cfg.Storage.Driver)
	str("STORAGE_PATH", &cfg.Storage.Path)
	str("STORAGE_DSN", &cfg.Storage.DSN)
	str("TIMEZONE", &cfg.Reminders.Timezone)
	str("REDIS_ADDR", &cfg.Jobs.Cache.Addr)
	str("REDIS_PASSWORD", &cfg.Jobs.Cache.Password)

	if v, ok := lookup(envPrefix + "CHAT_ID"); ok && strings.TrimSpace(v) != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return errors.New(envPrefix + "CHAT_ID: not an integer")
		}
		cfg.Telegram.ChatID = id
	}
	return nil
}
