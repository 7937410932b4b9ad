package config

// Config is the whole process configuration. Files may be YAML or JSON;
// keys use the json tags below in both formats.
//
// Durations are Go duration strings ("500ms", "30s", "2m").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Reminders RemindersConfig `json:"reminders"`
	Engine    EngineConfig    `json:"engine"`
	Jobs      JobsConfig      `json:"jobs"`
	Digest    DigestConfig    `json:"digest"`
}

type TelegramConfig struct {
	// Token is usually left empty here and supplied as TASKBOT_TELEGRAM_TOKEN.
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout,omitempty"`
	// ChatID is the owner chat used for restored reminders, the digest and
	// the vacancy watch. When 0, the chat that sent /start is used.
	ChatID   int64   `json:"chat_id,omitempty"`
	SendRate float64 `json:"send_rate,omitempty"` // messages per second
	Workers  int     `json:"workers,omitempty"`   // router workers
}

type LoggingConfig struct {
	Level   string `json:"level"`
	Format  string `json:"format,omitempty"` // console | json
	Console bool   `json:"console"`
	File    string `json:"file,omitempty"`
}

// StorageConfig selects the record store.
//
//	storage: { driver: sqlite, path: ./taskbot.db }
//	storage: { driver: postgres, dsn: "postgres://..." }
type StorageConfig struct {
	Driver       string `json:"driver"`
	Path         string `json:"path,omitempty"`
	DSN          string `json:"dsn,omitempty"`
	BusyTimeout  string `json:"busy_timeout,omitempty"`
	MaxOpenConns int    `json:"max_open_conns,omitempty"`
}

type RemindersConfig struct {
	Timezone    string `json:"timezone"`
	SendTimeout string `json:"send_timeout,omitempty"`
	// Restore re-arms future reminders at startup.
	Restore *bool `json:"restore,omitempty"`
}

// RestoreEnabled defaults to true when the key is omitted.
func (r RemindersConfig) RestoreEnabled() bool { return r.Restore == nil || *r.Restore }

// EngineConfig tunes the task engine that runs reminders and schedules.
//
// Defaults: workers 2, queue_size 256, history_size 200, retry_max 3.
type EngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
	RetryBase      string `json:"retry_base,omitempty"`
	RetryMaxDelay  string `json:"retry_max_delay,omitempty"`
}

type JobsConfig struct {
	DevKG      DevKGConfig      `json:"devkg"`
	HeadHunter HeadHunterConfig `json:"hh"`
	Cache      CacheConfig      `json:"cache"`
	Watch      WatchConfig      `json:"watch"`
	PageSize   int              `json:"page_size,omitempty"` // /vacancies rows per page
}

type DevKGConfig struct {
	Enabled  bool   `json:"enabled"`
	BaseURL  string `json:"base_url,omitempty"`
	Pages    int    `json:"pages,omitempty"`
	Interval string `json:"interval,omitempty"` // pause between page requests
}

type HeadHunterConfig struct {
	Enabled  bool   `json:"enabled"`
	BaseURL  string `json:"base_url,omitempty"`
	Area     int    `json:"area,omitempty"`
	Pages    int    `json:"pages,omitempty"`
	PerPage  int    `json:"per_page,omitempty"`
	Interval string `json:"interval,omitempty"`
}

// CacheConfig caches source results per query. Driver is "", "memory" or
// "redis"; empty disables caching.
type CacheConfig struct {
	Driver   string `json:"driver,omitempty"`
	TTL      string `json:"ttl,omitempty"`
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

// WatchConfig periodically searches Queries and posts new postings to the
// owner chat.
type WatchConfig struct {
	Enabled bool     `json:"enabled"`
	Cron    string   `json:"cron,omitempty"` // 5-field cron spec
	Queries []string `json:"queries,omitempty"`
}

// DigestConfig sends today's tasks once a day at At (HH:MM).
type DigestConfig struct {
	Enabled bool   `json:"enabled"`
	At      string `json:"at,omitempty"`
}
