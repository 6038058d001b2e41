package config

// Config is the on-disk configuration (JSON or YAML). Durations are Go
// duration strings ("45s", "5m"). Secrets may be left empty here and
// supplied through the environment (see ApplyEnv).
type Config struct {
	Telegram TelegramConfig  `json:"telegram"`
	Logging  LoggingConfig   `json:"logging"`
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Store    StoreConfig     `json:"store"`
	Mail     MailConfig      `json:"mail"`
	Rewrite  RewriteConfig   `json:"rewrite"`
	Dispatch DispatchConfig  `json:"dispatch"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// NoticeChatID receives run notices and log lines; defaults to the first owner.
	NoticeChatID int64  `json:"notice_chat_id,omitempty"`
	PollTimeout  string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// NotifierConfig controls the notice pipeline. When the section is omitted
// the notifier is enabled with defaults.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
}

// StoreConfig selects the work list backend.
//
//	"store": { "driver": "sqlite", "path": "./data/leads.db" }
//	"store": { "driver": "firebase", "url": "https://x.firebaseio.com", "collection": "scraped_emails" }
type StoreConfig struct {
	Driver       string `json:"driver"`
	Path         string `json:"path,omitempty"`
	BusyTimeout  string `json:"busy_timeout,omitempty"`
	URL          string `json:"url,omitempty"`
	AuthToken    string `json:"auth_token,omitempty"`
	Collection   string `json:"collection,omitempty"`
	TemplatePath string `json:"template_path,omitempty"`
	Timeout      string `json:"timeout,omitempty"`
}

type MailConfig struct {
	// Provider is "relay" (default), "smtp" or "brevo".
	Provider string      `json:"provider"`
	Timeout  string      `json:"timeout,omitempty"`
	RelayURL string      `json:"relay_url,omitempty"`
	SMTP     SMTPConfig  `json:"smtp,omitempty"`
	Brevo    BrevoConfig `json:"brevo,omitempty"`
}

type SMTPConfig struct {
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	From     string `json:"from,omitempty"`
}

type BrevoConfig struct {
	APIKey     string `json:"api_key,omitempty"`
	Sender     string `json:"sender,omitempty"`
	SenderName string `json:"sender_name,omitempty"`
	Endpoint   string `json:"endpoint,omitempty"`
}

type RewriteConfig struct {
	Enabled  bool     `json:"enabled"`
	Keys     []string `json:"keys,omitempty"`
	Model    string   `json:"model,omitempty"`
	Endpoint string   `json:"endpoint,omitempty"`
	Tries    int      `json:"tries,omitempty"`
	Timeout  string   `json:"timeout,omitempty"`
}

// DispatchConfig controls pacing and scheduling of runs. Zero values fall
// back to the built-in pacing defaults.
type DispatchConfig struct {
	WorkerID string `json:"worker_id,omitempty"`

	DelayMin               string `json:"delay_min,omitempty"`
	DelayMax               string `json:"delay_max,omitempty"`
	LongPauseEvery         int    `json:"long_pause_every,omitempty"`
	LongPauseMin           string `json:"long_pause_min,omitempty"`
	LongPauseMax           string `json:"long_pause_max,omitempty"`
	Cooldown               string `json:"cooldown,omitempty"`
	MaxConsecutiveFailures int    `json:"max_consecutive_failures,omitempty"`
	MaxPerHour             int    `json:"max_per_hour,omitempty"`

	Placeholder string `json:"placeholder,omitempty"`
	DefaultName string `json:"default_name,omitempty"`

	// Schedule is an optional cron spec that starts a run (a no-op when one
	// is active).
	Schedule string `json:"schedule,omitempty"`
	// ReclaimSchedule is an optional cron spec that releases claims older
	// than ReclaimAfter. Off unless both are set.
	ReclaimSchedule string `json:"reclaim_schedule,omitempty"`
	ReclaimAfter    string `json:"reclaim_after,omitempty"`
	Timezone        string `json:"timezone,omitempty"`
}
