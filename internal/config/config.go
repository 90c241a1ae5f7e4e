package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`

	// Call policy shared by the register and the recaller. A cycle lives for
	// SecondsToForget from its first dial and is retried up to TimesToDial.
	TimesToDial     int `env:"TIMES_TO_DIAL" envDefault:"3"`
	SecondsToForget int `env:"SECONDS_TO_FORGET" envDefault:"300"`

	// Local zone for wall-clock scheduled_at values.
	Timezone string `env:"LOCAL_TIMEZONE" envDefault:"UTC"`

	// Total timeout applied to every outbound HTTP call between services.
	ClientTimeout time.Duration `env:"CLIENT_TIMEOUT_TOTAL" envDefault:"30s"`

	// Peer service base URLs.
	RegisterURL    string `env:"REGISTER_URL" envDefault:"http://127.0.0.1:8083"`
	DialerURL      string `env:"DIALER_URL" envDefault:"http://127.0.0.1:8081"`
	AudioURL       string `env:"AUDIO_URL" envDefault:"http://127.0.0.1:8082"`
	AddressBookURL string `env:"ADDRESS_BOOK_URL" envDefault:"http://127.0.0.1:8085"`
	SMSURL         string `env:"SMS_URL" envDefault:"http://127.0.0.1:8084"`

	Asterisk    AsteriskConfig
	Register    RegisterConfig
	Dialer      DialerConfig
	Recaller    RecallerConfig
	Monitor     MonitorConfig
	Audio       AudioConfig
	AddressBook AddressBookConfig
	Scheduler   SchedulerConfig
	SMS         SMSConfig
	Dispatch    DispatchConfig
	MQTT        MQTTConfig
	S3          S3Config
	Auth        AuthConfig

	HTTPReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	HTTPWriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	HTTPIdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	EnableTelemetry bool   `env:"ENABLE_TELEMETRY" envDefault:"true"`
	LogLevel        string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string `env:"LOG_FORMAT" envDefault:"json"`
}

// AsteriskConfig describes the PBX control surface: the ARI REST API used to
// originate and steer channels, and the Stasis application the event monitor
// subscribes to.
type AsteriskConfig struct {
	Host      string `env:"ASTERISK_HOST" envDefault:"127.0.0.1"`
	WebPort   int    `env:"ASTERISK_WEB_PORT" envDefault:"8088"`
	Scheme    string `env:"ASTERISK_HTTP_SCHEME" envDefault:"http"`
	User      string `env:"ASTERISK_USER" envDefault:"asterisk"`
	Pass      string `env:"ASTERISK_PASS"`
	ChanType  string `env:"ASTERISK_CHAN_TYPE" envDefault:"SIP"`
	Extension string `env:"ASTERISK_EXTENSION" envDefault:"3216"`
	Context   string `env:"ASTERISK_CONTEXT" envDefault:"klaxon"`
	CallerID  string `env:"ASTERISK_CALLER_ID" envDefault:"klaxon"`
	StasisApp string `env:"ASTERISK_STASIS_APP" envDefault:"klaxon"`
}

type RegisterConfig struct {
	Addr string `env:"REGISTER_ADDR" envDefault:":8083"`
}

type DialerConfig struct {
	Addr      string        `env:"DIALER_ADDR" envDefault:":8081"`
	QueueSize int           `env:"DIALER_QUEUE_SIZE" envDefault:"100"`
	IdleSleep time.Duration `env:"DIALER_QUEUE_IDLE_SLEEP" envDefault:"12s"`
}

type RecallerConfig struct {
	SleepBeforeQuerying time.Duration `env:"RECALLER_SLEEP_BEFORE_QUERYING" envDefault:"10s"`
	BackupMaxTimes      int           `env:"CALL_BACKUP_CALLEE_MAX_TIMES" envDefault:"2"`
}

type MonitorConfig struct {
	PollInterval time.Duration `env:"MONITOR_AUDIO_POLL_INTERVAL" envDefault:"5s"`
	PollRetries  int           `env:"MONITOR_AUDIO_POLL_RETRIES" envDefault:"12"`
	BatchSize    int           `env:"MONITOR_EVENT_BATCH_SIZE" envDefault:"64"`
	BatchFlush   time.Duration `env:"MONITOR_EVENT_BATCH_FLUSH" envDefault:"500ms"`
}

// AudioConfig selects the synthesis engine and where artifacts live.
// ServingURL is the base the PBX resolves `sound:` media against, so it must
// be reachable from the Asterisk host.
type AudioConfig struct {
	Addr       string `env:"AUDIO_ADDR" envDefault:":8082"`
	Dir        string `env:"AUDIO_DIR" envDefault:"./audio"`
	ServingURL string `env:"SERVING_AUDIO_URL" envDefault:"http://127.0.0.1:8082/audio"`
	Engine     string `env:"TTS_ENGINE" envDefault:"gtts"`
	Workers    int    `env:"TTS_WORKERS"`
	Language   string `env:"TTS_LANGUAGE" envDefault:"en"`

	GTTSURL     string `env:"GTTS_URL" envDefault:"http://127.0.0.1:5001/tts"`
	MMSURL      string `env:"MMS_URL" envDefault:"http://127.0.0.1:5002/synthesize"`
	PiperURL    string `env:"PIPER_URL" envDefault:"http://127.0.0.1:5000"`
	KokoroURL   string `env:"KOKORO_URL" envDefault:"http://127.0.0.1:8880/v1/audio/speech"`
	KokoroVoice string `env:"KOKORO_VOICE" envDefault:"af_heart"`
	PollyVoice  string `env:"POLLY_VOICE" envDefault:"Joanna"`
	PollyRegion string `env:"POLLY_REGION" envDefault:"us-east-1"`
}

type AddressBookConfig struct {
	Addr     string `env:"ADDRESS_BOOK_ADDR" envDefault:":8085"`
	WatchDir string `env:"ADDRESS_BOOK_WATCH_DIR"`
}

type SchedulerConfig struct {
	Addr          string        `env:"SCHEDULER_ADDR" envDefault:":8086"`
	SweepInterval time.Duration `env:"SCHEDULER_SWEEP_INTERVAL" envDefault:"10s"`
}

type SMSConfig struct {
	Addr       string `env:"SMS_ADDR" envDefault:":8084"`
	Carrier    string `env:"SMS_CARRIER" envDefault:"twilio"`
	TwilioSID  string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuth string `env:"TWILIO_AUTH_TOKEN"`
	TwilioFrom string `env:"TWILIO_SMS_FROM"`
	GatewayURL string `env:"SMS_GATEWAY_URL"`
	Workers    int    `env:"SMS_WORKERS"`
}

// DispatchConfig drives the alert webhook. Receivers is the ordered list of
// phone numbers (or the "oncall" alias) every firing alert fans out to.
// SMSLeadTime is the pause between the SMS and the call on the
// sms_before_call route, so the text arrives before the phone rings.
type DispatchConfig struct {
	Addr        string        `env:"DISPATCH_ADDR" envDefault:":8087"`
	Receivers   []string      `env:"DISPATCH_RECEIVERS" envSeparator:","`
	QueueSize   int           `env:"DISPATCH_QUEUE_SIZE" envDefault:"100"`
	SMSLeadTime time.Duration `env:"DISPATCH_SMS_LEAD_TIME" envDefault:"30s"`
	MQTTIntake  bool          `env:"DISPATCH_MQTT_INTAKE"`
}

// MQTTConfig is shared by the broker-backed dial queue and the dispatcher's
// MQTT intake. Leaving BrokerURL empty keeps everything in-process.
type MQTTConfig struct {
	BrokerURL  string `env:"MQTT_BROKER_URL"`
	ClientID   string `env:"MQTT_CLIENT_ID" envDefault:"klaxon"`
	Username   string `env:"MQTT_USERNAME"`
	Password   string `env:"MQTT_PASSWORD"`
	QueueTopic string `env:"MQTT_QUEUE_TOPIC" envDefault:"klaxon/dial-queue"`
	AlertTopic string `env:"MQTT_ALERT_TOPIC" envDefault:"klaxon/alerts"`
}

// S3Config enables the backup artifact tier when Bucket is set.
type S3Config struct {
	Endpoint      string        `env:"S3_ENDPOINT"`
	Region        string        `env:"S3_REGION" envDefault:"us-east-1"`
	Bucket        string        `env:"S3_BUCKET"`
	Prefix        string        `env:"S3_PREFIX"`
	AccessKey     string        `env:"S3_ACCESS_KEY"`
	SecretKey     string        `env:"S3_SECRET_KEY"`
	PresignExpiry time.Duration `env:"S3_PRESIGN_EXPIRY" envDefault:"1h"`
}

func (c S3Config) Enabled() bool { return c.Bucket != "" }

type AuthConfig struct {
	// Token protects the internal service APIs (bearer or ?token=).
	Token string `env:"AUTH_TOKEN"`
	// JWTSecret signs operator logins issued by the address book service.
	JWTSecret string `env:"JWT_SECRET"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	Addr        string
	LogLevel    string
	DatabaseURL string
	AudioDir    string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	// Parse environment variables into config struct
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win); Addr is resolved per
	// service by the command that owns it.
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.AudioDir != "" {
		cfg.Audio.Dir = overrides.AudioDir
	}

	if cfg.Audio.Workers <= 0 {
		cfg.Audio.Workers = runtime.NumCPU()
	}
	if cfg.SMS.Workers <= 0 {
		cfg.SMS.Workers = runtime.NumCPU()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints that env tags cannot express.
func (c *Config) Validate() error {
	if c.TimesToDial < 1 {
		return fmt.Errorf("TIMES_TO_DIAL must be >= 1, got %d", c.TimesToDial)
	}
	if c.SecondsToForget <= 0 {
		return fmt.Errorf("SECONDS_TO_FORGET must be > 0, got %d", c.SecondsToForget)
	}
	if c.Audio.Dir == "" {
		return fmt.Errorf("AUDIO_DIR must not be empty")
	}
	if c.Dialer.QueueSize < 1 {
		return fmt.Errorf("DIALER_QUEUE_SIZE must be >= 1, got %d", c.Dialer.QueueSize)
	}
	if c.Recaller.BackupMaxTimes < 0 {
		return fmt.Errorf("CALL_BACKUP_CALLEE_MAX_TIMES must be >= 0, got %d", c.Recaller.BackupMaxTimes)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("LOCAL_TIMEZONE %q: %w", c.Timezone, err)
	}
	return nil
}

// SecondsToForgetDuration returns the cycle window as a duration.
func (c *Config) SecondsToForgetDuration() time.Duration {
	return time.Duration(c.SecondsToForget) * time.Second
}

// SleepAndRetry is the recaller cadence: the window split evenly across the
// configured dial attempts plus one.
func (c *Config) SleepAndRetry() time.Duration {
	return c.SecondsToForgetDuration() / time.Duration(c.TimesToDial+1)
}

// Location resolves the configured local timezone. Validate has already
// checked it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
