package config

import (
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

type Config struct {
	Port         string
	NotifPort    string
	RealtimePort string
	DatabaseURL  string

	LogLevel  string
	LogFormat string

	JWTSecret string
	JWTTTL    time.Duration

	DayStartHour   int
	DayStartMinute int
	SlotLength     time.Duration
	Location       *time.Location

	DefaultAvgWaitMinutes  float64
	ReminderPositionsAhead int
	DisplayWaitingLimit    int
	DisplayPriorityFirst   bool

	RateLimitPerMinute      int
	RateLimitBurst          int
	LoginRateLimitPerMinute int
	LoginRateLimitBurst     int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NotifStream   string
	NotifGroup    string
	NotifConsumer string

	NotifProvider    string
	NotifWorkers     int
	NotifQueueSize   int
	NotifMaxAttempts int
	NotifTimeout     time.Duration
	AgencyName       string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	TwilioBaseURL    string
	WebhookURL       string
	WebhookToken     string

	FeedPollInterval time.Duration
	FeedBatchSize    int

	BootstrapAdminName     string
	BootstrapAdminPhone    string
	BootstrapAdminPassword string

	OTLPEndpoint string
	OTLPInsecure bool
}

func Load() Config {
	hour, minute := readClock("QUEUE_DAY_START", 9, 0)
	hostname, _ := os.Hostname()

	return Config{
		Port:         readString("PORT", "8080"),
		NotifPort:    readString("NOTIF_PORT", "8082"),
		RealtimePort: readString("REALTIME_PORT", "8085"),
		DatabaseURL:  os.Getenv("DB_DSN"),

		LogLevel:  readString("LOG_LEVEL", "info"),
		LogFormat: readString("LOG_FORMAT", "json"),

		JWTSecret: os.Getenv("JWT_SECRET"),
		JWTTTL:    readDurationMinutes("JWT_TTL_MINUTES", 480),

		DayStartHour:   hour,
		DayStartMinute: minute,
		SlotLength:     readDurationMinutes("QUEUE_SLOT_MINUTES", 10),
		Location:       readLocation("QUEUE_TIMEZONE", "Asia/Kolkata"),

		DefaultAvgWaitMinutes:  readFloat("STATS_DEFAULT_AVG_WAIT_MINUTES", 25),
		ReminderPositionsAhead: readInt("REMINDER_POSITIONS_AHEAD", 3),
		DisplayWaitingLimit:    readInt("DISPLAY_WAITING_LIMIT", 10),
		DisplayPriorityFirst:   readBool("DISPLAY_PRIORITY_FIRST", true),

		RateLimitPerMinute:      readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:          readInt("RATE_LIMIT_BURST", 30),
		LoginRateLimitPerMinute: readInt("LOGIN_RATE_LIMIT_PER_MIN", 10),
		LoginRateLimitBurst:     readInt("LOGIN_RATE_LIMIT_BURST", 5),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       readInt("REDIS_DB", 0),
		NotifStream:   readString("NOTIF_STREAM", "queue:notifications"),
		NotifGroup:    readString("NOTIF_GROUP", "notification-service"),
		NotifConsumer: readString("NOTIF_CONSUMER", "notification-"+hostname),

		NotifProvider:    readString("NOTIF_PROVIDER", "log"),
		NotifWorkers:     readInt("NOTIF_WORKERS", 4),
		NotifQueueSize:   readInt("NOTIF_QUEUE_SIZE", 256),
		NotifMaxAttempts: readInt("NOTIF_MAX_ATTEMPTS", 3),
		NotifTimeout:     readDurationSeconds("NOTIF_TIMEOUT_SECONDS", 10),
		AgencyName:       readString("NOTIF_AGENCY_NAME", "RTO"),

		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:       os.Getenv("TWILIO_FROM"),
		TwilioBaseURL:    readString("TWILIO_BASE_URL", "https://api.twilio.com"),
		WebhookURL:       os.Getenv("NOTIF_WEBHOOK_URL"),
		WebhookToken:     os.Getenv("NOTIF_WEBHOOK_TOKEN"),

		FeedPollInterval: readDurationMillis("FEED_POLL_INTERVAL_MS", 1000),
		FeedBatchSize:    readInt("FEED_BATCH_SIZE", 200),

		BootstrapAdminName:     readString("BOOTSTRAP_ADMIN_NAME", "Administrator"),
		BootstrapAdminPhone:    os.Getenv("BOOTSTRAP_ADMIN_PHONE"),
		BootstrapAdminPassword: os.Getenv("BOOTSTRAP_ADMIN_PASSWORD"),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure: readBool("OTEL_EXPORTER_OTLP_INSECURE", false),
	}
}

func readString(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readDurationMinutes(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return time.Duration(fallback) * time.Minute
	}
	return time.Duration(value) * time.Minute
}

func readDurationMillis(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return time.Duration(fallback) * time.Millisecond
	}
	return time.Duration(value) * time.Millisecond
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

// readClock parses "HH:MM".
func readClock(key string, hour, minute int) (int, int) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return hour, minute
	}
	parsed, err := time.Parse("15:04", raw)
	if err != nil {
		return hour, minute
	}
	return parsed.Hour(), parsed.Minute()
}

func readLocation(key, fallback string) *time.Location {
	name := readString(key, fallback)
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc, err = time.LoadLocation(fallback)
		if err != nil {
			return time.UTC
		}
	}
	return loc
}
