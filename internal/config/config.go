package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Config holds runtime configuration values for the statistics service.
type Config struct {
	DBPath        string
	ReplicaDBPath string
	ServerPort    int
	LogLevel      string
	SentryDSN     string
	Environment   string
	ShutdownGrace time.Duration

	Wiki  WikiConfig
	Stats StatsConfig
}

// WikiConfig describes how to reach and authenticate against the wiki API.
type WikiConfig struct {
	APIURL    string
	Username  string
	Password  string
	UserAgent string
}

// StatsConfig holds the queue-specific settings of the statistics task.
type StatsConfig struct {
	Page            string
	PendingCategory string
	IgnoreList      []string
	Summary         string
	ShutoffPage     string
	HeaderTemplate  string
	RowTemplate     string
	FooterTemplate  string
	SyncInterval    time.Duration
	SaveInterval    time.Duration
	Retention       time.Duration
	PendingLimit    int
}

const (
	defaultDBPath          = "./data/afcstats.db"
	defaultReplicaDBPath   = "./data/replica.db"
	defaultServerPort      = 8080
	defaultLogLevel        = "info"
	defaultEnvironment     = "development"
	defaultShutdownGrace   = 10 * time.Second
	defaultWikiAPIURL      = "https://en.wikipedia.org/w/api.php"
	defaultUserAgent       = "afcstats/1.0 (statistics synchronizer)"
	defaultStatsPage       = "Template:AFC statistics"
	defaultPendingCategory = "Pending AfC submissions"
	defaultSummary         = "Updating statistics for [[WP:WPAFC|WikiProject Articles for creation]]."
	defaultHeaderTemplate  = "AFC statistics/header"
	defaultRowTemplate     = "AFC statistics/row"
	defaultFooterTemplate  = "AFC statistics/footer"
	defaultSyncInterval    = 30 * time.Minute
	defaultSaveInterval    = time.Hour
	defaultRetention       = 36 * time.Hour
	defaultPendingLimit    = 500
)

// Load reads configuration values from environment variables, applying defaults where necessary.
func Load() (*Config, error) {
	cfg := &Config{
		DBPath:        getEnv("DB_PATH", defaultDBPath),
		ReplicaDBPath: getEnv("REPLICA_DB_PATH", defaultReplicaDBPath),
		LogLevel:      getEnv("LOG_LEVEL", defaultLogLevel),
		SentryDSN:     os.Getenv("SENTRY_DSN"),
		Environment:   getEnv("ENV", defaultEnvironment),
		ShutdownGrace: defaultShutdownGrace,
		Wiki: WikiConfig{
			APIURL:    getEnv("WIKI_API_URL", defaultWikiAPIURL),
			Username:  os.Getenv("WIKI_USERNAME"),
			Password:  os.Getenv("WIKI_PASSWORD"),
			UserAgent: getEnv("WIKI_USER_AGENT", defaultUserAgent),
		},
		Stats: StatsConfig{
			Page:            getEnv("STATS_PAGE", defaultStatsPage),
			PendingCategory: getEnv("PENDING_CATEGORY", defaultPendingCategory),
			Summary:         getEnv("EDIT_SUMMARY", defaultSummary),
			ShutoffPage:     os.Getenv("SHUTOFF_PAGE"),
			HeaderTemplate:  getEnv("TEMPLATE_HEADER", defaultHeaderTemplate),
			RowTemplate:     getEnv("TEMPLATE_ROW", defaultRowTemplate),
			FooterTemplate:  getEnv("TEMPLATE_FOOTER", defaultFooterTemplate),
		},
	}

	if raw := os.Getenv("IGNORE_LIST"); raw != "" {
		titles, err := parseTitles(raw)
		if err != nil {
			return nil, eris.Wrap(err, "parsing IGNORE_LIST")
		}
		cfg.Stats.IgnoreList = titles
	}

	portValue := getEnv("SERVER_PORT", strconv.Itoa(defaultServerPort))
	port, err := strconv.Atoi(portValue)
	if err != nil {
		return nil, eris.Wrapf(err, "invalid SERVER_PORT value: %s", portValue)
	}
	cfg.ServerPort = port

	limitValue := getEnv("PENDING_LIMIT", strconv.Itoa(defaultPendingLimit))
	limit, err := strconv.Atoi(limitValue)
	if err != nil || limit <= 0 {
		return nil, eris.Errorf("invalid PENDING_LIMIT value: %s", limitValue)
	}
	cfg.Stats.PendingLimit = limit

	durations := []struct {
		key      string
		fallback time.Duration
		target   *time.Duration
	}{
		{"SYNC_INTERVAL", defaultSyncInterval, &cfg.Stats.SyncInterval},
		{"SAVE_INTERVAL", defaultSaveInterval, &cfg.Stats.SaveInterval},
		{"RETENTION", defaultRetention, &cfg.Stats.Retention},
	}
	for _, d := range durations {
		value, err := getDuration(d.key, d.fallback)
		if err != nil {
			return nil, err
		}
		*d.target = value
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}

	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, eris.Wrapf(err, "invalid %s value: %s", key, raw)
	}
	if value <= 0 {
		return 0, eris.Errorf("invalid %s value: %s must be positive", key, raw)
	}
	return value, nil
}

func parseTitles(raw string) ([]string, error) {
	// Accept either a JSON array of titles or an object with a `titles` field.
	var arrayInput []string
	if err := json.Unmarshal([]byte(raw), &arrayInput); err == nil {
		return cleanTitles(arrayInput), nil
	}

	var objectInput struct {
		Titles []string `json:"titles"`
	}
	if err := json.Unmarshal([]byte(raw), &objectInput); err != nil {
		return nil, eris.Wrap(err, "decoding JSON")
	}

	if len(objectInput.Titles) == 0 {
		return nil, eris.New("titles list is empty")
	}

	return cleanTitles(objectInput.Titles), nil
}

func cleanTitles(titles []string) []string {
	cleaned := make([]string, 0, len(titles))
	for _, title := range titles {
		if trimmed := strings.TrimSpace(title); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return cleaned
}
