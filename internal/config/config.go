package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"bggsync/internal/syncerr"
)

// Category classification modes.
const (
	CategoryModeKeywords = "keywords"
	CategoryModeIDs      = "ids"
	CategoryModeExclude  = "exclude"
)

type Config struct {
	AppEnv        string
	HTTPAddr      string
	RedisAddr     string
	RedisPassword string

	SquareAccessToken string
	SquareBaseURL     string
	SquareVersion     string

	BGGBaseURL     string
	BGGAPIToken    string
	BGGCourtesyMin time.Duration
	BGGCourtesyMax time.Duration
	BGGBackoffBase time.Duration
	BGGBackoffJit  time.Duration
	BGGMaxAttempts int

	UPCBaseURL string
	UPCAPIKey  string

	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseBucket     string

	SystemAuthSecret string

	Categories CategoryRules

	SyncConcurrency   int
	TaskMaxRetries    int
	BatchSize         int
	AuthErrorLimit    int
	RunRecordTTL      time.Duration
	CategoryRulesFile string
}

// CategoryRules decides which catalog categories hold games. It can be
// supplied via environment variables or a YAML file.
type CategoryRules struct {
	Mode        string   `yaml:"mode"`
	Keywords    []string `yaml:"keywords"`
	GameIDs     []string `yaml:"game_category_ids"`
	ExcludedIDs []string `yaml:"excluded_category_ids"`
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// getenvDuration accepts Go durations ("1.5s") or bare milliseconds ("1500").
func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getenvCSV(key string, def []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	values := splitCSV(raw)
	if len(values) == 0 {
		return def
	}
	return values
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

// Load reads the environment and panics on invalid input.
func Load() Config {
	cfg, err := LoadE()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadE reads the environment, reporting an unreadable category rules file
// or a missing Redis address as an error.
func LoadE() (Config, error) {
	cfg := Config{
		AppEnv:        getenv("APP_ENV", "development"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8081"),
		RedisAddr:     getenv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		SquareAccessToken: os.Getenv("SQUARE_ACCESS_TOKEN"),
		SquareBaseURL:     getenv("SQUARE_BASE_URL", "https://connect.squareup.com"),
		SquareVersion:     getenv("SQUARE_VERSION", "2024-01-18"),

		BGGBaseURL:     getenv("BGG_BASE_URL", "https://boardgamegeek.com/xmlapi2"),
		BGGAPIToken:    os.Getenv("BGG_API_TOKEN"),
		BGGCourtesyMin: getenvDuration("BGG_COURTESY_MIN", 800*time.Millisecond),
		BGGCourtesyMax: getenvDuration("BGG_COURTESY_MAX", 1200*time.Millisecond),
		BGGBackoffBase: getenvDuration("BGG_BACKOFF_BASE", 2000*time.Millisecond),
		BGGBackoffJit:  getenvDuration("BGG_BACKOFF_JITTER", 1000*time.Millisecond),
		BGGMaxAttempts: getenvInt("BGG_MAX_ATTEMPTS", 6),

		UPCBaseURL: getenv("UPC_BASE_URL", "https://api.upcitemdb.com"),
		UPCAPIKey:  os.Getenv("UPC_API_KEY"),

		SupabaseURL:        os.Getenv("NEXT_PUBLIC_SUPABASE_URL"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:     getenv("SUPABASE_STORAGE_BUCKET", "game-images"),

		SystemAuthSecret: os.Getenv("SYSTEM_AUTH_SECRET"),

		Categories: CategoryRules{
			Mode:        strings.ToLower(getenv("CATEGORY_MODE", CategoryModeKeywords)),
			Keywords:    getenvCSV("GAME_CATEGORY_KEYWORDS", []string{"game", "board game", "card game", "puzzle"}),
			GameIDs:     getenvCSV("GAME_CATEGORY_IDS", nil),
			ExcludedIDs: getenvCSV("EXCLUDED_CATEGORY_IDS", nil),
		},

		SyncConcurrency:   getenvInt("SYNC_CONCURRENCY", 3),
		TaskMaxRetries:    getenvInt("TASK_MAX_RETRIES", 2),
		BatchSize:         getenvInt("SYNC_BATCH_SIZE", 100),
		AuthErrorLimit:    getenvInt("AUTH_ERROR_LIMIT", 10),
		RunRecordTTL:      getenvDuration("RUN_RECORD_TTL", 24*time.Hour),
		CategoryRulesFile: os.Getenv("CATEGORY_RULES_FILE"),
	}
	if cfg.CategoryRulesFile != "" {
		rules, err := LoadCategoryRules(cfg.CategoryRulesFile)
		if err != nil {
			return Config{}, err
		}
		cfg.Categories = rules.merge(cfg.Categories)
	}
	if cfg.RedisAddr == "" {
		return Config{}, fmt.Errorf("REDIS_ADDR is required")
	}
	return cfg, nil
}

// LoadCategoryRules reads a YAML rules file.
func LoadCategoryRules(path string) (CategoryRules, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return CategoryRules{}, fmt.Errorf("read category rules %s: %w", path, err)
	}
	var rules CategoryRules
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return CategoryRules{}, fmt.Errorf("parse category rules %s: %w", path, err)
	}
	rules.Mode = strings.ToLower(strings.TrimSpace(rules.Mode))
	return rules, nil
}

// merge fills fields missing from the file with the environment values.
func (r CategoryRules) merge(env CategoryRules) CategoryRules {
	if r.Mode == "" {
		r.Mode = env.Mode
	}
	if len(r.Keywords) == 0 {
		r.Keywords = env.Keywords
	}
	if len(r.GameIDs) == 0 {
		r.GameIDs = env.GameIDs
	}
	if len(r.ExcludedIDs) == 0 {
		r.ExcludedIDs = env.ExcludedIDs
	}
	return r
}

// Validate reports missing credentials required to run a sync.
func (c Config) Validate() error {
	if strings.TrimSpace(c.SquareAccessToken) == "" {
		return syncerr.Wrap(syncerr.ErrConfig, "config", "SQUARE_ACCESS_TOKEN is required", nil)
	}
	switch c.Categories.Mode {
	case CategoryModeKeywords, CategoryModeIDs, CategoryModeExclude:
	default:
		return syncerr.Wrap(syncerr.ErrConfig, "config", fmt.Sprintf("unknown CATEGORY_MODE %q", c.Categories.Mode), nil)
	}
	if c.Categories.Mode == CategoryModeIDs && len(c.Categories.GameIDs) == 0 {
		return syncerr.Wrap(syncerr.ErrConfig, "config", "GAME_CATEGORY_IDS is required when CATEGORY_MODE=ids", nil)
	}
	return nil
}

// Presence lists which optional and required settings are configured,
// without exposing their values.
type Presence struct {
	SquareToken  bool   `json:"square_token"`
	BGGToken     bool   `json:"bgg_token"`
	UPCKey       bool   `json:"upc_key"`
	Supabase     bool   `json:"supabase"`
	SystemSecret bool   `json:"system_secret"`
	CategoryMode string `json:"category_mode"`
}

func (c Config) Presence() Presence {
	return Presence{
		SquareToken:  c.SquareAccessToken != "",
		BGGToken:     c.BGGAPIToken != "",
		UPCKey:       c.UPCAPIKey != "",
		Supabase:     c.SupabaseURL != "" && c.SupabaseServiceKey != "",
		SystemSecret: c.SystemAuthSecret != "",
		CategoryMode: c.Categories.Mode,
	}
}
