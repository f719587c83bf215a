// Package config loads the reconciler's configuration surface (spec §6)
// from environment variables, generalizing the teacher's scattered
// envOr/os.Getenv calls in cmd/streammon/main.go into one validated loader.
// This is the "plain wrapper" spec §1 leaves under-specified: parsing is
// defensive (parse, validate, fall back or fail fast) but the shape of the
// data it produces is fixed by spec §6.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mediareconciler/reconciler/internal/driver"
)

// ServerConfig describes one configured server endpoint, in either
// token-auth or account/password-auth form.
type ServerConfig struct {
	Name     string
	BaseURL  string
	Token    string
	Account  string
	Password string
}

// Config is the full validated configuration surface from spec §6.
type Config struct {
	Servers []ServerConfig

	InsecureSkipVerify bool

	UserAllow []string
	UserDeny  []string

	LibraryAllow     []string
	LibraryDeny      []string
	LibraryTypeAllow []driver.LibraryType
	LibraryTypeDeny  []driver.LibraryType

	UserNameMap    map[string]string
	LibraryNameMap map[string]string

	GenerateGUIDs     bool
	GenerateLocations bool

	Dryrun             bool
	RunOnlyOnce        bool
	SleepDurationSecs  int
	SyncCron           string
	SyncPlaylists      bool
	MaxThreads         int

	LogLevel string

	WatchedStatePath  string
	PlaylistStatePath string
}

const (
	defaultMaxThreads        = 10
	defaultSleepDurationSecs = 3600
)

// Getenv is the environment lookup function, injectable for tests.
type Getenv func(string) string

// Load builds a Config from environment variables using getenv, validating
// the configuration surface spec §6/§7 requires. Any violation is returned
// as a *Configuration*-class error, fatal at startup.
func Load(getenv Getenv) (*Config, error) {
	cfg := &Config{
		InsecureSkipVerify: parseBool(getenv("INSECURE_SKIP_VERIFY"), false),
		UserAllow:          parseCSV(getenv("USER_ALLOW")),
		UserDeny:           parseCSV(getenv("USER_DENY")),
		LibraryAllow:       parseCSV(getenv("LIBRARY_ALLOW")),
		LibraryDeny:        parseCSV(getenv("LIBRARY_DENY")),
		UserNameMap:        parseMap(getenv("USER_NAME_MAP")),
		LibraryNameMap:     parseMap(getenv("LIBRARY_NAME_MAP")),
		GenerateGUIDs:      parseBool(getenv("GENERATE_GUIDS"), true),
		GenerateLocations:  parseBool(getenv("GENERATE_LOCATIONS"), true),
		Dryrun:             parseBool(getenv("DRYRUN"), false),
		RunOnlyOnce:        parseBool(getenv("RUN_ONLY_ONCE"), false),
		SyncCron:           getenv("SYNC_CRON"),
		SyncPlaylists:      parseBool(getenv("SYNC_PLAYLISTS"), true),
		LogLevel:           orDefault(getenv("LOG_LEVEL"), "INFO"),
		WatchedStatePath:   orDefault(getenv("WATCHED_STATE_PATH"), "./data/watched.json"),
		PlaylistStatePath:  orDefault(getenv("PLAYLIST_STATE_PATH"), "./data/playlists.json"),
	}

	var err error
	cfg.LibraryTypeAllow, err = parseLibraryTypes(getenv("LIBRARY_TYPE_ALLOW"))
	if err != nil {
		return nil, fmt.Errorf("LIBRARY_TYPE_ALLOW: %w", err)
	}
	cfg.LibraryTypeDeny, err = parseLibraryTypes(getenv("LIBRARY_TYPE_DENY"))
	if err != nil {
		return nil, fmt.Errorf("LIBRARY_TYPE_DENY: %w", err)
	}

	cfg.MaxThreads = parseInt(getenv("MAX_THREADS"), defaultMaxThreads)
	if cfg.MaxThreads < 1 {
		return nil, fmt.Errorf("MAX_THREADS must be >= 1, got %d", cfg.MaxThreads)
	}
	cfg.SleepDurationSecs = parseInt(getenv("SLEEP_DURATION_SECONDS"), defaultSleepDurationSecs)
	if cfg.SleepDurationSecs < 1 {
		return nil, fmt.Errorf("SLEEP_DURATION_SECONDS must be >= 1, got %d", cfg.SleepDurationSecs)
	}

	cfg.Servers, err = parseServers(getenv)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseServers(getenv Getenv) ([]ServerConfig, error) {
	urls := parseCSV(getenv("SERVER_URLS"))
	if len(urls) > 0 {
		tokens := parseCSV(getenv("SERVER_TOKENS"))
		names := parseCSV(getenv("SERVER_NAMES"))
		if len(tokens) != len(urls) {
			return nil, fmt.Errorf("SERVER_URLS has %d entries but SERVER_TOKENS has %d", len(urls), len(tokens))
		}
		if len(names) > 0 && len(names) != len(urls) {
			return nil, fmt.Errorf("SERVER_URLS has %d entries but SERVER_NAMES has %d", len(urls), len(names))
		}
		servers := make([]ServerConfig, len(urls))
		for i, u := range urls {
			name := u
			if len(names) > 0 {
				name = names[i]
			}
			servers[i] = ServerConfig{Name: name, BaseURL: u, Token: tokens[i]}
		}
		return servers, nil
	}

	accounts := parseCSV(getenv("SERVER_ACCOUNTS"))
	if len(accounts) == 0 {
		return nil, nil
	}
	passwords := parseCSV(getenv("SERVER_PASSWORDS"))
	names := parseCSV(getenv("SERVER_NAMES"))
	if len(passwords) != len(accounts) {
		return nil, fmt.Errorf("SERVER_ACCOUNTS has %d entries but SERVER_PASSWORDS has %d", len(accounts), len(passwords))
	}
	if len(names) != len(accounts) {
		return nil, fmt.Errorf("SERVER_ACCOUNTS has %d entries but SERVER_NAMES has %d", len(accounts), len(names))
	}
	servers := make([]ServerConfig, len(accounts))
	for i := range accounts {
		servers[i] = ServerConfig{Name: names[i], Account: accounts[i], Password: passwords[i]}
	}
	return servers, nil
}

func parseLibraryTypes(v string) ([]driver.LibraryType, error) {
	raw := parseCSV(v)
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]driver.LibraryType, 0, len(raw))
	for _, r := range raw {
		switch driver.LibraryType(strings.ToLower(r)) {
		case driver.LibraryMovie:
			out = append(out, driver.LibraryMovie)
		case driver.LibraryShow:
			out = append(out, driver.LibraryShow)
		default:
			return nil, fmt.Errorf("unknown library type %q, must be movie or show", r)
		}
	}
	return out, nil
}

func parseCSV(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseMap(v string) map[string]string {
	pairs := parseCSV(v)
	if len(pairs) == 0 {
		return nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, val, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(val)
	}
	return out
}

func parseBool(v string, fallback bool) bool {
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func parseInt(v string, fallback int) int {
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// OSGetenv is the default Getenv backed by os.Getenv.
func OSGetenv(key string) string { return os.Getenv(key) }
