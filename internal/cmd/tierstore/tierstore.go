// Package tierstore parses storage command flags and launches the storage
// runtime.
package tierstore

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/louisbranch/tierstore/internal/platform/cmd"
	storageserver "github.com/louisbranch/tierstore/internal/services/storage/app"
	"github.com/louisbranch/tierstore/internal/services/storage/cascade"
)

// Config holds storage command configuration. Variables are read with the
// TIERSTORE_ prefix, for example TIERSTORE_PORT.
type Config struct {
	Port          int           `env:"PORT" envDefault:"8095"`
	DBPath        string        `env:"DB_PATH" envDefault:"data/tierstore.db"`
	SessionID     string        `env:"SESSION_ID"`
	CacheTTL      time.Duration `env:"CACHE_TTL" envDefault:"5m"`
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"30m"`
	DeviceTTL     time.Duration `env:"DEVICE_TTL" envDefault:"24h"`
	PruneInterval time.Duration `env:"PRUNE_INTERVAL" envDefault:"1m"`
	InitTimeout   time.Duration `env:"INIT_TIMEOUT" envDefault:"5s"`
	RetryCount    int           `env:"RETRY_COUNT" envDefault:"3"`
	RetryBackoff  time.Duration `env:"RETRY_BACKOFF" envDefault:"300ms"`

	GithubOwner   string `env:"GITHUB_OWNER"`
	GithubRepo    string `env:"GITHUB_REPO"`
	GithubBranch  string `env:"GITHUB_BRANCH" envDefault:"main"`
	GithubHost    string `env:"GITHUB_HOST"`
	GithubRawHost string `env:"GITHUB_RAW_HOST"`
	GithubToken   string `env:"GITHUB_TOKEN"`

	DriveClientID     string `env:"DRIVE_CLIENT_ID"`
	DriveClientSecret string `env:"DRIVE_CLIENT_SECRET"`
	DriveRedirectURL  string `env:"DRIVE_REDIRECT_URL"`
	DriveRefreshToken string `env:"DRIVE_REFRESH_TOKEN"`
	DriveBaseURL      string `env:"DRIVE_BASE_URL"`
	DriveTokenURL     string `env:"DRIVE_TOKEN_URL"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The storage gRPC server port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The SQLite path of the session and device tiers; empty keeps them in memory")
	fs.StringVar(&cfg.SessionID, "session-id", cfg.SessionID, "Session tier scope; empty starts a fresh session cleared on exit")
	fs.DurationVar(&cfg.CacheTTL, "cache-ttl", cfg.CacheTTL, "Default TTL of the volatile tier, 0 never expires")
	fs.DurationVar(&cfg.SessionTTL, "session-ttl", cfg.SessionTTL, "Default TTL of the session tier, 0 never expires")
	fs.DurationVar(&cfg.DeviceTTL, "device-ttl", cfg.DeviceTTL, "Default TTL of the device tier, 0 never expires")
	fs.DurationVar(&cfg.PruneInterval, "prune-interval", cfg.PruneInterval, "Interval of background expiry sweeps")
	fs.DurationVar(&cfg.InitTimeout, "init-timeout", cfg.InitTimeout, "Time allowed for each remote tier to come up")
	fs.IntVar(&cfg.RetryCount, "retry-count", cfg.RetryCount, "Retries of a failed remote request")
	fs.DurationVar(&cfg.RetryBackoff, "retry-backoff", cfg.RetryBackoff, "Base delay between remote retries")
	fs.StringVar(&cfg.GithubOwner, "github-owner", cfg.GithubOwner, "GitHub repository owner")
	fs.StringVar(&cfg.GithubRepo, "github-repo", cfg.GithubRepo, "GitHub repository name")
	fs.StringVar(&cfg.GithubBranch, "github-branch", cfg.GithubBranch, "GitHub branch read and written")
	fs.StringVar(&cfg.DriveClientID, "drive-client-id", cfg.DriveClientID, "Drive OAuth2 client ID")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg Config) runtimeConfig() storageserver.RuntimeConfig {
	return storageserver.RuntimeConfig{
		Port:          cfg.Port,
		DBPath:        cfg.DBPath,
		SessionID:     cfg.SessionID,
		CacheTTL:      cascade.TTL(cfg.CacheTTL),
		SessionTTL:    cascade.TTL(cfg.SessionTTL),
		DeviceTTL:     cascade.TTL(cfg.DeviceTTL),
		PruneInterval: cfg.PruneInterval,
		InitTimeout:   cfg.InitTimeout,
		RetryCount:    cfg.RetryCount,
		RetryBackoff:  cfg.RetryBackoff,
		Github: storageserver.GithubConfig{
			Owner:   cfg.GithubOwner,
			Repo:    cfg.GithubRepo,
			Branch:  cfg.GithubBranch,
			Host:    cfg.GithubHost,
			RawHost: cfg.GithubRawHost,
			Token:   cfg.GithubToken,
		},
		Drive: storageserver.DriveConfig{
			ClientID:     cfg.DriveClientID,
			ClientSecret: cfg.DriveClientSecret,
			RedirectURL:  cfg.DriveRedirectURL,
			RefreshToken: cfg.DriveRefreshToken,
			BaseURL:      cfg.DriveBaseURL,
			TokenURL:     cfg.DriveTokenURL,
		},
	}
}

// Run starts the storage runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceStorage, func(ctx context.Context) error {
		return storageserver.Run(ctx, cfg.runtimeConfig())
	})
}
