// Package app assembles the storage runtime: local tiers over SQLite, the
// cascade, background remote initialization, and the gRPC API with per-tier
// health.
package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/louisbranch/tierstore/internal/platform/discovery"
	"github.com/louisbranch/tierstore/internal/platform/timeouts"
	storageapi "github.com/louisbranch/tierstore/internal/services/storage/api/grpc/storage"
	"github.com/louisbranch/tierstore/internal/services/storage/cascade"
	"github.com/louisbranch/tierstore/internal/services/storage/memory"
	"github.com/louisbranch/tierstore/internal/services/storage/persist"
	storagesqlite "github.com/louisbranch/tierstore/internal/services/storage/persist/sqlite"
	"github.com/louisbranch/tierstore/internal/services/storage/remote/drive"
	"github.com/louisbranch/tierstore/internal/services/storage/remote/github"
	"github.com/louisbranch/tierstore/internal/services/storage/remote/retry"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/oauth2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// GithubConfig configures the read-mostly remote tier. The tier is skipped
// when Owner or Repo is empty.
type GithubConfig struct {
	Owner   string
	Repo    string
	Branch  string
	Host    string
	RawHost string
	Token   string
}

func (c GithubConfig) enabled() bool {
	return strings.TrimSpace(c.Owner) != "" && strings.TrimSpace(c.Repo) != ""
}

// DriveConfig configures the read-write remote tier. The tier is skipped when
// ClientID or RefreshToken is empty.
type DriveConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	RefreshToken string
	BaseURL      string
	TokenURL     string
}

func (c DriveConfig) enabled() bool {
	return strings.TrimSpace(c.ClientID) != "" && strings.TrimSpace(c.RefreshToken) != ""
}

// RuntimeConfig controls storage startup and tier behavior.
type RuntimeConfig struct {
	Port int
	// DBPath is the SQLite file holding the session and device tiers. Empty
	// keeps both in process memory.
	DBPath string
	// SessionID scopes the session tier. Empty generates one for this run and
	// clears the scope on shutdown.
	SessionID string

	// The tier TTLs use the tier default when nil. Zero or a negative value
	// keeps entries until they are removed.
	CacheTTL      *time.Duration
	SessionTTL    *time.Duration
	DeviceTTL     *time.Duration
	PruneInterval time.Duration
	InitTimeout   time.Duration

	RetryCount   int
	RetryBackoff time.Duration

	Github GithubConfig
	Drive  DriveConfig
}

var defaultStoragePort = discovery.GRPCPort(discovery.ServiceStorage)

const (
	defaultDeviceTTL   = 24 * time.Hour
	deviceScope        = "device"
	sessionScopePrefix = "session:"
)

// tierHealthName is the health service reporting tierName, for example
// tierstore.drive.
func tierHealthName(tierName string) string {
	return "tierstore." + tierName
}

func (c RuntimeConfig) normalized() RuntimeConfig {
	if c.Port <= 0 {
		c.Port = defaultStoragePort
	}
	if c.CacheTTL == nil {
		c.CacheTTL = cascade.TTL(memory.DefaultTTL)
	}
	if c.SessionTTL == nil {
		c.SessionTTL = cascade.TTL(persist.DefaultTTL)
	}
	if c.DeviceTTL == nil {
		c.DeviceTTL = cascade.TTL(defaultDeviceTTL)
	}
	if c.PruneInterval <= 0 {
		c.PruneInterval = timeouts.Prune
	}
	if c.InitTimeout <= 0 {
		c.InitTimeout = timeouts.RemoteInit
	}
	return c
}

// Run listens on the configured port and serves until ctx ends.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	cfg = cfg.normalized()
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on storage port %d: %w", cfg.Port, err)
	}
	defer listener.Close()
	return Serve(ctx, cfg, listener)
}

// Serve builds the tiers and serves the storage API on listener until ctx
// ends. Remote tiers come up in the background; the API serves the local
// tiers meanwhile.
func Serve(ctx context.Context, cfg RuntimeConfig, listener net.Listener) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if listener == nil {
		return fmt.Errorf("listener is required")
	}
	cfg = cfg.normalized()

	backends, err := openBackends(cfg.DBPath)
	if err != nil {
		return err
	}
	defer backends.close()

	sessionScope := sessionScopePrefix + strings.TrimSpace(cfg.SessionID)
	ephemeralSession := strings.TrimSpace(cfg.SessionID) == ""
	if ephemeralSession {
		sessionScope = sessionScopePrefix + uuid.NewString()
	}
	if reclaimed, reclaimErr := backends.reclaimSessions(ctx, sessionScope); reclaimErr != nil {
		log.Printf("reclaim stale session scopes: %v", reclaimErr)
	} else if reclaimed > 0 {
		log.Printf("reclaimed %d stale session scopes", reclaimed)
	}

	cache, err := memory.New(memory.WithTTL(*cfg.CacheTTL))
	if err != nil {
		return fmt.Errorf("create cache tier: %w", err)
	}
	session, err := persist.Open(ctx, cascade.TierSession, backends.session(sessionScope), persist.WithTTL(*cfg.SessionTTL))
	if err != nil {
		return fmt.Errorf("open session tier: %w", err)
	}
	device, err := persist.Open(ctx, cascade.TierDevice, backends.device, persist.WithTTL(*cfg.DeviceTTL))
	if err != nil {
		return fmt.Errorf("open device tier: %w", err)
	}
	if ephemeralSession {
		defer func() {
			clearCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
			defer cancel()
			if clearErr := session.Clear(clearCtx); clearErr != nil {
				log.Printf("clear session scope %s: %v", sessionScope, clearErr)
			}
		}()
	}

	store, err := cascade.New(cache, session, device, cascade.WithInitTimeout(cfg.InitTimeout))
	if err != nil {
		return fmt.Errorf("create storage: %w", err)
	}

	cache.StartPruning(cfg.PruneInterval)
	session.StartPruning(cfg.PruneInterval)
	device.StartPruning(cfg.PruneInterval)
	store.StartPruning(cfg.PruneInterval)
	defer func() {
		store.StopPruning()
		device.StopPruning()
		session.StopPruning()
		cache.StopPruning()
	}()

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	storageapi.RegisterStorageServer(grpcServer, storageapi.NewService(store))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(storageapi.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	for _, name := range []string{cascade.TierCache, cascade.TierSession, cascade.TierDevice} {
		healthServer.SetServingStatus(tierHealthName(name), grpc_health_v1.HealthCheckResponse_SERVING)
	}
	for _, name := range []string{cascade.TierDrive, cascade.TierGithub} {
		healthServer.SetServingStatus(tierHealthName(name), grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}

	initDone := make(chan struct{})
	go func() {
		defer close(initDone)
		attached := store.Initialize(ctx, remoteInitializers(cfg)...)
		for _, name := range attached {
			healthServer.SetServingStatus(tierHealthName(name), grpc_health_v1.HealthCheckResponse_SERVING)
		}
		log.Printf("storage tiers ready: %s", strings.Join(store.Tiers(), ", "))
	}()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(listener)
	}()

	log.Printf("storage server listening at %v (session scope %s)", listener.Addr(), sessionScope)
	select {
	case <-ctx.Done():
	case err = <-serveErr:
		err = fmt.Errorf("serve storage: %w", err)
	}

	healthServer.Shutdown()
	grpcServer.GracefulStop()
	if err == nil {
		<-serveErr
	}
	<-initDone
	return err
}

// localBackends holds the persistent storage behind the session and device
// tiers. sqlite is nil when the tiers live in memory.
type localBackends struct {
	session func(scope string) persist.Backend
	device  persist.Backend
	sqlite  *storagesqlite.Store
}

func (b localBackends) close() {
	if b.sqlite == nil {
		return
	}
	if err := b.sqlite.Close(); err != nil {
		log.Printf("close storage sqlite store: %v", err)
	}
}

// reclaimSessions clears the generated session scopes left by processes that
// stopped without clearing their own. Named sessions and keep are untouched.
func (b localBackends) reclaimSessions(ctx context.Context, keep string) (int, error) {
	if b.sqlite == nil {
		return 0, nil
	}
	scopes, err := b.sqlite.Scopes(ctx)
	if err != nil {
		return 0, err
	}
	reclaimed := 0
	for _, scope := range scopes {
		if scope == keep || !strings.HasPrefix(scope, sessionScopePrefix) {
			continue
		}
		if _, err := uuid.Parse(strings.TrimPrefix(scope, sessionScopePrefix)); err != nil {
			continue
		}
		if err := b.sqlite.Scope(scope).Clear(ctx); err != nil {
			return reclaimed, fmt.Errorf("clear session scope %s: %w", scope, err)
		}
		reclaimed++
	}
	return reclaimed, nil
}

// openBackends opens the SQLite store at dbPath, or in-memory backends when
// dbPath is empty.
func openBackends(dbPath string) (localBackends, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		session := persist.NewMemoryBackend()
		return localBackends{
			session: func(string) persist.Backend { return session },
			device:  persist.NewMemoryBackend(),
		}, nil
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return localBackends{}, fmt.Errorf("create storage dir: %w", err)
		}
	}
	sqliteStore, err := storagesqlite.Open(dbPath)
	if err != nil {
		return localBackends{}, fmt.Errorf("open storage sqlite store: %w", err)
	}
	return localBackends{
		session: func(scope string) persist.Backend { return sqliteStore.Scope(scope) },
		device:  sqliteStore.Scope(deviceScope),
		sqlite:  sqliteStore,
	}, nil
}

func remoteInitializers(cfg RuntimeConfig) []cascade.Initializer {
	policy := retry.Policy{RetryCount: cfg.RetryCount, Backoff: cfg.RetryBackoff}
	var inits []cascade.Initializer
	if cfg.Drive.enabled() {
		inits = append(inits, cascade.Initializer{
			Name: cascade.TierDrive,
			Init: func(ctx context.Context) (cascade.Tier, error) {
				return initDrive(ctx, cfg.Drive, policy)
			},
		})
	}
	if cfg.Github.enabled() {
		inits = append(inits, cascade.Initializer{
			Name: cascade.TierGithub,
			Init: func(context.Context) (cascade.Tier, error) {
				return initGithub(cfg.Github, policy)
			},
		})
	}
	return inits
}

func initDrive(ctx context.Context, cfg DriveConfig, policy retry.Policy) (cascade.Tier, error) {
	driveCfg := drive.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		BaseURL:      cfg.BaseURL,
		HTTPClient:   &http.Client{Timeout: timeouts.RemoteRequest},
		Retry:        policy,
	}
	if tokenURL := strings.TrimSpace(cfg.TokenURL); tokenURL != "" {
		driveCfg.Endpoint = oauth2.Endpoint{
			AuthURL:   drive.GoogleEndpoint.AuthURL,
			TokenURL:  tokenURL,
			AuthStyle: drive.GoogleEndpoint.AuthStyle,
		}
	}
	client, err := drive.New(driveCfg)
	if err != nil {
		return nil, fmt.Errorf("create drive client: %w", err)
	}
	if err := client.SignIn(ctx, drive.SignInRequest{Token: &oauth2.Token{RefreshToken: cfg.RefreshToken}}); err != nil {
		return nil, fmt.Errorf("drive sign in: %w", err)
	}
	return cascade.NewDriveTier(client), nil
}

func initGithub(cfg GithubConfig, policy retry.Policy) (cascade.Tier, error) {
	client, err := github.New(github.Config{
		Owner:   cfg.Owner,
		Repo:    cfg.Repo,
		Branch:  cfg.Branch,
		Host:    cfg.Host,
		RawHost: cfg.RawHost,
		Token:   cfg.Token,
		Retry:   policy,
	})
	if err != nil {
		return nil, fmt.Errorf("create github client: %w", err)
	}
	return cascade.NewGithubTier(client), nil
}
