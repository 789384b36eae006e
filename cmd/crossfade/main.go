package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/sydlexius/crossfade/internal/auth"
	"github.com/sydlexius/crossfade/internal/cache"
	"github.com/sydlexius/crossfade/internal/config"
	"github.com/sydlexius/crossfade/internal/database"
	"github.com/sydlexius/crossfade/internal/encryption"
	"github.com/sydlexius/crossfade/internal/logging"
	"github.com/sydlexius/crossfade/internal/maintenance"
	"github.com/sydlexius/crossfade/internal/provider"
	"github.com/sydlexius/crossfade/internal/provider/lastfm"
	"github.com/sydlexius/crossfade/internal/provider/musicbrainz"
	"github.com/sydlexius/crossfade/internal/recommend"
	"github.com/sydlexius/crossfade/internal/seeds"
	"github.com/sydlexius/crossfade/internal/spotify"
	"github.com/sydlexius/crossfade/internal/version"
	"github.com/sydlexius/crossfade/internal/watcher"
)

const usage = `usage: crossfade <command> [flags]

commands:
  recommend   rank tracks similar to a seed track
  seeds       list seed tracks from listening history or search
  link        store catalog credentials for a user
  users       list linked users
  sweep       purge expired cache entries once
  daemon      run the periodic cache sweeper
  version     print the version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "recommend":
		err = runRecommend(os.Args[2:])
	case "seeds":
		err = runSeeds(os.Args[2:])
	case "link":
		err = runLink(os.Args[2:])
	case "users":
		err = runUsers(os.Args[2:])
	case "sweep":
		err = runSweep(os.Args[2:])
	case "daemon":
		err = runDaemon(os.Args[2:])
	case "version":
		fmt.Println(version.Version)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the wired service graph shared by every subcommand.
type app struct {
	cfg        *config.Config
	configPath string
	logger     *slog.Logger
	logManager *logging.Manager
	db         *sql.DB

	authStore   *auth.Store
	coordinator *auth.Coordinator
	catalog     *spotify.Client
	recommender *recommend.Service
	seeds       *seeds.Service
	maintenance *maintenance.Service
}

func newApp() (*app, error) {
	configPath := os.Getenv("CF_CONFIG_PATH")
	if configPath == "" {
		configPath = "/data/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logManager, logger := logging.NewManager(logging.Config{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		FilePath: cfg.Logging.FilePath,
	})
	slog.SetDefault(logger)

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		logManager.Close() //nolint:errcheck
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		db.Close()            //nolint:errcheck
		logManager.Close()    //nolint:errcheck
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	encKey, err := resolveEncryptionKey(cfg, logger)
	if err != nil {
		db.Close()         //nolint:errcheck
		logManager.Close() //nolint:errcheck
		return nil, fmt.Errorf("resolving encryption key: %w", err)
	}
	encryptor, _, err := encryption.New(encKey)
	if err != nil {
		db.Close()         //nolint:errcheck
		logManager.Close() //nolint:errcheck
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	limiter := provider.NewRateLimiterMap()
	catalog := spotify.New(limiter, logger)
	scrobbles := lastfm.New(cfg.LastFM.APIKey, limiter, logger)
	archive := musicbrainz.New(limiter, logger)

	authStore := auth.NewStore(db, encryptor)
	refresher := auth.NewOAuthRefresher(cfg.Spotify.ClientID, cfg.Spotify.ClientSecret, logger)
	coordinator := auth.NewCoordinator(authStore, refresher, logger)

	tags := recommend.NewTagService(archive,
		cache.NewStore[[]string](db, cache.NamespaceTags, logger), logger)
	trackCache := recommend.NewTrackCache(catalog,
		cache.NewStore[spotify.Track](db, cache.NamespaceTrack, logger), logger)
	recommender := recommend.NewService(
		trackCache,
		recommend.NewResolver(scrobbles, db, cfg.LastFM.DefaultCountry, logger),
		recommend.NewMapper(catalog, coordinator, trackCache, db, logger),
		recommend.NewRanker(tags),
		tags,
		coordinator,
		logger,
	)

	return &app{
		cfg:         cfg,
		configPath:  configPath,
		logger:      logger,
		logManager:  logManager,
		db:          db,
		authStore:   authStore,
		coordinator: coordinator,
		catalog:     catalog,
		recommender: recommender,
		seeds:       seeds.NewService(catalog, coordinator, logger),
		maintenance: maintenance.NewService(db, logger),
	}, nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		a.logger.Error("closing database", "error", err)
	}
	a.logManager.Close() //nolint:errcheck
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runRecommend(args []string) error {
	fs := flag.NewFlagSet("recommend", flag.ExitOnError)
	userID := fs.String("user", "", "linked user ID")
	track := fs.String("track", "", "seed track: ID, URI, or share URL")
	limit := fs.Int("limit", 0, "number of tracks to return (max 50)")
	asJSON := fs.Bool("json", false, "print the full result as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	uid, err := uuid.Parse(*userID)
	if err != nil {
		return fmt.Errorf("invalid -user: %w", err)
	}
	if *track == "" {
		return fmt.Errorf("-track is required")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext()
	defer cancel()

	rec, err := a.recommender.GetRecommendations(ctx, uid, *track, *limit)
	if err != nil {
		return err
	}

	if *asJSON {
		return json.NewEncoder(os.Stdout).Encode(rec)
	}

	fmt.Printf("seed: %s - %s (strategy: %s)\n\n", rec.Seed.Artist, rec.Seed.Name, rec.Strategy)
	for i, t := range rec.Tracks {
		fmt.Printf("%2d. %-30s %-25s score %.3f  %s\n",
			i+1, truncate(t.Name, 30), truncate(t.Artist, 25), t.Score, spotify.ToURI(t.ID))
	}
	return nil
}

func runSeeds(args []string) error {
	fs := flag.NewFlagSet("seeds", flag.ExitOnError)
	userID := fs.String("user", "", "linked user ID")
	source := fs.String("source", "combined", "top, recent, combined, or search")
	query := fs.String("query", "", "search query (source=search)")
	timeRange := fs.String("range", "", "time range for top tracks (short_term, medium_term, long_term)")
	limit := fs.Int("limit", 0, "number of tracks to return (max 50)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	uid, err := uuid.Parse(*userID)
	if err != nil {
		return fmt.Errorf("invalid -user: %w", err)
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext()
	defer cancel()

	var tracks []spotify.Track
	switch *source {
	case "top":
		tracks, err = a.seeds.TopTracks(ctx, uid, *limit, *timeRange)
	case "recent":
		tracks, err = a.seeds.RecentlyPlayed(ctx, uid, *limit)
	case "combined":
		tracks, err = a.seeds.Combined(ctx, uid, *limit)
	case "search":
		tracks, err = a.seeds.Search(ctx, uid, *query, *limit)
	default:
		return fmt.Errorf("unknown -source %q", *source)
	}
	if err != nil {
		return err
	}

	for _, t := range tracks {
		fmt.Printf("%-30s %-25s %s\n", truncate(t.Name, 30), truncate(t.Artist, 25), spotify.ToURI(t.ID))
	}
	return nil
}

func runLink(args []string) error {
	fs := flag.NewFlagSet("link", flag.ExitOnError)
	accessToken := fs.String("access-token", "", "catalog access token")
	refreshToken := fs.String("refresh-token", "", "catalog refresh token")
	scopes := fs.String("scopes", "", "granted scopes, space separated")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *accessToken == "" || *refreshToken == "" {
		return fmt.Errorf("-access-token and -refresh-token are required")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext()
	defer cancel()

	profile, err := a.catalog.GetCurrentUserProfile(ctx, *accessToken)
	if err != nil {
		return fmt.Errorf("verifying token: %w", err)
	}

	cred := &auth.Credential{
		SpotifyID:    profile.ID,
		AccessToken:  *accessToken,
		RefreshToken: *refreshToken,
		Scopes:       auth.NormalizeScopes(*scopes),
	}
	if err := a.authStore.Upsert(ctx, cred); err != nil {
		return err
	}

	fmt.Printf("linked %s (%s) as user %s\n", profile.DisplayName, profile.ID, cred.UserID)
	return nil
}

func runUsers(args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("users takes no arguments")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ids, err := a.authStore.ListUserIDs(context.Background())
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

func runSweep(args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("sweep takes no arguments")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext()
	defer cancel()

	purged := a.maintenance.Sweep(ctx)
	fmt.Printf("purged %d expired cache entries\n", purged)
	return nil
}

func runDaemon(args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("daemon takes no arguments")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext()
	defer cancel()

	a.logger.Info("daemon starting",
		slog.String("version", version.Version),
		slog.String("config", a.configPath))

	go func() {
		w := watcher.New(a.configPath, a.logManager, a.logger)
		if err := w.Watch(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("config watcher stopped", "error", err)
		}
	}()

	if a.cfg.Sweep.Enabled {
		interval := time.Duration(a.cfg.Sweep.IntervalHours) * time.Hour
		a.maintenance.StartScheduler(ctx, interval)
	} else {
		a.logger.Info("sweep disabled, idling until shutdown")
		<-ctx.Done()
	}

	a.logger.Info("daemon stopped")
	return nil
}

// resolveEncryptionKey prefers the environment, then a key file beside the
// database, and finally generates and persists a fresh key.
func resolveEncryptionKey(cfg *config.Config, logger *slog.Logger) (string, error) {
	if key := os.Getenv("CF_ENCRYPTION_KEY"); key != "" {
		return key, nil
	}

	dataDir := filepath.Dir(cfg.Database.Path)
	keyFile := filepath.Join(dataDir, "encryption.key")

	data, err := os.ReadFile(keyFile) //nolint:gosec // G304: path derived from trusted config
	if err == nil {
		key := strings.TrimSpace(string(data))
		if key != "" {
			logger.Debug("loaded encryption key from file", slog.String("path", keyFile))
			return key, nil
		}
	}

	_, key, err := encryption.New("")
	if err != nil {
		return "", fmt.Errorf("generating encryption key: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		logger.Warn("could not create data directory for encryption key",
			slog.String("path", dataDir), slog.Any("error", err))
		return key, nil
	}
	if err := os.WriteFile(keyFile, []byte(key+"\n"), 0o600); err != nil {
		logger.Warn("could not save encryption key to file",
			slog.String("path", keyFile), slog.Any("error", err))
	} else {
		logger.Warn("generated new encryption key -- back up this file",
			slog.String("path", keyFile))
	}
	return key, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
