package runner_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renamarr/renamarr/internal/config"
	"github.com/renamarr/renamarr/internal/runner"
	testutil "github.com/renamarr/renamarr/internal/testing"
)

// fixture is a full fake deployment: Radarr, Sonarr and a refresh counter
// standing in for Plex.
type fixture struct {
	radarr        *testutil.ArrServer
	sonarr        *testutil.ArrServer
	plexRefreshes atomic.Int64
	cfg           config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		radarr: testutil.NewArrServer("Radarr", "movie"),
		sonarr: testutil.NewArrServer("Sonarr", "series"),
	}
	t.Cleanup(f.radarr.Close)
	t.Cleanup(f.sonarr.Close)

	f.radarr.SetNaming("movieFolderFormat", "{Movie CleanTitle} ({Release Year}) {TmdbId}")
	f.radarr.SetRootFolders("/data/movies")
	f.sonarr.SetNaming("seriesFolderFormat", "{Series TitleYear}")
	f.sonarr.SetRootFolders("/data/tv")

	plex := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		f.plexRefreshes.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(plex.Close)

	f.cfg = config.Config{
		Services: config.ServicesConfig{
			Radarr: config.ServiceConfig{
				Enabled:     true,
				URL:         f.radarr.URL,
				APIKey:      "radarr-key",
				HTTPTimeout: 5 * time.Second,
			},
			Sonarr: config.ServiceConfig{
				Enabled:     true,
				URL:         f.sonarr.URL,
				APIKey:      "sonarr-key",
				HTTPTimeout: 5 * time.Second,
			},
		},
		Plex: config.PlexConfig{
			URL:         plex.URL,
			Token:       "plex-token",
			HTTPTimeout: 5 * time.Second,
		},
		Reconcile: config.ReconcileConfig{
			CacheDir: t.TempDir(),
		},
		Verify: config.VerifyConfig{
			MaxAttempts:    2,
			LogWindow:      12 * time.Hour,
			LogPageSize:    50,
			MaxLogPages:    3,
			MatchThreshold: 0.85,
		},
	}

	return f
}

func (f *fixture) movie(id int64, title string, year int, tmdbID int64, path string) {
	record := testutil.MovieRecord(id, title, year, path)
	record["tmdbId"] = tmdbID
	record["rootFolderPath"] = "/data/movies"
	f.radarr.AddRecord(record)
}

func (f *fixture) series(id int64, title string, year int, path string) {
	record := testutil.SeriesRecord(id, title, year, path)
	record["rootFolderPath"] = "/data/tv"
	f.sonarr.AddRecord(record)
}

func TestRunReconcilesBothServices(t *testing.T) {
	f := newFixture(t)
	f.movie(1, "Movie", 2010, 12345, "/data/movies/badly named")
	f.series(1, "The Show", 2015, "/data/tv/also wrong")

	r := runner.New(f.cfg)
	require.NoError(t, r.Run(context.Background()))

	radarrUpdates := f.radarr.Updates()
	require.Len(t, radarrUpdates, 1)
	assert.Equal(t, "/data/movies/Movie (2010) 12345/", radarrUpdates[0].Path)

	sonarrUpdates := f.sonarr.Updates()
	require.Len(t, sonarrUpdates, 1)
	assert.Equal(t, "/data/tv/The Show (2015)/", sonarrUpdates[0].Path)

	// Confirmed moves trigger rescans and one refresh at the end
	assert.Len(t, f.radarr.CommandsByName("RescanMovie"), 1)
	assert.Len(t, f.sonarr.CommandsByName("RescanSeries"), 1)
	assert.EqualValues(t, 1, f.plexRefreshes.Load())
}

func TestRunWritesPerServiceCaches(t *testing.T) {
	f := newFixture(t)
	f.movie(1, "Movie", 2010, 12345, "/data/movies/Movie (2010) 12345")
	f.series(1, "The Show", 2015, "/data/tv/The Show (2015)")

	r := runner.New(f.cfg)
	require.NoError(t, r.Run(context.Background()))

	assert.FileExists(t, filepath.Join(f.cfg.Reconcile.CacheDir, "cache_radarr_paths.json"))
	assert.FileExists(t, filepath.Join(f.cfg.Reconcile.CacheDir, "cache_sonarr_paths.json"))
}

func TestRunDryRunTouchesNothing(t *testing.T) {
	f := newFixture(t)
	f.cfg.Reconcile.DryRun = true
	f.movie(1, "Movie", 2010, 12345, "/data/movies/badly named")

	r := runner.New(f.cfg)
	require.NoError(t, r.Run(context.Background()))

	assert.Empty(t, f.radarr.Updates())
	assert.Empty(t, f.radarr.Commands())
	assert.EqualValues(t, 0, f.plexRefreshes.Load())
}

func TestRunSkipsPlexWhenUnconfigured(t *testing.T) {
	f := newFixture(t)
	f.cfg.Plex = config.PlexConfig{}
	f.movie(1, "Movie", 2010, 12345, "/data/movies/badly named")

	r := runner.New(f.cfg)
	require.NoError(t, r.Run(context.Background()))

	assert.EqualValues(t, 0, f.plexRefreshes.Load())
}

func TestRunFailsFastOnUnreachableService(t *testing.T) {
	f := newFixture(t)
	f.cfg.Services.Sonarr.URL = "http://127.0.0.1:1"
	f.cfg.Services.Sonarr.HTTPTimeout = time.Second
	f.movie(1, "Movie", 2010, 12345, "/data/movies/badly named")

	r := runner.New(f.cfg)
	require.Error(t, r.Run(context.Background()))

	// Connectivity is checked before any entry is processed
	assert.Empty(t, f.radarr.Updates())
	assert.EqualValues(t, 0, f.plexRefreshes.Load())
}

func TestRunRefusesConcurrentRuns(t *testing.T) {
	f := newFixture(t)
	f.movie(1, "Movie", 2010, 12345, "/data/movies/badly named")

	held := flock.New(f.cfg.Reconcile.LockPath())
	locked, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	t.Cleanup(func() { _ = held.Unlock() })

	r := runner.New(f.cfg)
	err = r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another run is in progress")
	assert.Empty(t, f.radarr.Updates())
}

func TestUnmonitor(t *testing.T) {
	f := newFixture(t)
	f.cfg.Services.Sonarr.Enabled = false

	// Folder already canonical: gets unmonitored
	f.movie(1, "Movie", 2010, 12345, "/data/movies/Movie (2010) 12345")
	// Folder mismatched: stays monitored
	f.movie(2, "Other", 2011, 200, "/data/movies/wrong")
	// Already unmonitored: left alone
	done := testutil.MovieRecord(3, "Done", 2012, "/data/movies/Done (2012) 300")
	done["rootFolderPath"] = "/data/movies"
	done["monitored"] = false
	f.radarr.AddRecord(done)

	f.radarr.SetUpdateStatus(1, http.StatusOK)

	r := runner.New(f.cfg)
	require.NoError(t, r.Unmonitor(context.Background()))

	updates := f.radarr.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, int64(1), updates[0].ID)
	assert.Equal(t, false, updates[0].Record["monitored"])
}

func TestUnmonitorDryRun(t *testing.T) {
	f := newFixture(t)
	f.cfg.Services.Sonarr.Enabled = false
	f.cfg.Reconcile.DryRun = true
	f.movie(1, "Movie", 2010, 12345, "/data/movies/Movie (2010) 12345")

	r := runner.New(f.cfg)
	require.NoError(t, r.Unmonitor(context.Background()))

	assert.Empty(t, f.radarr.Updates())
}
