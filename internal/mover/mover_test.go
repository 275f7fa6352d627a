package mover_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renamarr/renamarr/internal/arr"
	"github.com/renamarr/renamarr/internal/mover"
	testutil "github.com/renamarr/renamarr/internal/testing"
)

// zeroDelayPolicy keeps verification loops instant in tests.
func zeroDelayPolicy(attempts int) mover.RetryPolicy {
	return mover.RetryPolicy{MaxAttempts: attempts}
}

func newRadarr(t *testing.T) (arr.Service, *testutil.ArrServer) {
	t.Helper()

	server := testutil.NewArrServer("Radarr", "movie")
	t.Cleanup(server.Close)

	svc := arr.NewRadarr("radarr", arr.Config{
		URL:         server.URL,
		APIKey:      "test-key",
		HTTPTimeout: 5 * time.Second,
	})
	return svc, server
}

func TestSubmit(t *testing.T) {
	t.Run("accepted move is pending", func(t *testing.T) {
		svc, server := newRadarr(t)
		server.AddRecord(testutil.MovieRecord(1, "Movie", 2010, "/data/movies/old"))

		orch := mover.NewOrchestrator(svc)
		op, err := orch.Submit(context.Background(), arr.Entry{ID: 1, Title: "Movie", Year: 2010}, "/data/movies/Movie (2010) 100/")
		require.NoError(t, err)

		assert.Equal(t, arr.UpdateAsyncAccepted, op.Outcome)
		assert.Equal(t, mover.StatePending, op.State)
		assert.Equal(t, "/data/movies/Movie (2010) 100/", op.DesiredPath)
	})

	t.Run("rejection is an outcome, not an error", func(t *testing.T) {
		svc, server := newRadarr(t)
		server.AddRecord(testutil.MovieRecord(1, "Movie", 2010, "/data/movies/old"))
		server.SetUpdateStatus(1, http.StatusBadRequest)

		orch := mover.NewOrchestrator(svc)
		op, err := orch.Submit(context.Background(), arr.Entry{ID: 1, Title: "Movie"}, "/data/movies/new/")
		require.NoError(t, err)

		assert.Equal(t, arr.UpdateRejected, op.Outcome)
	})

	t.Run("transport failure is an error", func(t *testing.T) {
		svc := arr.NewRadarr("radarr", arr.Config{
			URL:         "http://127.0.0.1:1",
			APIKey:      "test-key",
			HTTPTimeout: time.Second,
		})

		orch := mover.NewOrchestrator(svc)
		_, err := orch.Submit(context.Background(), arr.Entry{ID: 1, Title: "Movie"}, "/data/movies/new/")
		assert.Error(t, err)
	})
}

func TestVerify(t *testing.T) {
	t.Run("confirmed when live path matches", func(t *testing.T) {
		svc, server := newRadarr(t)
		server.AddRecord(testutil.MovieRecord(1, "Movie", 2010, "/data/movies/Movie (2010) 100"))

		verifier := mover.NewVerifier(svc, zeroDelayPolicy(3))
		op := &mover.Operation{
			EntryID:     1,
			Title:       "Movie",
			Year:        2010,
			DesiredPath: "/data/movies/Movie (2010) 100/",
			State:       mover.StatePending,
		}

		state := verifier.Verify(context.Background(), op)

		assert.Equal(t, mover.StateConfirmed, state)
		assert.Equal(t, mover.StateConfirmed, op.State)
		assert.Len(t, server.CommandsByName("RescanMovie"), 1)
	})

	t.Run("confirmed from a recent log record when the path lags", func(t *testing.T) {
		svc, server := newRadarr(t)
		// Live path still reports the old folder
		server.AddRecord(testutil.MovieRecord(1, "Movie", 2010, "/data/movies/old"))
		server.AddLogRecord(time.Now().Add(-time.Minute),
			"Movie (2010) moved successfully to /data/movies/Movie (2010) 100")

		verifier := mover.NewVerifier(svc, zeroDelayPolicy(3))
		op := &mover.Operation{
			EntryID:     1,
			Title:       "Movie",
			Year:        2010,
			DesiredPath: "/data/movies/Movie (2010) 100/",
			State:       mover.StatePending,
		}

		assert.Equal(t, mover.StateConfirmed, verifier.Verify(context.Background(), op))
	})

	t.Run("log record for a different title does not confirm", func(t *testing.T) {
		svc, server := newRadarr(t)
		server.AddRecord(testutil.MovieRecord(1, "Movie", 2010, "/data/movies/old"))
		server.AddLogRecord(time.Now().Add(-time.Minute),
			"A Completely Different Film (1999) moved successfully to /data/movies/elsewhere")

		verifier := mover.NewVerifier(svc, zeroDelayPolicy(2))
		op := &mover.Operation{
			EntryID:     1,
			Title:       "Movie",
			Year:        2010,
			DesiredPath: "/data/movies/Movie (2010) 100/",
			State:       mover.StatePending,
		}

		assert.Equal(t, mover.StateTimedOut, verifier.Verify(context.Background(), op))
	})

	t.Run("old log record outside the window is ignored", func(t *testing.T) {
		svc, server := newRadarr(t)
		server.AddRecord(testutil.MovieRecord(1, "Movie", 2010, "/data/movies/old"))
		server.AddLogRecord(time.Now().Add(-48*time.Hour),
			"Movie (2010) moved successfully to /data/movies/Movie (2010) 100")

		verifier := mover.NewVerifier(svc, zeroDelayPolicy(2))
		op := &mover.Operation{
			EntryID:     1,
			Title:       "Movie",
			Year:        2010,
			DesiredPath: "/data/movies/Movie (2010) 100/",
			State:       mover.StatePending,
		}

		assert.Equal(t, mover.StateTimedOut, verifier.Verify(context.Background(), op))
	})

	t.Run("times out when retries are exhausted", func(t *testing.T) {
		svc, server := newRadarr(t)
		server.AddRecord(testutil.MovieRecord(1, "Movie", 2010, "/data/movies/old"))

		verifier := mover.NewVerifier(svc, zeroDelayPolicy(3))
		op := &mover.Operation{
			EntryID:     1,
			Title:       "Movie",
			Year:        2010,
			DesiredPath: "/data/movies/Movie (2010) 100/",
			State:       mover.StatePending,
		}

		state := verifier.Verify(context.Background(), op)

		assert.Equal(t, mover.StateTimedOut, state)
		assert.Equal(t, mover.StateTimedOut, op.State)
		// No rescan for an unconfirmed move
		assert.Empty(t, server.Commands())
	})

	t.Run("transient check failure is retried and recovers", func(t *testing.T) {
		svc, server := newRadarr(t)
		server.AddRecord(testutil.MovieRecord(1, "Movie", 2010, "/data/movies/Movie (2010) 100"))
		// First attempt hits an outage; the next attempt sees the moved path
		server.FailEntityGets(1)

		verifier := mover.NewVerifier(svc, zeroDelayPolicy(3))
		op := &mover.Operation{
			EntryID:     1,
			Title:       "Movie",
			Year:        2010,
			DesiredPath: "/data/movies/Movie (2010) 100/",
			State:       mover.StatePending,
		}

		state := verifier.Verify(context.Background(), op)

		assert.Equal(t, mover.StateConfirmed, state)
		assert.Len(t, server.CommandsByName("RescanMovie"), 1)
	})

	t.Run("zero-value policy still terminates", func(t *testing.T) {
		svc, server := newRadarr(t)
		server.AddRecord(testutil.MovieRecord(1, "Movie", 2010, "/data/movies/old"))

		verifier := mover.NewVerifier(svc, mover.RetryPolicy{})
		op := &mover.Operation{
			EntryID:     1,
			Title:       "Movie",
			Year:        2010,
			DesiredPath: "/data/movies/Movie (2010) 100/",
			State:       mover.StatePending,
		}

		assert.Equal(t, mover.StateTimedOut, verifier.Verify(context.Background(), op))
	})

	t.Run("accented titles match their log form", func(t *testing.T) {
		svc, server := newRadarr(t)
		server.AddRecord(testutil.MovieRecord(1, "Amélie", 2001, "/data/movies/old"))
		server.AddLogRecord(time.Now().Add(-time.Minute),
			"Amelie (2001) moved successfully to /data/movies/Amelie (2001) 194")

		verifier := mover.NewVerifier(svc, zeroDelayPolicy(2))
		op := &mover.Operation{
			EntryID:     1,
			Title:       "Amélie",
			Year:        2001,
			DesiredPath: "/data/movies/Amelie (2001) 194/",
			State:       mover.StatePending,
		}

		assert.Equal(t, mover.StateConfirmed, verifier.Verify(context.Background(), op))
	})
}

func TestConfirmSync(t *testing.T) {
	svc, server := newRadarr(t)
	server.AddRecord(testutil.MovieRecord(1, "Movie", 2010, "/data/movies/Movie (2010) 100"))

	verifier := mover.NewVerifier(svc, zeroDelayPolicy(3))
	op := &mover.Operation{
		EntryID:     1,
		Title:       "Movie",
		Year:        2010,
		DesiredPath: "/data/movies/Movie (2010) 100/",
		Outcome:     arr.UpdateSynchronous,
		State:       mover.StatePending,
	}

	verifier.ConfirmSync(context.Background(), op)

	assert.Equal(t, mover.StateConfirmed, op.State)
	assert.Len(t, server.CommandsByName("RescanMovie"), 1)
}

func TestDefaultRetryPolicy(t *testing.T) {
	policy := mover.DefaultRetryPolicy()

	assert.Equal(t, mover.DefaultMaxAttempts, policy.MaxAttempts)
	assert.Equal(t, mover.DefaultInitialDelay, policy.InitialDelay)
	assert.Equal(t, mover.DefaultMaxDelay, policy.MaxDelay)
}
