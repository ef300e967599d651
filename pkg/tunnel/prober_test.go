package tunnel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingController struct {
	calls int
}

func (c *countingController) QueryStatus(ctx context.Context) (bool, error) {
	c.calls++
	return true, nil
}
func (c *countingController) Stop(ctx context.Context) error  { return nil }
func (c *countingController) Start(ctx context.Context) error { return nil }

func TestProber_SuccessfulProbeResetsFailureCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	controller := &countingController{}
	prober := NewProber(srv.URL, time.Second, 500*time.Millisecond, controller, zerolog.Nop())

	incident := prober.Tick(context.Background())
	assert.Nil(t, incident)
	assert.Equal(t, 0, prober.ConsecutiveFailures())
}

func TestProber_ThreeFailuresTriggerCriticalAndRestart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	controller := &countingController{}
	prober := NewProber(srv.URL, time.Second, 500*time.Millisecond, controller, zerolog.Nop())

	var last *Incident
	for i := 0; i < ConsecutiveFailureThreshold; i++ {
		last = prober.Tick(context.Background())
	}

	require.NotNil(t, last)
	assert.Equal(t, SeverityCritical, last.Severity)
	assert.True(t, last.RestartAttempted)
	assert.Equal(t, 1, prober.RestartCount())
	assert.Equal(t, 1, controller.calls)
}

func TestProber_RestartDoesNotResetFailureCounter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	prober := NewProber(srv.URL, time.Second, 500*time.Millisecond, &countingController{}, zerolog.Nop())

	for i := 0; i < ConsecutiveFailureThreshold+2; i++ {
		prober.Tick(context.Background())
	}
	assert.Equal(t, ConsecutiveFailureThreshold+2, prober.ConsecutiveFailures())
}

func TestProber_TwoWarningsBeforeThreshold(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	prober := NewProber(srv.URL, time.Second, 500*time.Millisecond, &countingController{}, zerolog.Nop())

	first := prober.Tick(context.Background())
	second := prober.Tick(context.Background())
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, SeverityWarning, first.Severity)
	assert.Equal(t, SeverityWarning, second.Severity)
	assert.False(t, first.RestartAttempted)
}
