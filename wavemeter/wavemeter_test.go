package wavemeter_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bragglab/braggcal/bench"
	"github.com/bragglab/braggcal/wavemeter"
)

var _ bench.FrequencyReader = (*wavemeter.Wavemeter)(nil)

type bridge struct {
	mu    sync.Mutex
	paths []string
	body  string
	code  int
	times []time.Time
}

func (b *bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paths = append(b.paths, r.URL.Path)
	b.times = append(b.times, time.Now())
	if b.code != 0 {
		w.WriteHeader(b.code)
	}
	w.Write([]byte(b.body))
}

func setup(t *testing.T, body string, code int) (*wavemeter.Wavemeter, *bridge) {
	t.Helper()
	b := &bridge{body: body, code: code}
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)
	return wavemeter.New(srv.URL+"/", 0), b
}

func TestReadFrequency(t *testing.T) {
	w, b := setup(t, "384229.12345\n", 0)
	f, ok, err := w.ReadFrequency(3)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 384229.12345, f)
	assert.Equal(t, []string{"/api/freq/3"}, b.paths)
}

func TestSentinelsAreAbsent(t *testing.T) {
	for _, body := range []string{"-3000.0", "-4000", "0.0", "0"} {
		t.Run(body, func(t *testing.T) {
			w, _ := setup(t, body, 0)
			f, ok, err := w.ReadFrequency(0)
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Zero(t, f)
		})
	}
}

func TestRawKeepsSentinels(t *testing.T) {
	w, _ := setup(t, "-3000.0", 0)
	f, err := w.Raw(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, wavemeter.Underexposed, f)
	assert.Equal(t, "underexposed", wavemeter.Status(f))
}

func TestHTTPErrorIsError(t *testing.T) {
	w, _ := setup(t, "boom", http.StatusInternalServerError)
	_, ok, err := w.ReadFrequency(0)
	assert.False(t, ok)
	assert.ErrorIs(t, err, wavemeter.ErrHTTPStatus)
}

func TestGarbageIsError(t *testing.T) {
	w, _ := setup(t, `{"freq": 1}`, 0)
	_, _, err := w.ReadFrequency(0)
	assert.Error(t, err)
}

func TestUnreachableIsError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	_, _, err := wavemeter.New(url, 0).ReadFrequency(0)
	assert.Error(t, err)
}

func TestRateLimited(t *testing.T) {
	b := &bridge{body: "384229.1"}
	srv := httptest.NewServer(b)
	defer srv.Close()
	w := wavemeter.New(srv.URL, 30*time.Millisecond)
	for i := 0; i < 3; i++ {
		_, _, err := w.ReadFrequency(0)
		require.NoError(t, err)
	}
	require.Len(t, b.times, 3)
	assert.GreaterOrEqual(t, b.times[2].Sub(b.times[0]), 50*time.Millisecond)
}

func TestContextCancelled(t *testing.T) {
	w, _ := setup(t, "1", 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := w.Frequency(ctx, 0)
	assert.Error(t, err)
}
