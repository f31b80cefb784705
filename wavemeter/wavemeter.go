// Package wavemeter reads laser frequencies from a wavemeter exposed over HTTP.
//
// The bridge answers GET {base}/api/freq/{channel} with a bare JSON number in
// GHz.  A few sentinel values stand in for "no usable reading".
package wavemeter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	// Underexposed is reported when the interferometer sees too little light
	Underexposed = -3000.
	// Overexposed is reported when the interferometer saturates
	Overexposed = -4000.
	// NoSignal is reported for an idle or unconnected channel
	NoSignal = 0.

	// DefaultTimeout bounds one request
	DefaultTimeout = 5 * time.Second
)

// ErrHTTPStatus is wrapped by errors for non-2xx responses
var ErrHTTPStatus = errors.New("unexpected HTTP status")

// Status describes a reading
func Status(f float64) string {
	switch f {
	case Underexposed:
		return "underexposed"
	case Overexposed:
		return "overexposed"
	case NoSignal:
		return "no signal"
	}
	return "ok"
}

// Wavemeter is a client for the wavemeter HTTP bridge
type Wavemeter struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New creates a Wavemeter for the bridge at baseURL, e.g. http://192.168.0.169:5000.
// Requests are spaced at least minInterval apart; zero disables the limit.
func New(baseURL string, minInterval time.Duration) *Wavemeter {
	lim := rate.NewLimiter(rate.Inf, 1)
	if minInterval > 0 {
		lim = rate.NewLimiter(rate.Every(minInterval), 1)
	}
	return &Wavemeter{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    lim,
	}
}

// Raw fetches the value the bridge reports for channel, sentinels included
func (w *Wavemeter) Raw(ctx context.Context, channel int) (float64, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	url := fmt.Sprintf("%s/api/freq/%d", w.baseURL, channel)
	logrus.WithFields(logrus.Fields{
		"url":     url,
		"channel": channel,
	}).Trace("sending request")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to create request")
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "failed to send request")
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logrus.Errorf("failed to close response body: %v", err)
		}
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, errors.Wrap(err, "failed to read response body")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, errors.Wrapf(ErrHTTPStatus, "got %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return 0, errors.Wrapf(err, "decoding frequency %q", strings.TrimSpace(string(b)))
	}
	return f, nil
}

// Frequency reads channel and reports whether the reading is usable
func (w *Wavemeter) Frequency(ctx context.Context, channel int) (float64, bool, error) {
	f, err := w.Raw(ctx, channel)
	if err != nil {
		return 0, false, err
	}
	if st := Status(f); st != "ok" {
		logrus.WithField("channel", channel).Warnf("wavemeter reading unusable: %s", st)
		return 0, false, nil
	}
	logrus.WithField("channel", channel).Debugf("wavemeter: %.6f GHz", f)
	return f, true, nil
}

// ReadFrequency is Frequency without a context
func (w *Wavemeter) ReadFrequency(channel int) (float64, bool, error) {
	return w.Frequency(context.Background(), channel)
}
