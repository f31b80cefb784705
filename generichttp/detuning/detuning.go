// Package detuning exposes the calibrated laser over HTTP
package detuning

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bragglab/braggcal/bench"
	"github.com/bragglab/braggcal/detune"
	"github.com/bragglab/braggcal/generichttp"
	"github.com/bragglab/braggcal/lut"
	"github.com/bragglab/braggcal/server"
)

// Config holds what a Service needs besides hardware
type Config struct {
	LUTPath            string
	Channel            int
	ReferenceFrequency float64
	SettleTime         time.Duration
}

// Service serializes access to one actuator and one wavemeter channel
type Service struct {
	mu  sync.Mutex
	cfg Config
	act bench.Actuator
	rdr bench.FrequencyReader
	rt  generichttp.RouteTable
}

// NewService creates a new Service and populates its route table
func NewService(act bench.Actuator, rdr bench.FrequencyReader, cfg Config) *Service {
	s := &Service{cfg: cfg, act: act, rdr: rdr}
	rt := generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/lut"}:       s.getLUT,
		{Method: http.MethodPost, Path: "/detuning"}: s.postDetuning,
		{Method: http.MethodGet, Path: "/frequency"}: generichttp.GetFloat(s.Frequency),
		{Method: http.MethodPost, Path: "/voltage"}:  generichttp.SetFloat(s.SetVoltage),
	}
	if _, ok := act.(bench.Disabler); ok {
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/disable"}] = s.postDisable
	}
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/route-list"}] = generichttp.RouteList(rt)
	s.rt = rt
	return s
}

// RT satisfies generichttp.HTTPer
func (s *Service) RT() generichttp.RouteTable {
	return s.rt
}

// Detune loads the lookup table from disk and tunes to detuning GHz from the
// reference.  The table is reloaded on every call so a fresh calibration is
// picked up without a restart.
func (s *Service) Detune(ctx context.Context, detuning float64) (detune.Result, error) {
	t, err := lut.Load(s.cfg.LUTPath)
	if err != nil {
		return detune.Result{Detuning: detuning}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	req := detune.Request{Detuning: detuning, ReferenceFrequency: s.cfg.ReferenceFrequency}
	return detune.Tune(ctx, s.act, s.rdr, req, t, s.cfg.Channel, s.cfg.SettleTime)
}

// Frequency reads the wavemeter once
func (s *Service) Frequency() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok, err := s.rdr.ReadFrequency(s.cfg.Channel)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errors.Wrapf(detune.ErrNoReading, "channel %d", s.cfg.Channel)
	}
	return f, nil
}

// SetVoltage applies a raw voltage, bypassing the lookup table
func (s *Service) SetVoltage(v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	logrus.WithField("voltage", v).Info("manual voltage")
	return s.act.SetVoltage(v)
}

func (s *Service) postDisable(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.act.(bench.Disabler).DisableOutputs(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// StatusFor maps an error to the HTTP status reported for it
func StatusFor(err error) int {
	switch {
	case errors.Is(err, lut.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, lut.ErrCorrupt):
		return http.StatusConflict
	case errors.Is(err, detune.ErrNonFinite):
		return http.StatusBadRequest
	case errors.Is(err, detune.ErrNoRealSolution), errors.Is(err, detune.ErrDegenerateFit):
		return http.StatusUnprocessableEntity
	case errors.Is(err, detune.ErrNoReading):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Service) getLUT(w http.ResponseWriter, r *http.Request) {
	t, err := lut.Load(s.cfg.LUTPath)
	if err != nil {
		http.Error(w, err.Error(), StatusFor(err))
		return
	}
	server.ReplyJSON(w, t)
}

func (s *Service) postDetuning(w http.ResponseWriter, r *http.Request) {
	f := server.FloatT{}
	err := json.NewDecoder(r.Body).Decode(&f)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := s.Detune(r.Context(), f.F64)
	if err != nil {
		logrus.WithField("detuning", f.F64).Errorf("detuning failed: %v", err)
		http.Error(w, err.Error(), StatusFor(err))
		return
	}
	server.ReplyJSON(w, res)
}
