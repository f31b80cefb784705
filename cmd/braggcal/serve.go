package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bragglab/braggcal/generichttp/detuning"
	"github.com/bragglab/braggcal/server/middleware/locker"
)

// BuildMux wraps svc in a chi router with request logging and a lock
func BuildMux(svc *detuning.Service) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	root.Use(middleware.Recoverer)

	lock := locker.New()
	locker.Inject(svc, lock)

	root.Group(func(r chi.Router) {
		r.Use(lock.Check)
		svc.RT().Bind(r)
	})
	return root
}

// NewServeCommand exposes the bench over HTTP
func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the lookup table, detuning, and wavemeter over HTTP",
		Long: `Serve the lookup table, detuning, and wavemeter over HTTP.

Routes:
	GET  /lut         the saved lookup table
	POST /detuning    {"f64": detuning in GHz}, tunes and verifies
	GET  /frequency   {"f64": wavemeter reading in GHz}
	POST /voltage     {"f64": volts}, bypasses the lookup table
	POST /disable     turns the outputs off
	GET  /route-list  every route
	GET  /lock, POST /lock {"bool": true|false}  refuse detuning while locked`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			hw, err := openHardware(cfg)
			if err != nil {
				return err
			}
			defer hw.close()
			svc := detuning.NewService(hw.act, hw.rdr, detuning.Config{
				LUTPath:            cfg.LUTPath,
				Channel:            hw.channel,
				ReferenceFrequency: cfg.ReferenceFrequency,
				SettleTime:         cfg.SettleTime,
			})
			srv := &http.Server{Addr: cfg.Addr, Handler: BuildMux(svc)}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			go func() {
				<-ctx.Done()
				shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdown)
			}()

			logrus.Infof("now listening for requests at %s", cfg.Addr)
			if err := srv.ListenAndServe(); err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
}
