// Package app wires together the HTTP introspection server, the
// telemetry WebSocket hub, and the Coordinator that runs the actual
// dispatch loop. It owns the daemon's lifecycle and is the single place
// that turns a loaded Config into a running process.
package app

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/starwatch-observatory/obsd/internal/config"
	"github.com/starwatch-observatory/obsd/internal/coordinator"
	"github.com/starwatch-observatory/obsd/internal/notify"
	"github.com/starwatch-observatory/obsd/internal/telemetry"
)

// Options holds everything the App needs from the caller.
type Options struct {
	Logger     *log.Logger
	Cfg        config.Config
	ConfigPath string
	Bind       string
}

// App is the top-level daemon process: the Coordinator, the telemetry
// hub that mirrors its activity to dashboards, and the HTTP server that
// exposes both.
type App struct {
	log        *log.Logger
	cfg        config.Config
	configPath string
	bind       string
	server     *http.Server

	startedAt time.Time

	hub   *telemetry.Hub
	coord *coordinator.Coordinator
	ntp   *notify.NTPSync
}

// New wires the Coordinator and its reporters from cfg but starts
// nothing; call Run to start serving and dispatching.
func New(opts Options) *App {
	a := &App{
		log:        opts.Logger,
		cfg:        opts.Cfg,
		configPath: opts.ConfigPath,
		bind:       opts.Bind,
		startedAt:  time.Now(),
		hub:        telemetry.NewHub(),
	}

	logReporter := notify.NewLogReporter(opts.Logger)
	var dbReporter *notify.DBReporter
	if opts.Cfg.Database.Enable {
		dbReporter = notify.NewDBReporter(opts.Logger, opts.Cfg.Database.URL)
	}
	reporter := notify.NewMultiReporter(logReporter, dbReporter)

	if opts.Cfg.NTP.Enable {
		a.ntp = notify.NewNTPSync(opts.Logger, opts.Cfg.NTP.Host)
	}

	sites := make([]coordinator.SiteConfig, 0, len(opts.Cfg.Sites.Sites))
	for _, s := range opts.Cfg.Sites.Sites {
		sites = append(sites, coordinator.SiteConfig{
			GID:            s.GID,
			LonDeg:         s.LonDeg,
			LatDeg:         s.LatDeg,
			AltM:           s.AltM,
			ElevationLimit: opts.Cfg.ElevationLimit(s.GID, ""),
		})
	}

	a.coord = coordinator.New(coordinator.Options{
		Logger: opts.Logger,
		Ports: coordinator.Ports{
			Client: opts.Cfg.Network.Client,
			Mount:  opts.Cfg.Network.Mount,
			Camera: opts.Cfg.Network.Camera,
			Focus:  opts.Cfg.Network.Focus,
			Annex:  opts.Cfg.Network.Annex,
		},
		Sites:     sites,
		PlanRoot:  opts.Cfg.ObsPlan.Root,
		Reporter:  reporter,
		Telemetry: a.hub,
	})

	return a
}

// Run starts the HTTP server, the telemetry hub, the NTP synchroniser,
// and the Coordinator's listeners and background sweeps. It blocks
// until the context is cancelled or the server returns an error.
func (a *App) Run(ctx context.Context) error {
	bind := a.bind
	if bind == "" {
		bind = "0.0.0.0:8090"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/api/status", a.handleStatus)
	mux.HandleFunc("/api/version", a.handleVersion)
	mux.HandleFunc("/api/systems", a.handleSystems)
	mux.HandleFunc("/api/plans", a.handlePlans)
	mux.HandleFunc("/api/environments", a.handleEnvironments)
	mux.HandleFunc("/api/reload", a.handleReload)
	mux.Handle("/ws", a.hub.Handler())

	a.server = &http.Server{
		Addr:              bind,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return err
	}

	a.log.Printf("app: listening on http://%s", bind)

	go a.hub.Run(ctx)
	if a.ntp != nil {
		go a.ntp.Run(ctx)
	}

	coordErrCh := make(chan error, 1)
	go func() { coordErrCh <- a.coord.Run(ctx) }()

	go func() {
		<-ctx.Done()
		a.log.Printf("app: shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.server.Shutdown(shutdownCtx)
	}()

	if err := a.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return <-coordErrCh
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Accept") == "application/json" {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"healthy":        true,
			"uptime_seconds": int64(time.Since(a.startedAt).Seconds()),
		})
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}
