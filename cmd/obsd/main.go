// Obsd is the dispatch daemon for a robotic observatory: it loads the
// XML configuration, couples mount/camera/telescope/annex sessions to
// per-(group,unit) ObservationSystems, and runs the plan-acquisition and
// dome-slit control loops. Shutdown is handled gracefully on SIGINT or
// SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/starwatch-observatory/obsd/internal/app"
	"github.com/starwatch-observatory/obsd/internal/config"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", config.DefaultConfigPath, "path to the XML configuration file")
		bind       = pflag.String("bind", "", "HTTP introspection bind address (overrides none in config)")
		writeDef   = pflag.BoolP("write-default", "d", false, "write a default configuration file and exit")
		pidFile    = pflag.String("pidfile", "/var/run/obsd.pid", "path to the PID singleton file")
	)
	pflag.Parse()

	if *writeDef {
		if err := config.WriteDefault(*configPath); err != nil {
			log.Fatalf("obsd: write default config: %v", err)
		}
		fmt.Printf("wrote default configuration to %s\n", *configPath)
		return
	}

	logger := log.New(os.Stdout, "obsd ", log.LstdFlags|log.Lmicroseconds)

	release, err := acquirePIDFile(*pidFile)
	if err != nil {
		log.Fatalf("obsd: %v", err)
	}
	defer release()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Printf("no usable config at %s (%v), using defaults", *configPath, err)
	} else {
		logger.Printf("loaded config from %s", *configPath)
	}

	if err := config.EnsureDirectories(cfg); err != nil {
		log.Fatalf("obsd: directory setup: %v", err)
	}

	a := app.New(app.Options{
		Logger:     logger,
		Cfg:        cfg,
		ConfigPath: *configPath,
		Bind:       *bind,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("obsd: %v", err)
	}

	// Brief pause so in-flight log writes can flush before exit.
	time.Sleep(50 * time.Millisecond)
}

// acquirePIDFile enforces the single-instance contract from spec.md §6:
// it refuses to start if pidFile names a process that is still alive,
// otherwise it writes the current PID and returns a cleanup func.
func acquirePIDFile(path string) (func(), error) {
	if path == "" {
		return func() {}, nil
	}
	if b, err := os.ReadFile(path); err == nil {
		if pid, perr := strconv.Atoi(string(b)); perr == nil && pid > 0 {
			if proc, ferr := os.FindProcess(pid); ferr == nil {
				if err := proc.Signal(syscall.Signal(0)); err == nil {
					return nil, fmt.Errorf("already running (pid %d, pidfile %s)", pid, path)
				}
			}
		}
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return nil, fmt.Errorf("write pidfile %s: %w", path, err)
	}
	return func() { _ = os.Remove(path) }, nil
}
