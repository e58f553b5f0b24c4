// Obsctl is the command-line client for monitoring and controlling a
// running obsd instance. It connects over HTTP and WebSocket to query
// status and stream live dispatch events from the daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/starwatch-observatory/obsd/internal/ctl"
)

func main() {
	var (
		host    = pflag.StringP("host", "H", "http://127.0.0.1:8090", "obsd daemon URL (e.g. http://192.168.8.1:8090)")
		jsonOut = pflag.Bool("json", false, "Output raw JSON instead of formatted text")
		filter  = pflag.StringSlice("filter", nil, "Event types to show in watch (e.g. --filter regime-edge,rain)")
	)

	// Stop parsing global flags at the first non-flag argument (the
	// command name), so subcommand-specific flags aren't rejected.
	pflag.CommandLine.SetInterspersed(false)
	pflag.Parse()

	if pflag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cmd := pflag.Arg(0)

	var err error
	switch cmd {
	case "status":
		err = ctl.Status(*host)

	case "health":
		err = ctl.Health(*host, *jsonOut)

	case "version":
		err = ctl.VersionInfo(*host, *jsonOut)

	case "systems":
		err = ctl.Systems(*host, *jsonOut)

	case "plans":
		err = ctl.Plans(*host, *jsonOut)

	case "reload":
		err = ctl.Reload(*host, ctl.ReloadOptions{JSON: *jsonOut})

	case "watch":
		err = ctl.Watch(*host, ctl.WatchOptions{
			Filter: *filter,
			JSON:   *jsonOut,
		})

	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Print(`
  obsctl — observation dispatch control CLI

  USAGE
    obsctl [flags] <command>

  COMMANDS (query)
    status          Show daemon uptime, plan root, and system/site counts
    health          Check daemon and component health
    version         Show CLI and daemon version information
    systems         List coupled ObservationSystems and their state
    plans           List the currently loaded observation plans

  COMMANDS (control)
    reload          Force an immediate plan-directory reload

  COMMANDS (live)
    watch           Stream live dispatch events (Ctrl-C to stop)

  GLOBAL FLAGS
    -H, --host URL      Daemon base URL (default: http://127.0.0.1:8090)
        --json          Output raw JSON instead of formatted text
        --filter TYPE   Event types to show in watch (comma-separated)

  EXAMPLES
    obsctl status
    obsctl --json systems
    obsctl --host http://192.168.8.1:8090 watch
    obsctl --filter regime-edge,rain,slit-command watch
    obsctl reload

`)
}
