package ctl

import (
	"fmt"
	"strings"
)

// ReloadOptions configures the reload command.
type ReloadOptions struct {
	JSON bool
}

// Reload forces the daemon to re-scan its plan directory immediately,
// the same effect a client's load-plan protocol message has.
func Reload(baseURL string, opts ReloadOptions) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var result struct {
		OK bool `json:"ok"`
	}
	if err := postJSON(baseURL, "/api/reload", nil, &result); err != nil {
		return err
	}

	if opts.JSON {
		return printJSON(result)
	}

	if result.OK {
		fmt.Printf("\n  %s  plan directory reload triggered\n\n", colorize(green, "RELOADED"))
	} else {
		fmt.Printf("\n  %s  reload request failed\n\n", colorize(red, "ERROR"))
	}
	return nil
}
