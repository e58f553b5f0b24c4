package ctl

import (
	"fmt"
	"strings"
)

// systemJSON mirrors coordinator.SystemSnapshot.
type systemJSON struct {
	GID   string `json:"GID"`
	UID   string `json:"UID"`
	State string `json:"State"`
	Alive bool   `json:"Alive"`
}

// Systems fetches and prints every ObservationSystem the daemon tracks.
func Systems(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var resp struct {
		Systems []systemJSON `json:"systems"`
	}
	if err := getJSON(baseURL, "/api/systems", &resp); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(resp.Systems)
	}

	fmt.Println()
	fmt.Println(header("  OBSERVATION SYSTEMS"))
	fmt.Println(colorize(dim, "  "+strings.Repeat("─", 50)))
	if len(resp.Systems) == 0 {
		fmt.Println(colorize(dim, "  (none coupled)"))
	}
	for _, s := range resp.Systems {
		alive := colorize(green, "alive")
		if !s.Alive {
			alive = colorize(red, "dead")
		}
		fmt.Printf("  %s/%s  %s  %s\n",
			padRight(s.GID, 8), padRight(s.UID, 8),
			colorize(stateColor(s.State), padRight(s.State, 8)),
			alive,
		)
	}
	fmt.Println()
	return nil
}
