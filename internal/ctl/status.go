package ctl

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// StatusResponse mirrors the JSON returned by GET /api/status.
type StatusResponse struct {
	Name          string `json:"name"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	PlanRoot      string `json:"plan_root"`
	SiteCount     int    `json:"site_count"`
	SystemCount   int    `json:"system_count"`
	NTPOffsetMs   int64  `json:"ntp_offset_ms"`
}

// Status fetches the daemon status and prints a formatted summary.
func Status(baseURL string) error {
	baseURL = strings.TrimRight(baseURL, "/")

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(baseURL + "/api/status")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}

	var s StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return err
	}

	uptime := formatDuration(time.Duration(s.UptimeSeconds) * time.Second)

	fmt.Println()
	fmt.Println(header("  OBSERVATION DISPATCH STATUS"))
	fmt.Println(colorize(dim, "  "+strings.Repeat("─", 38)))
	fmt.Printf("  %-12s %s\n", colorize(dim, "Daemon:"), s.Name)
	fmt.Printf("  %-12s %s\n", colorize(dim, "Uptime:"), uptime)
	fmt.Printf("  %-12s %s\n", colorize(dim, "Plan root:"), s.PlanRoot)
	fmt.Printf("  %-12s %d\n", colorize(dim, "Sites:"), s.SiteCount)
	fmt.Printf("  %-12s %d\n", colorize(dim, "Systems:"), s.SystemCount)
	if s.NTPOffsetMs != 0 {
		fmt.Printf("  %-12s %dms\n", colorize(dim, "NTP offset:"), s.NTPOffsetMs)
	}
	fmt.Printf("  %-12s %s\n", colorize(dim, "Host:"), baseURL)
	fmt.Println()

	return nil
}
