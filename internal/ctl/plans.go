package ctl

import (
	"fmt"
	"strings"
)

// planJSON mirrors the exported fields of planstore.Plan.
type planJSON struct {
	GID        string  `json:"GID"`
	UID        string  `json:"UID"`
	PlanSN     string  `json:"PlanSN"`
	ObjectName string  `json:"ObjectName"`
	ExpDur     float64 `json:"ExpDur"`
	FrameCount int     `json:"FrameCount"`
	State      int     `json:"State"`
}

var planStateNames = []string{"Cataloged", "Wait", "Run", "Over", "Interrupted", "Delete", "Abandon"}

func planStateName(s int) string {
	if s >= 0 && s < len(planStateNames) {
		return planStateNames[s]
	}
	return "Unknown"
}

// Plans fetches and prints the daemon's current plan set.
func Plans(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var resp struct {
		Plans []planJSON `json:"plans"`
	}
	if err := getJSON(baseURL, "/api/plans", &resp); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(resp.Plans)
	}

	fmt.Println()
	fmt.Println(header("  OBSERVATION PLANS"))
	fmt.Println(colorize(dim, "  "+strings.Repeat("─", 60)))
	if len(resp.Plans) == 0 {
		fmt.Println(colorize(dim, "  (none loaded)"))
	}
	for _, p := range resp.Plans {
		state := planStateName(p.State)
		fmt.Printf("  %s  %s/%s  %s  %s  %dx%.1fs\n",
			padRight(p.PlanSN, 16),
			padRight(p.GID, 6), padRight(p.UID, 6),
			colorize(stateColor(state), padRight(state, 11)),
			padRight(p.ObjectName, 14),
			p.FrameCount, p.ExpDur,
		)
	}
	fmt.Println()
	return nil
}
