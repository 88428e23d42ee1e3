package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/ternarybob/foresight/internal/jobs"
	"github.com/ternarybob/foresight/internal/models"
)

var outputFormat string

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table or json")
}

func isJSONOutput() bool {
	return outputFormat == "json"
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// printBundleStatus renders a bundle header and one row per job
func printBundleStatus(w io.Writer, status *jobs.BundleStatus) error {
	if isJSONOutput() {
		return writeJSON(w, status)
	}

	b := status.Bundle
	fmt.Fprintf(w, "Bundle %s (%s)\n", b.ID, b.ProfileID)
	fmt.Fprintf(w, "  status:    %s\n", b.Status)
	fmt.Fprintf(w, "  trigger:   %s\n", b.Trigger)
	fmt.Fprintf(w, "  requested: %s\n", formatTime(&b.RequestedAt))
	if b.Degraded {
		fmt.Fprintln(w, "  degraded:  yes")
	}
	if b.Error != "" {
		fmt.Fprintf(w, "  error:     %s\n", b.Error)
	}
	fmt.Fprintln(w)

	table := tablewriter.NewWriter(w)
	table.Header("Job", "Type", "Status", "Retries", "Started", "Ended", "Error")
	for _, job := range status.Jobs {
		errMsg := ""
		if job.Error != nil {
			errMsg = *job.Error
		}
		table.Append(
			job.ID,
			string(job.Type),
			string(job.Status),
			fmt.Sprintf("%d/%d", job.RetryCount, job.MaxRetries),
			formatTime(job.StartedAt),
			formatTime(job.EndedAt),
			errMsg,
		)
	}
	return table.Render()
}

// printDashboard renders the latest per-domain outputs of a profile
func printDashboard(w io.Writer, view *models.DashboardView) error {
	if isJSONOutput() {
		return writeJSON(w, view)
	}

	table := tablewriter.NewWriter(w)
	table.Header("Field", "Value")
	table.Append("Profile", view.ProfileID)
	if e := view.Ensemble; e != nil {
		table.Append("Forecast", fmt.Sprintf("%.2f", e.ForecastValue))
		table.Append("Price only", fmt.Sprintf("%.2f", e.PriceOnlyValue))
		table.Append("Trend", string(e.Trend))
		table.Append("Confidence", fmt.Sprintf("%.2f", e.Confidence))
		table.Append("Agreement", fmt.Sprintf("%.1f%%", e.AgreementPct))
		if e.DeviationType != nil {
			table.Append("Deviation", string(*e.DeviationType))
		}
		table.Append("Report date", e.ReportDate)
	} else {
		table.Append("Forecast", "no ensemble yet")
	}
	table.Append("Degraded", fmt.Sprintf("%t", view.Degraded))

	domains := make([]string, 0, len(view.Freshness))
	for d := range view.Freshness {
		domains = append(domains, string(d))
	}
	sort.Strings(domains)
	for _, d := range domains {
		t := view.Freshness[models.Domain(d)]
		table.Append("Fresh "+d, formatTime(&t))
	}
	if err := table.Render(); err != nil {
		return err
	}

	if view.Ensemble != nil && view.Ensemble.Summary != "" {
		fmt.Fprintf(w, "\n%s\n", view.Ensemble.Summary)
	}
	return nil
}

// printAlerts renders alerts newest first as returned by the store
func printAlerts(w io.Writer, alerts []*models.Alert) error {
	if isJSONOutput() {
		if alerts == nil {
			alerts = []*models.Alert{}
		}
		return writeJSON(w, alerts)
	}

	if len(alerts) == 0 {
		fmt.Fprintln(w, "No alerts")
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("ID", "Profile", "Type", "Severity", "Ack", "Created", "Message")
	for _, a := range alerts {
		ack := ""
		if a.Acknowledged {
			ack = "yes"
		}
		table.Append(
			a.ID,
			a.ProfileID,
			string(a.Type),
			strings.ToUpper(string(a.Severity)),
			ack,
			formatTime(&a.CreatedAt),
			a.Message,
		)
	}
	return table.Render()
}
