package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	alertsProfile string
	alertsAll     bool
	alertsLimit   int
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List and acknowledge deviation alerts",
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts, open ones only unless --all",
	RunE:  runAlertsList,
}

var alertsAckCmd = &cobra.Command{
	Use:   "ack <alert-id>",
	Short: "Acknowledge an alert",
	Args:  cobra.ExactArgs(1),
	RunE:  runAlertsAck,
}

func init() {
	rootCmd.AddCommand(alertsCmd)
	alertsCmd.AddCommand(alertsListCmd)
	alertsCmd.AddCommand(alertsAckCmd)

	alertsListCmd.Flags().StringVar(&alertsProfile, "profile", "", "only alerts for this profile")
	alertsListCmd.Flags().BoolVar(&alertsAll, "all", false, "include acknowledged alerts")
	alertsListCmd.Flags().IntVar(&alertsLimit, "limit", 50, "maximum number of alerts")
}

func runAlertsList(cmd *cobra.Command, args []string) error {
	p, err := openPipeline(false)
	if err != nil {
		return err
	}
	defer p.Close()

	alerts, err := p.ListAlerts(cmd.Context(), alertsProfile, !alertsAll, alertsLimit)
	if err != nil {
		return err
	}
	return printAlerts(os.Stdout, alerts)
}

func runAlertsAck(cmd *cobra.Command, args []string) error {
	p, err := openPipeline(false)
	if err != nil {
		return err
	}
	defer p.Close()

	if err := p.AckAlert(cmd.Context(), args[0]); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("alert %s not found", args[0])
		}
		return err
	}
	fmt.Printf("Alert %s acknowledged\n", args[0])
	return nil
}
