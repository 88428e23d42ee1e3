package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var dashboardProfile string

var statusCmd = &cobra.Command{
	Use:   "status <bundle-id>",
	Short: "Show a bundle and its jobs",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Show the latest forecast outputs of a profile",
	RunE:  runDashboard,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(dashboardCmd)

	dashboardCmd.Flags().StringVar(&dashboardProfile, "profile", "", "profile id (required)")
	dashboardCmd.MarkFlagRequired("profile")
}

func runStatus(cmd *cobra.Command, args []string) error {
	p, err := openPipeline(false)
	if err != nil {
		return err
	}
	defer p.Close()

	status, err := p.Status(cmd.Context(), args[0])
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("bundle %s not found", args[0])
		}
		return err
	}
	return printBundleStatus(os.Stdout, status)
}

func runDashboard(cmd *cobra.Command, args []string) error {
	p, err := openPipeline(false)
	if err != nil {
		return err
	}
	defer p.Close()

	view, err := p.Dashboard(cmd.Context(), dashboardProfile)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("no forecast for profile %s yet", dashboardProfile)
		}
		return err
	}
	return printDashboard(os.Stdout, view)
}
