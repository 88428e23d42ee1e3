package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
)

var (
	runProfile string
	runWait    bool
	runTimeout time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Request a forecast for a profile",
	Long: `Creates a bundle for the profile and enqueues its price, market and news jobs.
Without --server the workers run in this process and the command waits for the bundle.`,
	RunE: runForecast,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <bundle-id>",
	Short: "Cancel a bundle that has not resolved",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(cancelCmd)

	runCmd.Flags().StringVar(&runProfile, "profile", "", "profile id (required)")
	runCmd.Flags().BoolVar(&runWait, "wait", false, "wait for the bundle when talking to a server")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 15*time.Minute, "how long to wait for the bundle")
	runCmd.MarkFlagRequired("profile")
}

func runForecast(cmd *cobra.Command, args []string) error {
	// In-process runs always wait; nobody else would drain the queues
	wait := runWait || !remote()

	p, err := openPipeline(wait && !remote())
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	bundle, err := p.RunForecast(ctx, runProfile)
	if err != nil {
		return fmt.Errorf("failed to request forecast for %s: %w", runProfile, err)
	}

	if !wait {
		if isJSONOutput() {
			return writeJSON(os.Stdout, bundle)
		}
		fmt.Printf("Bundle %s queued for %s\n", bundle.ID, bundle.ProfileID)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	status, err := p.WaitForBundle(ctx, bundle.ID, time.Second)
	if err != nil {
		return fmt.Errorf("bundle %s did not resolve: %w", bundle.ID, err)
	}

	if err := printBundleStatus(os.Stdout, status); err != nil {
		return err
	}

	if view, err := p.Dashboard(ctx, bundle.ProfileID); err == nil && !isJSONOutput() {
		fmt.Println()
		return printDashboard(os.Stdout, view)
	}
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	p, err := openPipeline(false)
	if err != nil {
		return err
	}
	defer p.Close()

	bundle, err := p.CancelBundle(cmd.Context(), args[0])
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("bundle %s not found", args[0])
		}
		return err
	}
	fmt.Printf("Bundle %s is %s\n", bundle.ID, bundle.Status)
	return nil
}
