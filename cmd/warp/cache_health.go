package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/warp/internal/cache"
)

var cacheHealthCmd = &cobra.Command{
	Use:   "cache-health",
	Short: "Check connectivity to the configured shared-view Redis cache",
	Long: `cache-health connects to config's cache.shared_cache_url and pings it.
With no shared cache configured, reports that the shared cache is disabled
(not an error — materialize.Engine always falls back to a local rebuild).`,
	RunE: runCacheHealth,
}

func init() {
	rootCmd.AddCommand(cacheHealthCmd)
}

type cacheHealthReport struct {
	Configured bool   `json:"configured"`
	Healthy    bool   `json:"healthy"`
	Error      string `json:"error,omitempty"`
}

func runCacheHealth(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	report := cacheHealthReport{Configured: cfg.Cache.SharedCacheURL != ""}

	if report.Configured {
		client, err := cache.NewClientFromURL(ctx, cfg.Cache.SharedCacheURL)
		if err != nil {
			report.Error = err.Error()
		} else {
			defer client.Close()
			if err := client.HealthCheck(ctx); err != nil {
				report.Error = err.Error()
			} else {
				report.Healthy = true
			}
		}
	}

	if jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else if !report.Configured {
		fmt.Println("cache-health: no shared cache configured")
	} else if report.Healthy {
		fmt.Println("cache-health: ✓ PASS")
	} else {
		fmt.Printf("cache-health: ✗ FAIL: %s\n", report.Error)
	}

	if report.Configured && !report.Healthy {
		return fmt.Errorf("cache-health: %s", report.Error)
	}
	return nil
}
