package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/netchunk/netchunk/pkg/errs"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <remote> [--repair]",
	Short: "Probe every replica of a remote file and classify its chunk health",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e, err := newEnv()
		if err != nil {
			die(err)
		}
		defer e.Close()

		ctx := context.Background()
		m, err := e.orch.FetchManifest(ctx, args[0])
		if err != nil {
			die("verify failed:", err)
		}

		report := e.repair.Verify(ctx, m)
		for _, c := range report.Chunks {
			fmt.Printf("chunk %s (seq %d): %s\n", c.ChunkID, c.Sequence, c.Health)
		}
		fmt.Printf("chunks_verified=%d\n", len(report.Chunks))

		if !repairFlag {
			return
		}

		result, err := e.repair.AutoRepair(ctx, m, false)
		if err != nil {
			die("repair failed:", err)
		}
		if e.cfg.Repair.RebalancingEnabled {
			if _, err := e.repair.Rebalance(ctx, m); err != nil {
				die("rebalance failed:", err)
			}
		}
		if err := e.orch.PersistManifest(ctx, m); err != nil {
			die("failed to persist repaired manifest:", err)
		}

		fmt.Printf("chunks_repaired=%d lost_chunks=%v\n", result.ChunksRepaired, result.LostChunks)
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Ping every configured server and report reachability",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		e, err := newEnv()
		if err != nil {
			die(err)
		}
		defer e.Close()

		results := e.orch.HealthCheck(context.Background())
		stats := errs.NewErrorStats()
		allHealthy := true
		for _, r := range results {
			if r.Reachable {
				fmt.Printf("%s: HEALTHY (latency=%s)\n", r.ServerID, r.Latency)
				continue
			}
			allHealthy = false
			fmt.Printf("%s: UNREACHABLE (%v)\n", r.ServerID, r.Err)
			if r.Err != nil {
				stats.Record(errs.New(errs.KindOf(r.Err), r.Err.Error(), r.Err).WithServer(r.ServerID))
			}
		}

		if worst, n := stats.MostProblematicServer(); n > 0 {
			fmt.Printf("most problematic server: %s (%d errors)\n", worst, n)
		}

		if !allHealthy {
			os.Exit(exitError)
		}
	},
}
