package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <local> <remote>",
	Short: "Chunk, replicate, and upload a local file",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		e, err := newEnv()
		if err != nil {
			die(err)
		}
		defer e.Close()

		_, stats, err := e.orch.Upload(context.Background(), args[0], args[1])
		if err != nil {
			die("upload failed:", err)
		}
		fmt.Printf("uploaded %s as %s\n", args[0], args[1])
		printStats(stats)
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download <remote> <local>",
	Short: "Reconstruct a remote file to a local path",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		e, err := newEnv()
		if err != nil {
			die(err)
		}
		defer e.Close()

		stats, err := e.orch.Download(context.Background(), args[0], args[1])
		if err != nil {
			die("download failed:", err)
		}
		fmt.Printf("downloaded %s to %s\n", args[0], args[1])
		printStats(stats)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <remote>",
	Short: "Delete every replica and the manifest of a remote file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e, err := newEnv()
		if err != nil {
			die(err)
		}
		defer e.Close()

		if err := e.orch.Delete(context.Background(), args[0]); err != nil {
			die("delete failed:", err)
		}
		fmt.Printf("deleted %s\n", args[0])
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List remote files known to any configured server",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		e, err := newEnv()
		if err != nil {
			die(err)
		}
		defer e.Close()

		names, err := e.orch.ListManifests(context.Background())
		if err != nil {
			die("list failed:", err)
		}
		for _, n := range names {
			fmt.Println(n)
		}
	},
}
