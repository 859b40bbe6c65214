package main

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and storage information",
		Run: func(cmd *cobra.Command, args []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "fuelscraper %s (commit %s, built %s)\n", Version, Commit, BuildDate)
	fmt.Fprintf(w, "  Go:       %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	if cfg != nil {
		fmt.Fprintf(w, "  Database: %s\n", cfg.DatabaseDriver)
		fmt.Fprintf(w, "  Geocoder: %s\n", cfg.Geocode.Provider)
	}
}
