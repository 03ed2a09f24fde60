package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "gamepricer",
		Short: "Game catalog and best-price pipeline",
	}
	root.AddCommand(serveCMD(), migrateCMD(), refreshCMD(), runCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
