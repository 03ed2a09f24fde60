package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/gamepricer/config"
)

func refreshCMD() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Pull the game catalog once and store it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			ctx := cmd.Context()

			st, pipe, _, err := buildPipeline(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.DB.Close()

			n, err := pipe.Refresh(ctx)
			fmt.Printf("stored %d games\n", n)
			return err
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	return cmd
}
