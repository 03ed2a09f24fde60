package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/gamepricer/config"
)

func runCMD() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "run [game-id...]",
		Short: "Scrape prices and update the best-price table",
		Long:  "Runs one scrape session. With game ids it prices exactly those games; without, it picks the games most in need of a price.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			ctx := cmd.Context()

			st, pipe, _, err := buildPipeline(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.DB.Close()

			sum, runErr := pipe.Run(ctx, args)
			out, err := json.MarshalIndent(sum, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return runErr
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	return cmd
}
