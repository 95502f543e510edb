package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mohammad-safakhou/artha/config"
	"github.com/mohammad-safakhou/artha/internal/consensus"
	"github.com/mohammad-safakhou/artha/internal/runtime"
	"github.com/spf13/cobra"
)

func askCMD(cfgPath *string) *cobra.Command {
	var (
		user      string
		producers []string
		refresh   bool
		asJSON    bool
		verbose   bool
	)
	var ask = &cobra.Command{
		Use:   "ask <question>",
		Short: "Run one consensus query and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			opts := runtime.Options{ServiceVersion: version, SkipStore: true}
			if !verbose {
				opts.LogOutput = io.Discard
			}
			rt, err := runtime.Build(cmd.Context(), cfg, opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.Engine.Process(cmd.Context(), consensus.Request{
				UserID:       user,
				Query:        strings.Join(args, " "),
				Producers:    producers,
				ForceRefresh: refresh,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			fmt.Fprintln(out, consensus.RenderTransparency(res))
			return nil
		},
	}
	ask.Flags().StringVarP(&user, "user", "u", "", "phone number registered with the data provider")
	ask.Flags().StringSliceVar(&producers, "producers", nil, "run only these producers")
	ask.Flags().BoolVar(&refresh, "refresh", false, "bypass the snapshot and result caches")
	ask.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	ask.Flags().BoolVarP(&verbose, "verbose", "v", false, "show component logs")
	_ = ask.MarkFlagRequired("user")
	return ask
}
