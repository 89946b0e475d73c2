package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or reset learned extraction patterns",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show pattern cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(a.cache.Stats())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Forget every learned pattern",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, false)
			if err != nil {
				return err
			}
			n := a.cache.Len()
			a.cache.Clear(ctx)
			// Close writes the now-empty snapshot.
			a.Close(context.Background())
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d pattern(s) from %s\n", n, cfg.Cache.Path)
			return nil
		},
	})
	return cmd
}

func newBackendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "Show configured backends and whether they are reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			out := cmd.OutOrStdout()
			for i, st := range a.chain.Status(ctx) {
				avail := "unavailable"
				if st.Available {
					avail = "available"
				}
				if st.State != "" {
					avail += " (breaker " + st.State + ")"
				}
				fmt.Fprintf(out, "%d. %-10s %s\n", i+1, st.Backend, avail)
			}
			return nil
		},
	}
}
