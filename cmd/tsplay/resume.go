// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuGH/tsplay/internal/resume"
)

func newResumeCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Inspect or edit stored resume positions",
	}

	// withCache opens the configured store and cache, runs fn, and saves when fn asks for it.
	withCache := func(cmd *cobra.Command, fn func(c *resume.Cache) (bool, error)) error {
		cfg, err := root.load()
		if err != nil {
			return err
		}
		store, err := resume.NewStore(cfg.Resume.Backend, cfg.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()
		cache, err := resume.Open(cmd.Context(), store, cfg.Resume.Capacity, cfg.Resume.Salt)
		if err != nil {
			return err
		}
		save, err := fn(cache)
		if err != nil || !save {
			return err
		}
		return store.Save(cmd.Context(), cache.Snapshot())
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List stored positions, oldest first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCache(cmd, func(c *resume.Cache) (bool, error) {
					tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "FINGERPRINT\tPOSITION")
					for _, e := range c.Entries() {
						fmt.Fprintf(tw, "%016x\t%s\n", e.Fingerprint, (time.Duration(e.PosMsec) * time.Millisecond).String())
					}
					return false, tw.Flush()
				})
			},
		},
		&cobra.Command{
			Use:   "show FILE...",
			Short: "Show the stored position of recordings",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCache(cmd, func(c *resume.Cache) (bool, error) {
					for _, path := range args {
						fp, err := resume.FingerprintFile(path, c.Salt())
						if err != nil {
							return false, err
						}
						if pos, ok := c.Lookup(fp); ok {
							fmt.Fprintf(cmd.OutOrStdout(), "%s\t%dms\n", path, pos)
						} else {
							fmt.Fprintf(cmd.OutOrStdout(), "%s\t-\n", path)
						}
					}
					return false, nil
				})
			},
		},
		&cobra.Command{
			Use:   "forget FILE...",
			Short: "Drop the stored position of recordings",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCache(cmd, func(c *resume.Cache) (bool, error) {
					for _, path := range args {
						fp, err := resume.FingerprintFile(path, c.Salt())
						if err != nil {
							return false, err
						}
						if !c.Remove(fp) {
							fmt.Fprintf(cmd.ErrOrStderr(), "%s: no stored position\n", path)
						}
					}
					return true, nil
				})
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Drop every stored position",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCache(cmd, func(c *resume.Cache) (bool, error) {
					n := c.Len()
					c.Restore(nil)
					fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries\n", n)
					return true, nil
				})
			},
		},
	)
	return cmd
}
