// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuGH/tsplay/internal/ts"
)

// ProbeResult is the probe output for one file.
type ProbeResult struct {
	Path       string `json:"path"`
	Unit       int    `json:"unit"`
	Start      int64  `json:"start"`
	Size       int64  `json:"size"`
	PCRPID     int    `json:"pcr_pid"`
	DurationMs int64  `json:"duration_ms"`
	// Discontinuities is the number of PCR jumps timed by byte distance.
	Discontinuities int    `json:"discontinuities"`
	Error           string `json:"error,omitempty"`
}

func newProbeCmd(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "probe FILE...",
		Short: "Show framing and duration of recordings",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := ts.ProbeOptions{Window: ts.DefaultProbeWindow, MaxStep: ts.DefaultMaxPCRStep}
			if cfg, err := root.load(); err == nil {
				opts = ts.ProbeOptions{Window: cfg.Engine.ProbeWindow, MaxStep: cfg.Engine.Jitter}
			}

			results := make([]ProbeResult, 0, len(args))
			failed := 0
			for _, path := range args {
				r := probeFile(path, opts)
				if r.Error != "" {
					failed++
				}
				results = append(results, r)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(results); err != nil {
					return err
				}
			} else {
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "PATH\tUNIT\tPCR PID\tDURATION\tJUMPS\tERROR")
				for _, r := range results {
					fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%d\t%s\n", r.Path, r.Unit, r.PCRPID,
						(time.Duration(r.DurationMs) * time.Millisecond).String(), r.Discontinuities, r.Error)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files could not be probed", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func probeFile(path string, opts ts.ProbeOptions) ProbeResult {
	r := ProbeResult{Path: path, PCRPID: -1}
	f, err := os.Open(path) // #nosec G304
	if err != nil {
		r.Error = err.Error()
		return r
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		r.Error = err.Error()
		return r
	}
	info, err := ts.Probe(f, st.Size(), opts)
	if err != nil {
		r.Error = err.Error()
		return r
	}
	r.Unit = info.Framing.Unit
	r.Start = info.Start
	r.Size = info.Size
	r.PCRPID = info.PCRPID
	r.DurationMs = info.Duration.Milliseconds()
	r.Discontinuities = info.Discontinuities
	return r
}
