// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ManuGH/tsplay/internal/daemon"
	"github.com/ManuGH/tsplay/internal/player"
	"github.com/ManuGH/tsplay/internal/playlist"
)

type playOptions struct {
	output string
	offset int
	speed  int
	repeat string
	listen string
}

func newPlayCmd(root *rootOptions) *cobra.Command {
	o := &playOptions{}
	cmd := &cobra.Command{
		Use:   "play FILE|PLAYLIST.m3u...",
		Short: "Play recordings to the configured output",
		Long: "Play one or more recordings in order. Without --listen the command exits when the\n" +
			"playlist ends; with --listen it keeps serving the control API until interrupted.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, root, args)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.output, "output", "o", "", "output target: -, file path, udp://host:port or tcp://host:port")
	f.IntVar(&o.offset, "offset", playlist.NoOffset, "start offset of the first item in ms (-1 resumes)")
	f.IntVar(&o.speed, "speed", -1, "stretch id to play at (see the speed table)")
	f.StringVar(&o.repeat, "repeat", "", "repeat mode: none, all or single")
	f.StringVar(&o.listen, "listen", "", "serve the control API on this address")
	return cmd
}

func (o *playOptions) run(cmd *cobra.Command, root *rootOptions, args []string) error {
	cfg, err := root.load()
	if err != nil {
		return err
	}
	if o.output != "" {
		cfg.Output.Target = o.output
	}
	if o.repeat != "" {
		if _, err := playlist.ParseRepeat(o.repeat); err != nil {
			return err
		}
		cfg.Playback.Repeat = o.repeat
	}
	cfg.API.ListenAddr = o.listen

	items, err := expandItems(args)
	if err != nil {
		return err
	}
	if o.offset != playlist.NoOffset {
		items[0].StartMsec = o.offset
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	d, err := daemon.New(ctx, cfg, daemon.Options{LogOutput: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx) }()

	ctl := d.Player()
	if _, err := ctl.OpenPlaylist(ctx, items, 0); err != nil {
		cancel()
		<-runErr
		return err
	}
	if o.speed >= 0 {
		if err := ctl.SetSpeed(ctx, o.speed); err != nil {
			cancel()
			<-runErr
			return err
		}
	}

	// The control API consumes notices itself.
	if o.listen != "" {
		return <-runErr
	}

	var playErr error
wait:
	for {
		select {
		case err := <-runErr:
			return err
		case n := <-ctl.Notices():
			switch n.Kind {
			case player.NoticeEnded:
				break wait
			case player.NoticeHalted:
				playErr = fmt.Errorf("playback halted on %s: %s", n.Path, n.Err)
				break wait
			}
		}
	}
	cancel()
	if err := <-runErr; err != nil {
		return errors.Join(playErr, err)
	}
	return playErr
}

// expandItems turns arguments into playlist items; .m3u and .m3u8 files are expanded.
func expandItems(args []string) ([]playlist.Item, error) {
	var items []playlist.Item
	for _, arg := range args {
		ext := strings.ToLower(filepath.Ext(arg))
		if ext != ".m3u" && ext != ".m3u8" {
			items = append(items, playlist.NewItem(arg))
			continue
		}
		f, err := os.Open(arg) // #nosec G304
		if err != nil {
			return nil, err
		}
		list, err := playlist.ReadM3U(f, filepath.Dir(arg))
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", arg, err)
		}
		items = append(items, list...)
	}
	if len(items) == 0 {
		return nil, errors.New("nothing to play")
	}
	return items, nil
}
