// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playlist

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
)

const startTag = "#EXTTSPLAY:start="

// WriteM3U writes items as an extended M3U list. Start offsets are kept in a
// private tag so the list stays readable by other players.
func WriteM3U(w io.Writer, items []Item) error {
	buf := &bytes.Buffer{}
	buf.WriteString("#EXTM3U\n")
	for _, it := range items {
		buf.WriteString(fmt.Sprintf("#EXTINF:-1,%s\n", filepath.Base(it.Path)))
		if it.StartMsec >= 0 {
			buf.WriteString(fmt.Sprintf("%s%d\n", startTag, it.StartMsec))
		}
		buf.WriteString(it.Path + "\n")
	}
	_, err := io.Copy(w, buf)
	return err
}

// ReadM3U parses a plain or extended M3U list. Relative paths resolve against
// baseDir; URLs are kept as-is.
func ReadM3U(r io.Reader, baseDir string) ([]Item, error) {
	var items []Item
	start := NoOffset

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if line == 1 {
			text = strings.TrimPrefix(text, "\ufeff")
		}
		switch {
		case text == "":
			continue
		case strings.HasPrefix(text, startTag):
			v, err := strconv.Atoi(strings.TrimPrefix(text, startTag))
			if err != nil || v < 0 {
				return nil, fmt.Errorf("line %d: invalid start offset %q", line, text)
			}
			start = v
			continue
		case strings.HasPrefix(text, "#"):
			continue
		}

		path := text
		if !strings.Contains(path, "://") && !filepath.IsAbs(path) && baseDir != "" {
			path = filepath.Join(baseDir, path)
		}
		items = append(items, Item{Path: path, StartMsec: start})
		start = NoOffset
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read playlist: %w", err)
	}
	return items, nil
}
