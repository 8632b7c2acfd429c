package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/go-mdf4/mdf4/pkg/mdf4"

	"github.com/urfave/cli/v3"
)

func extractCmd() *cli.Command {
	var (
		path        string
		indexPath   string
		channelName string
		groupIdx    int
		channelIdx  int
		out         string
	)

	return &cli.Command{
		Name:  "extract",
		Usage: "Extract one channel's decoded samples from an MDF4 file",
		Flags: append(loggingFlags(),
			&cli.StringFlag{
				Name:        "file",
				Aliases:     []string{"f"},
				Usage:       "path to .mf4 file",
				Destination: &path,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "index",
				Usage:       "path to a previously built index JSON (built on the fly if omitted)",
				Destination: &indexPath,
			},
			&cli.StringFlag{
				Name:        "channel",
				Aliases:     []string{"c"},
				Usage:       "channel name to extract; first match across all groups",
				Destination: &channelName,
			},
			&cli.IntFlag{
				Name:        "group",
				Usage:       "channel group index (used with --channel-index instead of --channel)",
				Value:       -1,
				Destination: &groupIdx,
			},
			&cli.IntFlag{
				Name:        "channel-index",
				Usage:       "channel index within --group",
				Value:       -1,
				Destination: &channelIdx,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output path for CSV values (default: stdout)",
				Destination: &out,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := loadConfig()
			applyCommonConfig(cmd, cfg)
			log := newLogger(resolveLogLevel(), logFormat)

			source, err := mdf4.OpenMmapSource(path)
			if err != nil {
				return err
			}
			defer func() { _ = source.Close() }()

			var idx *mdf4.FileIndex
			if indexPath != "" {
				data, err := os.ReadFile(indexPath)
				if err != nil {
					return err
				}
				idx, err = mdf4.UnmarshalIndex(data)
				if err != nil {
					return err
				}
			} else {
				tree, err := mdf4.Walk(source, log)
				if err != nil {
					return err
				}
				idx = mdf4.BuildIndexFromTree(tree, log)
			}

			gi, ci := groupIdx, channelIdx
			if channelName != "" {
				gi, ci, err = findChannelByName(idx, channelName)
				if err != nil {
					return err
				}
			}
			if gi < 0 || ci < 0 {
				return fmt.Errorf("extract: specify --channel or both --group and --channel-index")
			}

			log.Info("extracting channel", "group", gi, "channel", ci)
			values, err := mdf4.ExtractChannel(source, idx, gi, ci)
			if err != nil {
				return err
			}

			w := os.Stdout
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				w = f
			}
			return writeCSV(w, values)
		},
	}
}

func findChannelByName(idx *mdf4.FileIndex, name string) (groupIdx, channelIdx int, err error) {
	for gi, group := range idx.Groups {
		for ci, ch := range group.Channels {
			if ch.Name == name {
				return gi, ci, nil
			}
		}
	}
	return 0, 0, fmt.Errorf("extract: no channel named %q", name)
}

func writeCSV(f *os.File, values []mdf4.DecodedValue) error {
	bw := bufio.NewWriter(f)
	defer func() { _ = bw.Flush() }()

	for i, dv := range values {
		if !dv.Valid {
			if _, err := fmt.Fprintf(bw, "%d,\n", i); err != nil {
				return err
			}
			continue
		}
		if dv.Value.IsText {
			if _, err := fmt.Fprintf(bw, "%d,%s\n", i, strconv.Quote(dv.Value.Text)); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(bw, "%d,%v\n", i, dv.Value.Number); err != nil {
			return err
		}
	}
	return nil
}
