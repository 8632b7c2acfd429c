package main

import (
	"context"
	"fmt"

	"github.com/go-mdf4/mdf4/pkg/mdf4"

	"github.com/urfave/cli/v3"
)

func inspectCmd() *cli.Command {
	var (
		path        string
		showGroups  bool
		showChannels bool
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Print the structure of an MDF4 file: data groups, channel groups, channels",
		Flags: append(loggingFlags(),
			&cli.StringFlag{
				Name:        "file",
				Aliases:     []string{"f"},
				Usage:       "path to .mf4 file",
				Destination: &path,
				Required:    true,
			},
			&cli.BoolFlag{Name: "groups", Usage: "show channel group summaries", Destination: &showGroups},
			&cli.BoolFlag{Name: "channels", Usage: "list every channel in each group", Destination: &showChannels},
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

			tree, err := mdf4.Walk(source, log)
			if err != nil {
				return err
			}

			fmt.Printf("version:     %d\n", tree.ID.VersionNumber)
			fmt.Printf("byte order:  little-endian=%v\n", tree.ID.ByteOrderLE)
			fmt.Printf("start time:  %d ns\n", tree.Header.StartTimeNS)
			fmt.Printf("data groups: %d\n", len(tree.Groups))

			for dgIdx, dgn := range tree.Groups {
				log.Debug("data group", "index", dgIdx, "fragments", len(dgn.Fragments), "record_id_size", dgn.Raw.RecordIDSize)
				if !showGroups && !showChannels {
					continue
				}
				for cgIdx, cgn := range dgn.Groups {
					fmt.Printf("\n[dg %d / cg %d] record_id=%d cycles=%d data_bytes=%d channels=%d\n",
						dgIdx, cgIdx, cgn.Raw.RecordID, cgn.Raw.CycleCount, cgn.Raw.DataBytes, len(cgn.Channels))
					if !showChannels {
						continue
					}
					for _, ch := range cgn.Channels {
						fmt.Printf("  %-24s type=%-2d bits=%-3d byte_off=%d unit=%q\n",
							ch.Name, ch.Raw.DataType, ch.Raw.BitCount, ch.Raw.ByteOffset, ch.Unit)
					}
				}
			}
			return nil
		},
	}
}
