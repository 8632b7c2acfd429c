package main

import (
	"context"
	"os"

	"github.com/go-mdf4/mdf4/internal/logger"
	"github.com/go-mdf4/mdf4/pkg/mdf4"

	"github.com/urfave/cli/v3"
)

func indexCmd() *cli.Command {
	var (
		path       string
		out        string
		streaming  bool
		bufferPages int
	)

	return &cli.Command{
		Name:  "index",
		Usage: "Build a persisted channel index for an MDF4 file",
		Flags: append(loggingFlags(),
			&cli.StringFlag{
				Name:        "file",
				Aliases:     []string{"f"},
				Usage:       "path to .mf4 file",
				Destination: &path,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "path to write the index JSON (default: <file>.index.json)",
				Destination: &out,
			},
			&cli.BoolFlag{
				Name:        "streaming",
				Usage:       "build via the bounded-memory streaming walk instead of a full parse",
				Destination: &streaming,
			},
			&cli.IntFlag{
				Name:        "buffer-pages",
				Usage:       "page count for the streaming source's LRU cache",
				Value:       64,
				Destination: &bufferPages,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := loadConfig()
			applyCommonConfig(cmd, cfg)
			if cfg.BufferPages > 0 && !cmd.IsSet("buffer-pages") {
				bufferPages = cfg.BufferPages
			}
			log := newLogger(resolveLogLevel(), logFormat)

			dest := out
			if dest == "" {
				dest = path + ".index.json"
			}

			idx, err := buildIndex(path, streaming, bufferPages, log)
			if err != nil {
				return err
			}
			log.Info("index built", "groups", len(idx.Groups), "mode", indexModeName(streaming))

			data, err := mdf4.MarshalIndex(idx)
			if err != nil {
				return err
			}
			if err := os.WriteFile(dest, data, 0o644); err != nil {
				return err
			}
			log.Info("index written", "path", dest)
			return nil
		},
	}
}

func indexModeName(streaming bool) string {
	if streaming {
		return "streaming"
	}
	return "from-tree"
}

func buildIndex(path string, streaming bool, bufferPages int, log logger.Logger) (*mdf4.FileIndex, error) {
	source, err := mdf4.OpenMmapSource(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = source.Close() }()

	if streaming {
		buffered := mdf4.NewBufferedSource(source, bufferPages)
		return mdf4.BuildIndexStreaming(buffered, log)
	}

	tree, err := mdf4.Walk(source, log)
	if err != nil {
		return nil, err
	}
	return mdf4.BuildIndexFromTree(tree, log), nil
}
