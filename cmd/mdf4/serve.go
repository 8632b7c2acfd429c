package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-mdf4/mdf4/internal/rangehttp"
	"github.com/labstack/echo/v5"

	"github.com/urfave/cli/v3"
)

func serveCmd() *cli.Command {
	var (
		path        string
		addr        string
		readTimeout time.Duration
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve one MDF4 file over HTTP with Range support, for exercising HTTPRangeSource",
		Flags: append(loggingFlags(),
			&cli.StringFlag{
				Name:        "file",
				Aliases:     []string{"f"},
				Usage:       "path to .mf4 file",
				Destination: &path,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "timeout for reading request headers",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := newLogger(resolveLogLevel(), logFormat)

			e, err := rangehttp.NewServer(path)
			if err != nil {
				return err
			}

			log.Info("serving range requests", "file", path, "address", addr)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
