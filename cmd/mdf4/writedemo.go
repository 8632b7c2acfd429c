package main

import (
	"context"
	"math"
	"os"

	"github.com/go-mdf4/mdf4/pkg/mdf4"

	"github.com/urfave/cli/v3"
)

// writeDemoCmd builds a small synthetic MDF4 file exercising the writer
// state machine end to end: one data group, one channel group, a time
// channel and a linearly converted sine-wave channel.
func writeDemoCmd() *cli.Command {
	var (
		out    string
		cycles int
	)

	return &cli.Command{
		Name:  "write-demo",
		Usage: "Write a small synthetic MDF4 file for testing readers against",
		Flags: append(loggingFlags(),
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output path",
				Value:       "demo.mf4",
				Destination: &out,
			},
			&cli.IntFlag{
				Name:        "cycles",
				Usage:       "number of records to write",
				Value:       100,
				Destination: &cycles,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := newLogger(resolveLogLevel(), logFormat)

			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			sink, err := mdf4.NewFileSink(f)
			if err != nil {
				return err
			}

			w := mdf4.NewWriter(sink, log)
			if err := w.InitMDFFile(); err != nil {
				return err
			}

			_, cg, err := w.AddChannelGroup(-1, 0)
			if err != nil {
				return err
			}

			if err := w.AddChannel(cg, mdf4.ChannelConfig{
				Name:     "time",
				Unit:     "s",
				DataType: mdf4.DataTypeFloatLE,
				BitCount: 64,
			}); err != nil {
				return err
			}
			if err := w.AddChannel(cg, mdf4.ChannelConfig{
				Name:     "sine",
				Unit:     "V",
				DataType: mdf4.DataTypeFloatLE,
				BitCount: 64,
				Conversion: &mdf4.Conversion{
					Type:   mdf4.ConversionLinear,
					Values: []float64{0, 2},
				},
			}); err != nil {
				return err
			}

			if err := w.StartDataBlockForCG(cg); err != nil {
				return err
			}
			for i := 0; i < cycles; i++ {
				t := float64(i) * 0.01
				values := []mdf4.Value{
					{Number: t},
					{Number: math.Sin(t)},
				}
				if err := w.WriteRecord(cg, values, nil); err != nil {
					return err
				}
			}
			if err := w.FinishDataBlock(cg); err != nil {
				return err
			}

			if err := w.Finalize(); err != nil {
				return err
			}
			log.Info("wrote demo file", "path", out, "cycles", cycles)
			return nil
		},
	}
}
