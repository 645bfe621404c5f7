package main

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"os"
	"time"

	"github.com/NotCoffee418/sml_power_meter/pkg/simulator"
	"github.com/spf13/cobra"
)

var (
	simulateCmd = &cobra.Command{
		Use:   "simulate",
		Short: "Write synthetic SML frames for testing without a meter",
		Args:  cobra.NoArgs,
		RunE:  runSimulate,
	}

	simulateOut      string
	simulateCount    int
	simulateInterval time.Duration
	simulateSeed     int64
	simulateNoise    int
)

func init() {
	simulateCmd.Flags().StringVar(&simulateOut, "out", "-", "output file, - for stdout")
	simulateCmd.Flags().IntVar(&simulateCount, "count", 60, "number of frames")
	simulateCmd.Flags().DurationVar(&simulateInterval, "interval", time.Second, "meter time between frames")
	simulateCmd.Flags().Int64Var(&simulateSeed, "seed", 1, "random seed")
	simulateCmd.Flags().IntVar(&simulateNoise, "noise", 0, "random bytes written between frames")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	var out io.Writer = cmd.OutOrStdout()
	if simulateOut != "-" {
		f, err := os.Create(simulateOut)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	w := bufio.NewWriter(out)

	gen := simulator.NewGenerator(simulateSeed, simulateInterval)
	rng := rand.New(rand.NewSource(simulateSeed))
	noise := make([]byte, simulateNoise)
	for i := 0; i < simulateCount; i++ {
		if _, err := w.Write(gen.Next().Frame()); err != nil {
			return err
		}
		rng.Read(noise)
		if _, err := w.Write(noise); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if simulateOut != "-" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d frames to %s\n", simulateCount, simulateOut)
	}
	return nil
}
