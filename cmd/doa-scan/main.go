// doa-scan: one-shot beamformer scan
// Acquires a fixed duration of signal, estimates beam powers and prints them
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/teslashibe/go-mudoa/internal/acquisition"
	"github.com/teslashibe/go-mudoa/internal/beamformer"
	"github.com/teslashibe/go-mudoa/internal/doa"
	"github.com/teslashibe/go-mudoa/internal/synth"
)

var (
	mics     = flag.Int("mics", 8, "microphone count")
	spacing  = flag.Float64("spacing", 0.045, "microphone spacing in meters")
	rotation = flag.Float64("rotation", 0, "array axis rotation in degrees")
	layout   = flag.String("layout", "linear", "array layout: linear, circular")
	beams    = flag.Int("beams", 8, "number of beams")
	fs       = flag.Float64("fs", beamformer.DefaultSamplingFrequency, "sampling frequency in Hz")
	window   = flag.Float64("window", beamformer.DefaultWindowDuration, "analysis window in seconds")
	duration = flag.Float64("duration", 1, "acquisition duration in seconds")

	url      = flag.String("url", "", "acquisition server URL; synthesize when empty")
	input    = flag.String("input", "", "raw little-endian int32 interleaved recording")
	channels = flag.Int("channels", 0, "channels in -input (default: one per mic)")
	counter  = flag.Bool("counter", false, "first channel of -input or -url is a sample counter")

	source   = flag.Float64("source", 30, "synthetic source direction in degrees")
	distance = flag.Float64("distance", 0, "synthetic source distance in meters; 0 for a plane wave")
	freq     = flag.Float64("freq", 1000, "synthetic tone frequency in Hz")
	noise    = flag.Float64("noise", 0.01, "synthetic noise amplitude")
	debug    = flag.Bool("debug", false, "enable debug logging")
)

func main() {
	flag.Parse()

	level := slog.LevelWarn
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(logger); err != nil {
		fmt.Fprintf(os.Stderr, "doa-scan: %v\n", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	l, err := beamformer.ParseLayout(*layout)
	if err != nil {
		return err
	}
	g := beamformer.Geometry{
		Mics:    *mics,
		Angle:   doa.Radians(*rotation),
		Spacing: *spacing,
		Layout:  l,
	}

	bank, err := beamformer.Build(g, *beams, *fs, *window)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var block beamformer.SignalBlock
	switch {
	case *input != "":
		block, err = readInput(*input)
	case *url != "":
		block, err = acquire(ctx, g, logger)
	default:
		block, err = simulate(g)
	}
	if err != nil {
		return err
	}

	pm, _, err := beamformer.Estimate(bank, block, *fs, *window)
	if err != nil {
		return err
	}

	printScan(bank, pm, block.Len())
	return nil
}

func readInput(path string) (beamformer.SignalBlock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return beamformer.SignalBlock{}, err
	}

	n := *channels
	if n == 0 {
		n = *mics
		if *counter {
			n++
		}
	}

	raw, err := acquisition.DecodeFrame(data, n, *counter)
	if err != nil {
		return beamformer.SignalBlock{}, fmt.Errorf("%s: %w", path, err)
	}
	return beamformer.NormalizeInt32(raw)
}

// acquire records duration seconds from the acquisition server.
func acquire(ctx context.Context, g beamformer.Geometry, logger *slog.Logger) (beamformer.SignalBlock, error) {
	remote := acquisition.DefaultRemoteConfig()
	remote.URL = *url
	remote.Counter = *counter
	remote.Duration = *duration

	cfg := acquisition.Config{
		SampleRate:    *fs,
		BlockDuration: *window,
		QueueSize:     int(*duration / *window) + 1,
		Remote:        remote,
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(*duration*float64(time.Second))+remote.HandshakeTimeout)
	defer cancel()

	src, err := acquisition.NewSource(ctx, cfg, g, logger)
	if err != nil {
		return beamformer.SignalBlock{}, err
	}
	defer src.Close()

	want := beamformer.WindowSamples(*fs, *duration)

	var out beamformer.SignalBlock
	for out.Len() < want {
		b, err := src.Next(ctx)
		if err != nil {
			if out.Len() > 0 {
				logger.Warn("acquisition stopped early", "samples", out.Len(), "error", err)
				break
			}
			return beamformer.SignalBlock{}, err
		}
		if out, err = out.Append(b.Signal); err != nil {
			return beamformer.SignalBlock{}, err
		}
	}

	return out, nil
}

// simulate records a tone at the configured direction on the virtual array.
func simulate(g beamformer.Geometry) (beamformer.SignalBlock, error) {
	theta := doa.Radians(*source)
	tone := synth.Tone(*freq, 0.5)

	var block beamformer.SignalBlock
	if *distance > 0 {
		u := g.Direction(theta)
		loc := [3]float64{
			g.Origin[0] + *distance*u[0],
			g.Origin[1] + *distance*u[1],
			g.Origin[2] + *distance*u[2],
		}

		cues, err := beamformer.RoomCues(g, [][3]float64{loc}, *fs)
		if err != nil {
			return beamformer.SignalBlock{}, err
		}
		fmt.Printf("source at %.2fm: sample diffs %v, localizable below %.0f Hz, coherent below %.0f Hz\n\n",
			*distance, cues.Sources[0].SampleDiffs, cues.LocalizableBelowHz, cues.CoherentBelowHz)

		block = synth.FreeField(g, loc, tone.Generate(*fs, *duration), *fs)
	} else {
		block = synth.PlaneWave(g, theta, tone.Eval, *fs, beamformer.WindowSamples(*fs, *duration))
	}

	synth.AddNoise(block, 1, *noise)
	return beamformer.NormalizeInt32(synth.Quantize(block))
}

func printScan(bank *beamformer.Bank, pm *beamformer.PowerMatrix, samples int) {
	angles := bank.Angles()

	fmt.Printf("%d samples, %d frames of %d samples, %d beams\n\n",
		samples, pm.Frames, bank.WindowSamples(), pm.Beams)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "frame\tpeak beam\tangle (deg)\tpower")
	for f, b := range pm.PeakBeams() {
		fmt.Fprintf(w, "%d\t%d\t%.1f\t%.3e\n", f, b, doa.Degrees(angles[b]), pm.At(b, f))
	}
	w.Flush()
	fmt.Println()

	mean := pm.MeanPower()
	peak := 0
	for b := range mean {
		if mean[b] > mean[peak] {
			peak = b
		}
	}

	w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "beam\tangle (deg)\tmean power\t")
	for b, p := range mean {
		mark := ""
		if b == peak {
			mark = "<"
		}
		fmt.Fprintf(w, "%d\t%.1f\t%.3e\t%s\n", b, doa.Degrees(angles[b]), p, mark)
	}
	w.Flush()
}
