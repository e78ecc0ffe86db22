package server

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-mudoa/internal/acquisition"
	"github.com/teslashibe/go-mudoa/internal/beamformer"
)

// estimateHandler runs the estimator over a posted block of raw samples.
// The body is little-endian int32, interleaved sample by sample across
// channels. Query parameters: channels (default: one per mic), counter
// (first channel is a sample counter), sampling_frequency and
// window_duration (default: the bank's own).
func (s *Server) estimateHandler(c *fiber.Ctx) error {
	if s.bank == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "beam bank not available",
		})
	}

	channels := c.QueryInt("channels", s.bank.NumMics())
	counter := c.QueryBool("counter", false)

	sampleRate, err := queryFloat(c, "sampling_frequency", s.bank.SampleRate())
	if err != nil {
		return badRequest(c, err)
	}
	windowDuration, err := queryFloat(c, "window_duration", s.bank.WindowDuration())
	if err != nil {
		return badRequest(c, err)
	}

	block, err := decodeBody(c.Body(), channels, counter)
	if err != nil {
		return estimateError(c, err)
	}

	pm, beams, err := beamformer.Estimate(s.bank, block, sampleRate, windowDuration)
	if err != nil {
		return estimateError(c, err)
	}

	return c.JSON(fiber.Map{
		"beams":      beams,
		"frames":     pm.Frames,
		"angles":     s.bank.Angles(),
		"power":      pm.Rows(),
		"peak_beams": pm.PeakBeams(),
		"mean_power": pm.MeanPower(),
	})
}

// decodeBody converts the posted samples to a signal block. An empty body is
// an empty block for the estimator to reject.
func decodeBody(body []byte, channels int, counter bool) (beamformer.SignalBlock, error) {
	if len(body) == 0 {
		if counter {
			channels--
		}
		return beamformer.ZeroBlock(max(channels, 0), 0), nil
	}

	raw, err := acquisition.DecodeFrame(body, channels, counter)
	if err != nil {
		return beamformer.SignalBlock{}, err
	}
	return beamformer.NormalizeInt32(raw)
}

func queryFloat(c *fiber.Ctx, key string, def float64) (float64, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, errors.New("invalid " + key + ": " + v)
	}
	return f, nil
}

func badRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// estimateError maps estimator failures to HTTP statuses
func estimateError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, beamformer.ErrChannelMismatch), errors.Is(err, beamformer.ErrEmptyBlock):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": err.Error(),
		})
	case errors.Is(err, beamformer.ErrConfigMismatch),
		errors.Is(err, beamformer.ErrInvalidConfig),
		errors.Is(err, beamformer.ErrInvalidGeometry),
		errors.Is(err, acquisition.ErrFrameSize):
		return badRequest(c, err)
	default:
		return err
	}
}
