package beamformer

import (
	"fmt"

	algofft "github.com/MeKo-Christian/algo-fft"
	"github.com/cwbudde/algo-vecmath"
)

// workspace holds the per-call FFT plan and scratch memory of an estimation.
type workspace struct {
	plan    *algofft.Plan[complex128]
	frame   []complex128   // fftSize, time domain
	full    []complex128   // fftSize, Hermitian spectrum for inverse transforms
	spectra [][]complex128 // one fftSize spectrum per microphone
	sum     []complex128   // half spectrum of the beam output
	re      []float64
	im      []float64
	pow     []float64
}

func (b *Bank) acquire() (*workspace, error) {
	if ws, ok := b.pool.Get().(*workspace); ok {
		return ws, nil
	}

	plan, err := algofft.NewPlan64(b.fftSize)
	if err != nil {
		return nil, fmt.Errorf("beamformer: fft plan of size %d: %w", b.fftSize, err)
	}

	bins := b.fftSize/2 + 1
	ws := &workspace{
		plan:    plan,
		frame:   make([]complex128, b.fftSize),
		full:    make([]complex128, b.fftSize),
		spectra: make([][]complex128, b.geometry.Mics),
		sum:     make([]complex128, bins),
		re:      make([]float64, bins),
		im:      make([]float64, bins),
		pow:     make([]float64, bins),
	}
	for m := range ws.spectra {
		ws.spectra[m] = make([]complex128, b.fftSize)
	}

	return ws, nil
}

func (b *Bank) release(ws *workspace) {
	b.pool.Put(ws)
}

// Estimate computes the power of every beam of bank in every complete window
// of block. sampleRate and windowDuration must be the values the bank was
// built with. It returns the power matrix and the number of beams.
func Estimate(bank *Bank, block SignalBlock, sampleRate, windowDuration float64) (*PowerMatrix, int, error) {
	if bank == nil {
		return nil, 0, fmt.Errorf("%w: nil bank", ErrInvalidConfig)
	}
	if !bank.Matches(sampleRate, windowDuration) {
		return nil, 0, fmt.Errorf("%w: bank built for %g Hz / %gs, called with %g Hz / %gs",
			ErrConfigMismatch, bank.sampleRate, bank.windowDuration, sampleRate, windowDuration)
	}

	pm, err := bank.Estimate(block)
	if err != nil {
		return nil, 0, err
	}

	return pm, pm.Beams, nil
}

// Estimate computes the beam power matrix of block using the bank's own
// sampling frequency and window duration.
func (b *Bank) Estimate(block SignalBlock) (*PowerMatrix, error) {
	frames, err := b.checkBlock(block)
	if err != nil {
		return nil, err
	}

	ws, err := b.acquire()
	if err != nil {
		return nil, err
	}
	defer b.release(ws)

	pm := NewPowerMatrix(len(b.beams), frames)
	norm := 1 / (float64(b.fftSize) * float64(b.windowSamples))

	for f := range frames {
		if err := b.transformWindow(ws, block, f); err != nil {
			return nil, err
		}
		for beam := range b.beams {
			b.steer(ws, beam)
			pm.set(beam, f, b.halfSpectrumEnergy(ws)*norm)
		}
	}

	return pm, nil
}

// Beamform returns the delay-and-sum output of one beam for every complete
// window of block, concatenated.
func (b *Bank) Beamform(block SignalBlock, beam int) ([]float64, error) {
	if beam < 0 || beam >= len(b.beams) {
		return nil, fmt.Errorf("%w: beam %d out of range [0,%d)", ErrInvalidConfig, beam, len(b.beams))
	}

	frames, err := b.checkBlock(block)
	if err != nil {
		return nil, err
	}

	ws, err := b.acquire()
	if err != nil {
		return nil, err
	}
	defer b.release(ws)

	out := make([]float64, 0, frames*b.windowSamples)
	half := b.fftSize / 2

	for f := range frames {
		if err := b.transformWindow(ws, block, f); err != nil {
			return nil, err
		}
		b.steer(ws, beam)

		for k := 0; k <= half; k++ {
			ws.full[k] = ws.sum[k]
		}
		for k := 1; k < half; k++ {
			s := ws.sum[k]
			ws.full[b.fftSize-k] = complex(real(s), -imag(s))
		}

		if err := ws.plan.Inverse(ws.frame, ws.full); err != nil {
			return nil, fmt.Errorf("beamformer: inverse FFT failed: %w", err)
		}

		for i := range b.windowSamples {
			out = append(out, real(ws.frame[i]))
		}
	}

	return out, nil
}

func (b *Bank) checkBlock(block SignalBlock) (int, error) {
	if block.NumChannels() != b.geometry.Mics {
		return 0, fmt.Errorf("%w: block has %d channels, bank has %d microphones",
			ErrChannelMismatch, block.NumChannels(), b.geometry.Mics)
	}
	if block.Len() < b.windowSamples {
		return 0, fmt.Errorf("%w: %d samples < %d window samples",
			ErrEmptyBlock, block.Len(), b.windowSamples)
	}
	return block.Len() / b.windowSamples, nil
}

// transformWindow fills ws.spectra with the zero-padded spectrum of window f
// of every channel.
func (b *Bank) transformWindow(ws *workspace, block SignalBlock, f int) error {
	start := f * b.windowSamples

	for m := range ws.spectra {
		ch := block.Channel(m)[start : start+b.windowSamples]
		for i, v := range ch {
			ws.frame[i] = complex(v, 0)
		}
		clear(ws.frame[len(ch):])

		if err := ws.plan.Forward(ws.spectra[m], ws.frame); err != nil {
			return fmt.Errorf("beamformer: forward FFT failed: %w", err)
		}
	}

	return nil
}

// steer writes the aligned channel average of one beam into ws.sum.
func (b *Bank) steer(ws *workspace, beam int) {
	mics := b.geometry.Mics
	clear(ws.sum)

	for m := range mics {
		w := b.weights[beam*mics+m]
		x := ws.spectra[m]
		for k := range ws.sum {
			ws.sum[k] += x[k] * w[k]
		}
	}

	scale := complex(1/float64(mics), 0)
	for k := range ws.sum {
		ws.sum[k] *= scale
	}
}

// halfSpectrumEnergy returns sum(|Y[k]|^2) over the full spectrum of a real
// signal whose half spectrum is ws.sum.
func (b *Bank) halfSpectrumEnergy(ws *workspace) float64 {
	for k, s := range ws.sum {
		ws.re[k] = real(s)
		ws.im[k] = imag(s)
	}
	vecmath.Power(ws.pow, ws.re, ws.im)

	half := b.fftSize / 2
	energy := ws.pow[0] + ws.pow[half]
	for k := 1; k < half; k++ {
		energy += 2 * ws.pow[k]
	}
	return energy
}
