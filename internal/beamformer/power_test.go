package beamformer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPowerMatrix_Reductions(t *testing.T) {
	pm := NewPowerMatrix(3, 2)
	pm.set(0, 0, 1)
	pm.set(1, 0, 5)
	pm.set(2, 0, 5)
	pm.set(0, 1, 4)
	pm.set(1, 1, 1)
	pm.set(2, 1, 2)

	assert.Equal(t, []float64{1, 4}, pm.Row(0))
	assert.Equal(t, []float64{1, 5, 5}, pm.Frame(0))
	assert.Equal(t, []int{1, 0}, pm.PeakBeams(), "ties resolve to the lowest beam")
	assert.Equal(t, []float64{2.5, 3, 3.5}, pm.MeanPower())
	assert.Equal(t, 5.0, pm.Max())
}

func TestPowerMatrix_Empty(t *testing.T) {
	pm := NewPowerMatrix(4, 0)
	assert.Equal(t, []float64{0, 0, 0, 0}, pm.MeanPower())
	assert.Empty(t, pm.PeakBeams())
}

func TestPowerMatrix_JSON(t *testing.T) {
	pm := NewPowerMatrix(2, 2)
	pm.set(1, 1, 0.25)

	data, err := json.Marshal(pm)
	require.NoError(t, err)
	assert.JSONEq(t, `{"beams":2,"frames":2,"power":[[0,0],[0,0.25]]}`, string(data))
}

func TestSignalBlock(t *testing.T) {
	_, err := NewSignalBlock(nil)
	assert.ErrorIs(t, err, ErrChannelMismatch)

	_, err = NewSignalBlock([][]float64{{1, 2}, {3}})
	assert.ErrorIs(t, err, ErrChannelMismatch)

	a, err := NewSignalBlock([][]float64{{1, 2}, {3, 4}})
	require.NoError(t, err)
	b, err := NewSignalBlock([][]float64{{5}, {6}})
	require.NoError(t, err)

	joined, err := a.Append(b)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 2, 5}, {3, 4, 6}}, joined.Channels())
	assert.Equal(t, [][]float64{{2, 5}, {4, 6}}, joined.Slice(1, 3).Channels())

	_, err = a.Append(ZeroBlock(3, 1))
	assert.ErrorIs(t, err, ErrChannelMismatch)
}

func TestNormalizeInt32(t *testing.T) {
	block, err := NormalizeInt32([][]int32{{FullScale, 0}, {-FullScale, FullScale / 2}})
	require.NoError(t, err)

	assert.InDelta(t, 1.0, block.Channel(0)[0], 1e-12)
	assert.InDelta(t, -1.0, block.Channel(1)[0], 1e-12)
	assert.InDelta(t, 0.5, block.Channel(1)[1], 1e-6)

	_, err = NormalizeInt32([][]int32{{1, 2}, {1}})
	assert.ErrorIs(t, err, ErrChannelMismatch)
}

func TestRoomCues(t *testing.T) {
	g := NewLinearArray([3]float64{}, 2, 0, 1)

	t.Run("equidistant source", func(t *testing.T) {
		cues, err := RoomCues(g, [][3]float64{{0, 1, 0}}, 50000)
		require.NoError(t, err)
		assert.Zero(t, cues.MaxSampleDiff)
		assert.Zero(t, cues.LocalizableBelowHz)
		assert.Zero(t, cues.CoherentBelowHz)
	})

	t.Run("endfire source", func(t *testing.T) {
		cues, err := RoomCues(g, [][3]float64{{2, 0, 0}}, 50000)
		require.NoError(t, err)
		require.Len(t, cues.Sources, 1)

		src := cues.Sources[0]
		assert.InDeltaSlice(t, []float64{2.5, 1.5}, src.Distances, 1e-12)
		assert.InDelta(t, 1/SoundSpeed, src.DelayDiffs[0], 1e-12)
		assert.Equal(t, []int{146, 0}, src.SampleDiffs)
		assert.Equal(t, 146, cues.MaxSampleDiff)
		assert.InDelta(t, 1.5, cues.MinDistance, 1e-12)
		assert.InDelta(t, 2.5, cues.MaxDistance, 1e-12)
		assert.InDelta(t, 50000.0/146, cues.LocalizableBelowHz, 1e-9)
		assert.InDelta(t, SoundSpeed, cues.CoherentBelowHz, 1e-9)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := RoomCues(g, nil, 50000)
		assert.ErrorIs(t, err, ErrInvalidConfig)
		_, err = RoomCues(g, [][3]float64{{1, 1, 1}}, 0)
		assert.ErrorIs(t, err, ErrInvalidConfig)
		_, err = RoomCues(Geometry{Mics: 1}, [][3]float64{{1, 1, 1}}, 50000)
		assert.ErrorIs(t, err, ErrInvalidGeometry)
	})
}
