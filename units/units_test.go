package units

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cal = Calibration{MLPerMM: 0.05, MaxFeed: 300}

func TestConvert(t *testing.T) {
	m, err := cal.Convert(5.0, 7.5)
	require.NoError(t, err)
	assert.Equal(t, 100.0, m.Distance)
	assert.Equal(t, 150.0, m.Feed)
	assert.False(t, m.Clamped)
}

func TestConvert_ClampsToAxisMax(t *testing.T) {
	m, err := cal.Convert(5.0, 30.0) // 600 mm/min before clamping
	require.NoError(t, err)
	assert.Equal(t, 100.0, m.Distance)
	assert.Equal(t, 300.0, m.Feed)
	assert.True(t, m.Clamped)
}

func TestConvert_ClampsToGlobalBounds(t *testing.T) {
	wide := Calibration{MLPerMM: 0.05, MaxFeed: 9000}
	m, err := wide.Convert(1.0, 500.0) // 10000 mm/min
	require.NoError(t, err)
	assert.Equal(t, MaxFeedrate, m.Feed)
	assert.True(t, m.Clamped)

	m, err = cal.Convert(1.0, 0.1) // 2 mm/min
	require.NoError(t, err)
	assert.Equal(t, MinFeedrate, m.Feed)
	assert.True(t, m.Clamped)
}

func TestConvert_Rejects(t *testing.T) {
	_, err := cal.Convert(5, 0)
	assert.ErrorIs(t, err, ErrZeroFlow)
	_, err = cal.Convert(5, -1)
	assert.ErrorIs(t, err, ErrZeroFlow)
	_, err = cal.Convert(-5, 1)
	assert.ErrorIs(t, err, ErrNegativeVol)
	_, err = Calibration{MLPerMM: 0, MaxFeed: 300}.Convert(5, 1)
	assert.Error(t, err)
}

func TestConvert_ZeroVolume(t *testing.T) {
	m, err := cal.Convert(0, 7.5)
	require.NoError(t, err)
	assert.Equal(t, 0.0, m.Distance)
}

func TestRoundTrip(t *testing.T) {
	m, err := cal.Convert(5.0, 7.5)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, cal.Volume(m.Distance), 1e-9)
}
