package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omegalab/histcollect/internal/model"
)

func TestSeason_LowCountFlagged(t *testing.T) {
	th := DefaultThresholds()
	cov := model.Coverage{Sport: model.SportNBA, Season: 2024, Games: 1100}

	anomalies := Season(cov, th, false)
	require.Len(t, anomalies, 1)
	assert.Equal(t, AnomalyLowCount, anomalies[0].Kind)
	assert.InDelta(t, 1230, anomalies[0].Expected, 0.001)
	assert.Contains(t, anomalies[0].Message, "expected at least 1107")
}

func TestSeason_AtToleranceNotFlagged(t *testing.T) {
	cov := model.Coverage{Sport: model.SportNBA, Season: 2024, Games: 1107}
	assert.Empty(t, Season(cov, DefaultThresholds(), false))
}

func TestSeason_ConfigurableTolerance(t *testing.T) {
	th := DefaultThresholds()
	th.Tolerance = 0.5
	cov := model.Coverage{Sport: model.SportNFL, Season: 2023, Games: 150}
	assert.Empty(t, Season(cov, th, false))

	th.Tolerance = 0.99
	assert.Len(t, Season(cov, th, false), 1)
}

func TestSeason_PropCoverage(t *testing.T) {
	th := DefaultThresholds()
	cov := model.Coverage{Sport: model.SportNFL, Season: 2023, Games: 285, Props: 1000}

	anomalies := Season(cov, th, true)
	require.Len(t, anomalies, 1)
	assert.Equal(t, AnomalyLowCoverage, anomalies[0].Kind)
	assert.InDelta(t, 1000.0/2850.0, anomalies[0].Actual, 0.0001)

	cov.Props = 2280
	assert.Empty(t, Season(cov, th, true))
}

func TestSeason_NoExpectation(t *testing.T) {
	th := DefaultThresholds()
	cov := model.Coverage{Sport: model.SportNHL, Season: 2023, Games: 10}
	anomalies := Season(cov, th, false)
	require.Len(t, anomalies, 1)
	assert.Equal(t, AnomalyNoExpectation, anomalies[0].Kind)
}

func TestPropCoverage(t *testing.T) {
	assert.InDelta(t, 0.5, PropCoverage(50, 10, 10), 0.0001)
	assert.Zero(t, PropCoverage(50, 0, 10))
}
