package vesting

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateAndPackRejectsMalformedSchedules(t *testing.T) {
	cases := []struct {
		name  string
		steps []Step
	}{
		{"empty", nil},
		{"wait time too large", []Step{{WaitTime: 10000, Percentage: 100}}},
		{"wait times not increasing", []Step{{0, 20}, {30, 50}, {30, 100}}},
		{"percentages not increasing", []Step{{0, 50}, {30, 50}, {90, 100}}},
		{"terminal step below 100", []Step{{0, 20}, {30, 99}}},
		{"zero percentage", []Step{{0, 0}, {30, 100}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateAndPack(tc.steps)
			require.Error(t, err)
		})
	}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	steps := []Step{{0, 20}, {30, 50}, {90, 100}}
	schedule, err := ValidateAndPack(steps)
	require.NoError(t, err)
	require.Equal(t, steps, schedule.Steps())
	require.Len(t, schedule.Words(), 1)
}

func TestPackThirtyFiveStepsIntoThreeWords(t *testing.T) {
	steps := make([]Step, 35)
	for i := range steps {
		pct := uint8(i + 1)
		if i == len(steps)-1 {
			pct = 100
		}
		steps[i] = Step{WaitTime: uint32(i+1) * 10, Percentage: pct}
	}
	schedule, err := ValidateAndPack(steps)
	require.NoError(t, err)
	require.Len(t, schedule.Words(), 3)
	require.Equal(t, steps, schedule.Steps())

	require.EqualValues(t, 0, schedule.VestedPercentage(0))
	require.EqualValues(t, 2, schedule.VestedPercentage(20))
	require.EqualValues(t, 7, schedule.VestedPercentage(70))
	require.EqualValues(t, 11, schedule.VestedPercentage(115))
	require.EqualValues(t, 100, schedule.VestedPercentage(1000))
}

func TestVestedPercentageStaircase(t *testing.T) {
	schedule, err := ValidateAndPack([]Step{{0, 20}, {30, 50}, {90, 100}})
	require.NoError(t, err)

	require.EqualValues(t, 20, schedule.VestedPercentage(0))
	require.EqualValues(t, 20, schedule.VestedPercentage(29))
	require.EqualValues(t, 50, schedule.VestedPercentage(30))
	require.EqualValues(t, 50, schedule.VestedPercentage(31))
	require.EqualValues(t, 100, schedule.VestedPercentage(91))

	// Monotonic non-decreasing in elapsed time.
	prev := uint8(0)
	for day := uint32(0); day <= 120; day++ {
		cur := schedule.VestedPercentage(day)
		require.GreaterOrEqual(t, cur, prev)
		prev = cur
	}
}

func TestVestedPercentageAtListing(t *testing.T) {
	schedule, err := ValidateAndPack([]Step{{0, 30}, {365, 100}})
	require.NoError(t, err)
	require.EqualValues(t, 30, schedule.VestedPercentage(0))
	require.EqualValues(t, 30, schedule.VestedPercentage(364))
	require.EqualValues(t, 100, schedule.VestedPercentage(365))
}

func TestScheduleJSONRoundTrip(t *testing.T) {
	schedule, err := ValidateAndPack([]Step{{0, 20}, {30, 50}, {90, 100}})
	require.NoError(t, err)

	encoded, err := json.Marshal(schedule)
	require.NoError(t, err)

	decoded := &Schedule{}
	require.NoError(t, json.Unmarshal(encoded, decoded))
	require.Equal(t, schedule.Steps(), decoded.Steps())
}

func TestFromWordsRejectsCorruptedWords(t *testing.T) {
	schedule, err := ValidateAndPack([]Step{{10, 50}, {1000, 100}})
	require.NoError(t, err)

	words := schedule.Words()
	words[0].Clear()
	_, err = FromWords(words)
	require.Error(t, err)
}
