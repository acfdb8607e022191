package levels

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/learntrackhq/learntrack/internal/models"
)

func defaultThresholds() []models.LevelThreshold {
	return []models.LevelThreshold{
		{Name: "Beginner", PointsRequired: 0, DisplayOrder: 0},
		{Name: "Learner", PointsRequired: 100, DisplayOrder: 1},
		{Name: "Intermediate", PointsRequired: 300, DisplayOrder: 2},
		{Name: "Expert", PointsRequired: 600, DisplayOrder: 3},
	}
}

func TestCalculateSelectsHighestSatisfiedLevel(t *testing.T) {
	cases := []struct {
		points    int
		level     string
		levelPts  int
		next      string
		toNext    int
	}{
		{0, "Beginner", 0, "Learner", 100},
		{99, "Beginner", 99, "Learner", 1},
		{100, "Learner", 0, "Intermediate", 200},
		{299, "Learner", 199, "Intermediate", 1},
		{300, "Intermediate", 0, "Expert", 300},
		{600, "Expert", 0, "", 0},
		{1000, "Expert", 400, "", 0},
	}

	for _, tc := range cases {
		snapshot, err := Calculate(tc.points, defaultThresholds())
		require.NoError(t, err, "points=%d", tc.points)
		require.Equal(t, tc.level, snapshot.CurrentLevel, "points=%d", tc.points)
		require.Equal(t, tc.levelPts, snapshot.LevelPoints, "points=%d", tc.points)
		require.Equal(t, tc.next, snapshot.NextLevel, "points=%d", tc.points)
		require.Equal(t, tc.toNext, snapshot.PointsToNext, "points=%d", tc.points)
	}
}

func TestCalculateProgressBounds(t *testing.T) {
	for points := 0; points <= 700; points += 7 {
		snapshot, err := Calculate(points, defaultThresholds())
		require.NoError(t, err)
		require.GreaterOrEqual(t, snapshot.ProgressPercent, 0.0)
		require.LessOrEqual(t, snapshot.ProgressPercent, 100.0)
		if snapshot.AtMaxLevel() {
			require.Equal(t, 100.0, snapshot.ProgressPercent)
		}
	}
}

func TestCalculateSpecScenario(t *testing.T) {
	// 280 + 30 = 310 crosses Learner -> Intermediate.
	snapshot, err := Calculate(310, defaultThresholds())
	require.NoError(t, err)

	require.Equal(t, "Intermediate", snapshot.CurrentLevel)
	require.Equal(t, 10, snapshot.LevelPoints)
	require.Equal(t, "Expert", snapshot.NextLevel)
	require.Equal(t, 290, snapshot.PointsToNext)
	require.InDelta(t, 3.33, snapshot.ProgressPercent, 0.01)
}

func TestCalculateClampsBelowLowestThreshold(t *testing.T) {
	thresholds := []models.LevelThreshold{
		{Name: "Bronze", PointsRequired: 50, DisplayOrder: 0},
		{Name: "Silver", PointsRequired: 200, DisplayOrder: 1},
	}

	snapshot, err := Calculate(10, thresholds)
	require.NoError(t, err)
	require.Equal(t, "Bronze", snapshot.CurrentLevel)
	require.Equal(t, 10, snapshot.LevelPoints)
}

func TestCalculateIsIdempotent(t *testing.T) {
	first, err := Calculate(123, defaultThresholds())
	require.NoError(t, err)
	second, err := Calculate(123, defaultThresholds())
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestCalculateRejectsNegativeTotal(t *testing.T) {
	_, err := Calculate(-1, defaultThresholds())
	require.Error(t, err)
}

func TestValidateThresholdsFailsFast(t *testing.T) {
	cases := map[string][]models.LevelThreshold{
		"empty": {},
		"duplicate threshold": {
			{Name: "A", PointsRequired: 0, DisplayOrder: 0},
			{Name: "B", PointsRequired: 0, DisplayOrder: 1},
		},
		"non-monotonic": {
			{Name: "A", PointsRequired: 100, DisplayOrder: 0},
			{Name: "B", PointsRequired: 50, DisplayOrder: 1},
		},
		"duplicate name": {
			{Name: "A", PointsRequired: 0, DisplayOrder: 0},
			{Name: "a", PointsRequired: 100, DisplayOrder: 1},
		},
		"negative requirement": {
			{Name: "A", PointsRequired: -5, DisplayOrder: 0},
		},
	}

	for name, thresholds := range cases {
		err := ValidateThresholds(thresholds)
		require.ErrorIs(t, err, ErrThresholdsMisconfigured, name)

		_, err = Calculate(100, thresholds)
		require.ErrorIs(t, err, ErrThresholdsMisconfigured, name)
	}
}

func TestCompare(t *testing.T) {
	thresholds := defaultThresholds()

	require.Equal(t, -1, Compare("Beginner", "Expert", thresholds))
	require.Equal(t, 1, Compare("Expert", "Learner", thresholds))
	require.Equal(t, 0, Compare("Learner", "learner", thresholds))
}
