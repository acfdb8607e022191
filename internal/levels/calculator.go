package levels

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/learntrackhq/learntrack/internal/models"
)

// ErrThresholdsMisconfigured signals an empty, duplicated, or non-monotonic
// threshold table. The calculator refuses to pick an arbitrary level; callers
// must surface this loudly.
var ErrThresholdsMisconfigured = errors.New("levels: thresholds misconfigured")

// Snapshot is the result of evaluating a points total against the level table.
type Snapshot struct {
	TotalPoints     int     `json:"total_points"`
	CurrentLevel    string  `json:"current_level"`
	LevelPoints     int     `json:"level_points"`
	NextLevel       string  `json:"next_level,omitempty"`
	PointsToNext    int     `json:"points_to_next"`
	ProgressPercent float64 `json:"progress_percent"`
}

// AtMaxLevel reports whether the snapshot sits on the highest configured level.
func (s Snapshot) AtMaxLevel() bool {
	return s.NextLevel == ""
}

// ValidateThresholds checks the invariants the calculator depends on: a
// non-empty set, unique names, and points requirements strictly increasing
// with display order.
func ValidateThresholds(thresholds []models.LevelThreshold) error {
	if len(thresholds) == 0 {
		return fmt.Errorf("%w: empty threshold table", ErrThresholdsMisconfigured)
	}

	ordered := sortByOrder(thresholds)

	seen := make(map[string]struct{}, len(ordered))
	for i, threshold := range ordered {
		name := strings.TrimSpace(threshold.Name)
		if name == "" {
			return fmt.Errorf("%w: threshold at position %d has no name", ErrThresholdsMisconfigured, i)
		}
		if _, dup := seen[strings.ToLower(name)]; dup {
			return fmt.Errorf("%w: duplicate level name %q", ErrThresholdsMisconfigured, name)
		}
		seen[strings.ToLower(name)] = struct{}{}

		if threshold.PointsRequired < 0 {
			return fmt.Errorf("%w: level %q requires negative points", ErrThresholdsMisconfigured, name)
		}
		if i > 0 && threshold.PointsRequired <= ordered[i-1].PointsRequired {
			return fmt.Errorf("%w: level %q (%d points) does not exceed %q (%d points)",
				ErrThresholdsMisconfigured, name, threshold.PointsRequired,
				ordered[i-1].Name, ordered[i-1].PointsRequired)
		}
	}

	return nil
}

// Calculate maps a cumulative points total onto the threshold table. It is a
// pure function: identical inputs always yield identical snapshots.
func Calculate(totalPoints int, thresholds []models.LevelThreshold) (Snapshot, error) {
	if totalPoints < 0 {
		return Snapshot{}, fmt.Errorf("levels: negative points total %d", totalPoints)
	}
	if err := ValidateThresholds(thresholds); err != nil {
		return Snapshot{}, err
	}

	ordered := sortByOrder(thresholds)

	// Highest threshold whose requirement is satisfied; totals below the
	// lowest threshold clamp to the lowest level.
	current := 0
	for i, threshold := range ordered {
		if totalPoints >= threshold.PointsRequired {
			current = i
		}
	}

	snapshot := Snapshot{
		TotalPoints:  totalPoints,
		CurrentLevel: ordered[current].Name,
		LevelPoints:  totalPoints - ordered[current].PointsRequired,
	}
	if totalPoints < ordered[current].PointsRequired {
		snapshot.LevelPoints = totalPoints
	}

	if current == len(ordered)-1 {
		snapshot.ProgressPercent = 100
		return snapshot, nil
	}

	next := ordered[current+1]
	snapshot.NextLevel = next.Name
	snapshot.PointsToNext = next.PointsRequired - totalPoints
	if snapshot.PointsToNext < 0 {
		snapshot.PointsToNext = 0
	}

	span := next.PointsRequired - ordered[current].PointsRequired
	if span > 0 {
		snapshot.ProgressPercent = 100 * float64(snapshot.LevelPoints) / float64(span)
	}
	if snapshot.ProgressPercent < 0 {
		snapshot.ProgressPercent = 0
	}
	if snapshot.ProgressPercent > 100 {
		snapshot.ProgressPercent = 100
	}

	return snapshot, nil
}

// Compare returns -1, 0, or 1 as level a sits below, at, or above level b in
// the supplied table. Unknown names compare as the lowest level.
func Compare(a, b string, thresholds []models.LevelThreshold) int {
	rank := func(name string) int {
		for i, threshold := range sortByOrder(thresholds) {
			if strings.EqualFold(threshold.Name, name) {
				return i
			}
		}
		return 0
	}

	ra, rb := rank(a), rank(b)
	switch {
	case ra < rb:
		return -1
	case ra > rb:
		return 1
	default:
		return 0
	}
}

func sortByOrder(thresholds []models.LevelThreshold) []models.LevelThreshold {
	ordered := make([]models.LevelThreshold, len(thresholds))
	copy(ordered, thresholds)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].DisplayOrder < ordered[j].DisplayOrder
	})
	return ordered
}
