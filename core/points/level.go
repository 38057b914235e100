package points

// Level is the tier derived from a point total. It is never stored.
type Level string

const (
	LevelBeginner     Level = "Beginner"
	LevelIntermediate Level = "Intermediate"
	LevelAdvanced     Level = "Advanced"
	LevelExpert       Level = "Expert"
)

// levelThresholds must stay sorted by descending floor.
var levelThresholds = []struct {
	floor int
	level Level
}{
	{10000, LevelExpert},
	{5000, LevelAdvanced},
	{1000, LevelIntermediate},
}

var levelTiers = map[Level]int{
	LevelBeginner:     1,
	LevelIntermediate: 2,
	LevelAdvanced:     3,
	LevelExpert:       4,
}

// Classify maps a point total to its level.
func Classify(totalPoints int) Level {
	for _, th := range levelThresholds {
		if totalPoints >= th.floor {
			return th.level
		}
	}
	return LevelBeginner
}

// Tier is the 1-based ordinal of l; 0 for an unknown level.
func (l Level) Tier() int {
	return levelTiers[l]
}
