package achievement

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"makanMatesAPI/internal/user"
)

type Achievement struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description" yaml:"description"`
	Icon        string            `json:"icon" yaml:"icon"`
	Criteria    user.CounterField `json:"criteria" yaml:"criteria"`
	Threshold   int               `json:"threshold" yaml:"threshold"`
}

type AchievementWithStatus struct {
	Achievement
	Progress string `json:"progress"`
	Unlocked bool   `json:"unlocked"`
}

// DefaultTable is used when no achievements file is configured.
var DefaultTable = []Achievement{
	{ID: "first_meal", Name: "First Bite", Description: "Complete your first meal with a friend", Icon: "🍜", Criteria: user.FieldMeals, Threshold: 1},
	{ID: "regular", Name: "Regular", Description: "Complete 10 meals", Icon: "🍛", Criteria: user.FieldMeals, Threshold: 10},
	{ID: "foodie", Name: "Foodie", Description: "Complete 50 meals", Icon: "🍱", Criteria: user.FieldMeals, Threshold: 50},
	{ID: "first_takeaway", Name: "Da Bao", Description: "Share your first takeaway", Icon: "🥡", Criteria: user.FieldTakeaway, Threshold: 1},
	{ID: "takeaway_runner", Name: "Takeaway Runner", Description: "Share 10 takeaways", Icon: "🛵", Criteria: user.FieldTakeaway, Threshold: 10},
	{ID: "planner", Name: "Planner", Description: "Organise a meal that happened", Icon: "📅", Criteria: user.FieldPlanner, Threshold: 1},
	{ID: "master_planner", Name: "Master Planner", Description: "Organise 10 meals that happened", Icon: "🗓️", Criteria: user.FieldPlanner, Threshold: 10},
	{ID: "social", Name: "Makan Kaki", Description: "Make 5 friends", Icon: "🤝", Criteria: user.FieldFriends, Threshold: 5},
}

// Evaluate maps counters onto the table. Unlocked achievements come first;
// within each group the table order is kept.
func Evaluate(counters user.Counters, table []Achievement) []*AchievementWithStatus {
	out := make([]*AchievementWithStatus, 0, len(table))
	for _, a := range table {
		value := counters.Value(a.Criteria)
		shown := value
		if shown > a.Threshold {
			shown = a.Threshold
		}
		out = append(out, &AchievementWithStatus{
			Achievement: a,
			Progress:    fmt.Sprintf("%d/%d", shown, a.Threshold),
			Unlocked:    value >= a.Threshold,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Unlocked && !out[j].Unlocked
	})
	return out
}

// LoadTable reads an achievement table from a YAML file of the form
// `achievements: [{id, name, criteria, threshold, ...}]`.
func LoadTable(path string) ([]Achievement, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read achievements file: %w", err)
	}

	var doc struct {
		Achievements []Achievement `yaml:"achievements"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse achievements file: %w", err)
	}

	seen := make(map[string]bool)
	for _, a := range doc.Achievements {
		if a.ID == "" || seen[a.ID] {
			return nil, fmt.Errorf("achievement id %q is empty or duplicated", a.ID)
		}
		if !a.Criteria.Valid() {
			return nil, fmt.Errorf("achievement %s: unknown criteria %q", a.ID, a.Criteria)
		}
		if a.Threshold < 1 {
			return nil, fmt.Errorf("achievement %s: threshold must be positive", a.ID)
		}
		seen[a.ID] = true
	}
	if len(doc.Achievements) == 0 {
		return nil, fmt.Errorf("achievements file %s defines no achievements", path)
	}
	return doc.Achievements, nil
}
