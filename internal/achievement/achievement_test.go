package achievement

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"makanMatesAPI/internal/user"
)

func TestEvaluate_UnlockedFirstKeepsTableOrder(t *testing.T) {
	table := []Achievement{
		{ID: "a", Criteria: user.FieldMeals, Threshold: 10},
		{ID: "b", Criteria: user.FieldTakeaway, Threshold: 1},
		{ID: "c", Criteria: user.FieldMeals, Threshold: 1},
		{ID: "d", Criteria: user.FieldFriends, Threshold: 5},
	}
	counters := user.Counters{MealsCount: 3, TakeawayCount: 4}

	got := Evaluate(counters, table)
	require.Len(t, got, 4)

	ids := make([]string, len(got))
	for i, a := range got {
		ids[i] = a.ID
	}
	assert.Equal(t, []string{"b", "c", "a", "d"}, ids)

	assert.True(t, got[0].Unlocked)
	assert.Equal(t, "1/1", got[0].Progress)
	assert.Equal(t, "3/10", got[2].Progress)
	assert.False(t, got[2].Unlocked)
	assert.Equal(t, "0/5", got[3].Progress)
}

func TestEvaluate_DefaultTable(t *testing.T) {
	got := Evaluate(user.Counters{}, DefaultTable)
	require.Len(t, got, len(DefaultTable))
	for _, a := range got {
		assert.False(t, a.Unlocked, a.ID)
	}
}

func TestLoadTable(t *testing.T) {
	dir := t.TempDir()

	valid := filepath.Join(dir, "achievements.yaml")
	require.NoError(t, os.WriteFile(valid, []byte(`
achievements:
  - id: first_meal
    name: First Bite
    criteria: mealsCount
    threshold: 1
  - id: social
    name: Makan Kaki
    criteria: friendsCount
    threshold: 3
`), 0o644))

	table, err := LoadTable(valid)
	require.NoError(t, err)
	require.Len(t, table, 2)
	assert.Equal(t, user.FieldFriends, table[1].Criteria)
	assert.Equal(t, 3, table[1].Threshold)

	invalid := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte(`
achievements:
  - id: x
    criteria: karmaCount
    threshold: 1
`), 0o644))
	_, err = LoadTable(invalid)
	assert.Error(t, err)

	_, err = LoadTable(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
