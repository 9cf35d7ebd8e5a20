package split

import (
	"fmt"
	"testing"

	"abkit/domain/core"
	"abkit/domain/experiment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashBucketKnownValues(t *testing.T) {
	want := []int{0, 0, 2, 3, 3, 1, 3, 3}
	for i, w := range want {
		assert.Equal(t, w, HashBucket(fmt.Sprint(i), "a2N4", 4), "unit %d", i)
	}
	assert.Equal(t, 46, HashBucket("user_42", "exp", 100))
}

func TestGroupForKnownValues(t *testing.T) {
	// salt "0": hashes 1,0,0,1 for units 0..3
	want := []experiment.Group{
		experiment.GroupTreatment, experiment.GroupControl,
		experiment.GroupControl, experiment.GroupTreatment,
	}
	ids := []core.UnitID{"0", "1", "2", "3"}
	assert.Equal(t, want, GroupsFor(ids, "0"))
}

func TestGroupsForStableAndSaltSensitive(t *testing.T) {
	ids := make([]core.UnitID, 2000)
	for i := range ids {
		ids[i] = core.UnitID(fmt.Sprintf("user_%d", i))
	}
	a := GroupsFor(ids, "salt-a")
	assert.Equal(t, a, GroupsFor(ids, "salt-a"))

	b := GroupsFor(ids, "salt-b")
	assert.NotEqual(t, a, b)

	treated := 0
	for _, g := range a {
		if g == experiment.GroupTreatment {
			treated++
		}
	}
	assert.InDelta(t, 1000, treated, 100)
}

func checkBuckets(t *testing.T, buckets [][]int, exps []Experiment) {
	t.Helper()
	for _, exp := range exps {
		count := 0
		for _, b := range buckets {
			has := false
			for _, id := range b {
				if id == exp.ID {
					has = true
				}
			}
			if !has {
				continue
			}
			count++
			for _, id := range b {
				assert.NotContains(t, exp.Conflicts, id, "experiment %d shares a bucket with a conflict", exp.ID)
			}
		}
		assert.Equal(t, exp.BucketsCount, count, "experiment %d", exp.ID)
	}
}

func TestAddExperimentGreedyPlacement(t *testing.T) {
	s, err := NewSplitter(4, "")
	require.NoError(t, err)

	exps := []Experiment{
		{ID: 1, BucketsCount: 4, Conflicts: []int{4}},
		{ID: 2, BucketsCount: 2, Conflicts: []int{3}},
		{ID: 3, BucketsCount: 2, Conflicts: []int{2}},
		{ID: 4, BucketsCount: 1, Conflicts: []int{1}},
	}
	want := []bool{true, true, true, false}

	var added []Experiment
	for i, exp := range exps {
		ok, buckets := s.AddExperiment(exp)
		assert.Equal(t, want[i], ok, "experiment %d", exp.ID)
		if ok {
			added = append(added, exp)
		}
		checkBuckets(t, buckets, added)
	}
	assert.Equal(t, [][]int{{1, 2}, {1, 2}, {1, 3}, {1, 3}}, s.Buckets())
}

func TestAddExperimentRejectsDuplicates(t *testing.T) {
	s, err := NewSplitter(2, "")
	require.NoError(t, err)
	ok, _ := s.AddExperiment(Experiment{ID: 7, BucketsCount: 1})
	require.True(t, ok)
	ok, buckets := s.AddExperiment(Experiment{ID: 7, BucketsCount: 1})
	assert.False(t, ok)
	assert.Equal(t, [][]int{{7}, nil}, buckets)
}

func TestAssign(t *testing.T) {
	s, err := NewSplitter(4, "a2N4")
	require.NoError(t, err)
	ok, _ := s.AddExperiment(Experiment{ID: 0, Salt: "0", BucketsCount: 4})
	require.True(t, ok)
	ok, _ = s.AddExperiment(Experiment{ID: 1, Salt: "1", BucketsCount: 1})
	require.True(t, ok)

	buckets := s.Buckets()
	for i := 0; i < 1000; i++ {
		id := core.UnitID(fmt.Sprint(i))
		bucket, groups, err := s.Assign(id)
		require.NoError(t, err)
		assert.Equal(t, HashBucket(id.String(), "a2N4", 4), bucket)
		assert.Len(t, groups, len(buckets[bucket]))
		for _, g := range groups {
			assert.Contains(t, []experiment.Group{experiment.GroupControl, experiment.GroupTreatment}, g.Group)
		}
	}

	_, groups, err := s.Assign("2")
	require.NoError(t, err)
	require.NotEmpty(t, groups)
	assert.Equal(t, []Assignment{{ExperimentID: 0, Group: experiment.GroupControl}}, groups)
}

func TestNewSplitterValidation(t *testing.T) {
	_, err := NewSplitter(0, "")
	assert.True(t, core.IsInvalidInput(err))
}
