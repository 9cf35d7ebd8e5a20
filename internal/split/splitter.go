package split

import (
	"crypto/md5"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"abkit/domain/core"
	"abkit/domain/experiment"
	"abkit/internal"
	apperrors "abkit/internal/errors"
)

// HashBucket maps unitID+salt to [0, n) through the md5 digest read as a big-endian integer
func HashBucket(unitID, salt string, n int) int {
	sum := md5.Sum([]byte(unitID + salt))
	var mod big.Int
	mod.Mod(new(big.Int).SetBytes(sum[:]), big.NewInt(int64(n)))
	return int(mod.Int64())
}

// Experiment is a test placed into buckets of the splitting system
type Experiment struct {
	ID           int    `json:"id"`
	Salt         string `json:"salt"`
	BucketsCount int    `json:"buckets_count"`
	// Conflicts lists experiments that must never share a bucket with this one
	Conflicts []int `json:"conflicts,omitempty"`
}

// Assignment is the arm of a unit in one experiment
type Assignment struct {
	ExperimentID int              `json:"experiment_id"`
	Group        experiment.Group `json:"group"`
}

// Splitter places experiments into buckets and assigns units to buckets and arms.
// With a fixed salt a unit always lands in the same bucket.
type Splitter struct {
	mu          sync.RWMutex
	bucketSalt  string
	buckets     [][]int
	experiments map[int]Experiment
	logger      *internal.Logger
}

// NewSplitter creates a splitter with empty buckets
func NewSplitter(bucketsCount int, bucketSalt string) (*Splitter, error) {
	if bucketsCount < 1 {
		return nil, apperrors.InvalidInput(core.NewValidationError("buckets_count", "must be at least 1"), "buckets %d", bucketsCount)
	}
	return &Splitter{
		bucketSalt:  bucketSalt,
		buckets:     make([][]int, bucketsCount),
		experiments: make(map[int]Experiment),
		logger:      internal.DefaultLogger.With("split"),
	}, nil
}

// BucketsCount returns the number of buckets
func (s *Splitter) BucketsCount() int {
	return len(s.buckets)
}

// Buckets returns a copy of the experiment ids running in each bucket
func (s *Splitter) Buckets() [][]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot()
}

func (s *Splitter) snapshot() [][]int {
	out := make([][]int, len(s.buckets))
	for i, b := range s.buckets {
		out[i] = append([]int(nil), b...)
	}
	return out
}

// AddExperiment places exp into the exp.BucketsCount fullest buckets that hold none
// of its conflicts. It reports false and leaves the buckets untouched when there
// are not enough compatible buckets.
func (s *Splitter) AddExperiment(exp Experiment) (bool, [][]int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.experiments[exp.ID]; dup || exp.BucketsCount < 0 {
		return false, s.snapshot()
	}

	conflicts := make(map[int]struct{}, len(exp.Conflicts))
	for _, c := range exp.Conflicts {
		conflicts[c] = struct{}{}
	}

	type candidate struct{ bucket, load int }
	var compatible []candidate
	for i, b := range s.buckets {
		ok := true
		for _, id := range b {
			if _, clash := conflicts[id]; clash {
				ok = false
				break
			}
		}
		if ok {
			compatible = append(compatible, candidate{i, len(b)})
		}
	}
	if len(compatible) < exp.BucketsCount {
		s.logger.Debug("experiment %d needs %d buckets, %d compatible", exp.ID, exp.BucketsCount, len(compatible))
		return false, s.snapshot()
	}

	// fullest first keeps empty buckets free for experiments with many conflicts
	sort.SliceStable(compatible, func(i, j int) bool { return compatible[i].load > compatible[j].load })
	for _, c := range compatible[:exp.BucketsCount] {
		s.buckets[c.bucket] = append(s.buckets[c.bucket], exp.ID)
	}
	s.experiments[exp.ID] = exp
	return true, s.snapshot()
}

// Assign returns the bucket of a unit and its arm in every experiment of that bucket
func (s *Splitter) Assign(unitID core.UnitID) (int, []Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bucket := HashBucket(unitID.String(), s.bucketSalt, len(s.buckets))
	var out []Assignment
	for _, id := range s.buckets[bucket] {
		exp, ok := s.experiments[id]
		if !ok {
			return bucket, nil, fmt.Errorf("%w: experiment %d in bucket %d", core.ErrUnknownVariant, id, bucket)
		}
		out = append(out, Assignment{ExperimentID: id, Group: GroupFor(unitID, exp.Salt)})
	}
	return bucket, out, nil
}

// GroupFor is the arm of a unit under an experiment salt: hash 0 is control
func GroupFor(unitID core.UnitID, salt string) experiment.Group {
	if HashBucket(unitID.String(), salt, 2) == 0 {
		return experiment.GroupControl
	}
	return experiment.GroupTreatment
}

// GroupsFor splits units into arms by salted hash, in the order given
func GroupsFor(unitIDs []core.UnitID, salt string) []experiment.Group {
	groups := make([]experiment.Group, len(unitIDs))
	for i, id := range unitIDs {
		groups[i] = GroupFor(id, salt)
	}
	return groups
}
