package evidence

import (
	"testing"
	"time"

	"github.com/proctriage/triage/internal/model"
	"github.com/proctriage/triage/internal/priors"
	"github.com/stretchr/testify/assert"
)

func sampleAt(t0 time.Time, offset time.Duration, cpuTicks uint64, ppid int, cmd string) model.Sample {
	return model.Sample{
		Identity:   model.Identity{PID: 100, StartID: "boot:1:100", UID: 0},
		ObservedAt: t0.Add(offset),
		CPUTicks:   cpuTicks,
		PPID:       ppid,
		CmdLine:    cmd,
		State:      model.ProcStateSleeping,
	}
}

func TestDeriveOccupancyFromTickDeltas(t *testing.T) {
	t0 := time.Now()
	samples := []model.Sample{
		sampleAt(t0, 0, 1000, 1, "node jest --worker"),
		sampleAt(t0, time.Second, 1100, 1, "node jest --worker"),
	}
	store := NewStore(nil)
	c := store.Derive(samples)

	// 100 ticks over 1s at 100 ticks/sec = full occupancy.
	assert.InDelta(t, 1.0, c.Features.OccupancyRate, 1e-9)
	assert.Equal(t, float64(2), c.Features.NEff)
}

func TestDeriveOrphanFlagRequiresNoSupervisor(t *testing.T) {
	store := NewStore(nil)
	samples := []model.Sample{
		{Identity: model.Identity{PID: 5, StartID: "boot:1:5"}, PPID: 1, ObservedAt: time.Now()},
	}
	c := store.Derive(samples)
	assert.True(t, c.Features.OrphanFlag)
	assert.Empty(t, c.Features.OrphanContext)
}

func TestDeriveSupervisedReparentedIsNotOrphan(t *testing.T) {
	store := NewStore(nil)
	samples := []model.Sample{
		{
			Identity:   model.Identity{PID: 5, StartID: "boot:1:5"},
			PPID:       1,
			ObservedAt: time.Now(),
			Supervisor: model.SupervisorHint{Type: model.SupervisorSystemd, Unit: "myapp.service"},
		},
	}
	c := store.Derive(samples)
	assert.False(t, c.Features.OrphanFlag)
	assert.Equal(t, "supervised-reparented", c.Features.OrphanContext)
}

func TestDeriveNonOrphanWhenParentAlive(t *testing.T) {
	store := NewStore(nil)
	samples := []model.Sample{
		{Identity: model.Identity{PID: 5, StartID: "boot:1:5"}, PPID: 42, ObservedAt: time.Now()},
	}
	c := store.Derive(samples)
	assert.False(t, c.Features.OrphanFlag)
}

func TestDeriveMismatchedStartIDNotMerged(t *testing.T) {
	t0 := time.Now()
	samples := []model.Sample{
		sampleAt(t0, 0, 0, 1, "a"),
		{Identity: model.Identity{PID: 100, StartID: "boot:2:100"}, ObservedAt: t0.Add(time.Second)},
	}
	store := NewStore(nil)
	c := store.Derive(samples)
	assert.Equal(t, "boot:1:100", c.Identity.StartID)
}

func TestCategorizeMatchesSignature(t *testing.T) {
	store := NewStore([]priors.CategorySignature{
		{Category: "test_runner", Patterns: []string{"*jest*", "*pytest*"}},
	})
	samples := []model.Sample{sampleAt(time.Now(), 0, 0, 1, "node jest --worker")}
	c := store.Derive(samples)
	assert.Equal(t, "test_runner", c.Features.CommandCategory)
}

func TestCategorizeFallsBackToUnknown(t *testing.T) {
	store := NewStore([]priors.CategorySignature{
		{Category: "test_runner", Patterns: []string{"*jest*"}},
	})
	samples := []model.Sample{sampleAt(time.Now(), 0, 0, 1, "some-random-binary")}
	c := store.Derive(samples)
	assert.Equal(t, "unknown", c.Features.CommandCategory)
}

func TestCmdShortTruncatesLongCommand(t *testing.T) {
	long := ""
	for i := 0; i < 20; i++ {
		long += "very-long-argument-segment "
	}
	got := cmdShort(long)
	assert.LessOrEqual(t, len(got), 80)
}

func TestDeriveEmptySamplesReturnsZeroValue(t *testing.T) {
	store := NewStore(nil)
	c := store.Derive(nil)
	assert.Equal(t, model.Candidate{}, c)
}

func TestDeriveRiskLevelEscalatesOnOpenWriteFiles(t *testing.T) {
	store := NewStore([]priors.CategorySignature{
		{Category: "test_runner", Patterns: []string{"*jest*"}, BaseRiskLevel: model.RiskLow, Reversible: true},
	})
	samples := []model.Sample{
		{
			Identity:       model.Identity{PID: 5, StartID: "boot:1:5"},
			ObservedAt:     time.Now(),
			CmdLine:        "node jest --worker",
			OpenWriteFiles: []string{"/var/lib/app/state.db"},
		},
	}
	c := store.Derive(samples)
	assert.Equal(t, model.RiskHigh, c.BlastRadius.RiskLevel)
	assert.False(t, c.Reversibility.Reversible)
	assert.True(t, c.Reversibility.DataAtRisk)
	assert.Equal(t, []string{"/var/lib/app/state.db"}, c.Reversibility.OpenWriteFDs)
}

func TestDeriveReversibleWhenSignatureSaysSoAndNoWriteFiles(t *testing.T) {
	store := NewStore([]priors.CategorySignature{
		{Category: "test_runner", Patterns: []string{"*jest*"}, BaseRiskLevel: model.RiskLow, Reversible: true},
	})
	samples := []model.Sample{
		{Identity: model.Identity{PID: 5, StartID: "boot:1:5"}, ObservedAt: time.Now(), CmdLine: "node jest --worker"},
	}
	c := store.Derive(samples)
	assert.Equal(t, model.RiskLow, c.BlastRadius.RiskLevel)
	assert.True(t, c.Reversibility.Reversible)
	assert.False(t, c.Reversibility.DataAtRisk)
	assert.NotEmpty(t, c.Reversibility.RecoveryOptions)
}

func TestDeriveUnknownCategoryDefaultsToMediumRiskNotReversible(t *testing.T) {
	store := NewStore(nil)
	samples := []model.Sample{
		{Identity: model.Identity{PID: 5, StartID: "boot:1:5"}, ObservedAt: time.Now(), CmdLine: "some-random-binary"},
	}
	c := store.Derive(samples)
	assert.Equal(t, model.RiskMedium, c.BlastRadius.RiskLevel)
	assert.False(t, c.Reversibility.Reversible)
}

func TestChangePointProbabilityZeroWithoutHazard(t *testing.T) {
	store := NewStore(nil)
	t0 := time.Now()
	samples := []model.Sample{
		sampleAt(t0, 0, 0, 1, "steady"),
		sampleAt(t0, time.Second, 100, 1, "steady"),
		sampleAt(t0, 2*time.Second, 200, 1, "steady"),
	}
	c := store.Derive(samples)
	assert.Zero(t, c.Features.ChangePointProbability)
}

func TestChangePointProbabilityRisesOnActivityFlip(t *testing.T) {
	store := NewStore(nil).WithHazard(0.01)
	t0 := time.Now()

	// Idle for several samples, then a sudden burst of CPU activity: the
	// regime shift should register as a change point.
	idle := []model.Sample{
		sampleAt(t0, 0, 0, 1, "flipper"),
		sampleAt(t0, time.Second, 0, 1, "flipper"),
		sampleAt(t0, 2*time.Second, 0, 1, "flipper"),
		sampleAt(t0, 3*time.Second, 0, 1, "flipper"),
		sampleAt(t0, 4*time.Second, 500, 1, "flipper"),
	}
	flipped := store.Derive(idle)

	steady := []model.Sample{
		sampleAt(t0, 0, 0, 1, "steady"),
		sampleAt(t0, time.Second, 0, 1, "steady"),
		sampleAt(t0, 2*time.Second, 0, 1, "steady"),
		sampleAt(t0, 3*time.Second, 0, 1, "steady"),
		sampleAt(t0, 4*time.Second, 0, 1, "steady"),
	}
	unflipped := store.Derive(steady)

	assert.Greater(t, flipped.Features.ChangePointProbability, unflipped.Features.ChangePointProbability)
}
