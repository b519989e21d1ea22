package scope

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property-based tests for the scope store.

// TestPropertyLastWriterWins verifies that a read returns the most recent write.
func TestPropertyLastWriterWins(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("get returns the last value set", prop.ForAll(
		func(name string, first, second float64) bool {
			s := New()
			s.Set(name, first)
			s.Set(name, second)
			got, ok := s.Get(name)
			return ok && got == second
		},
		gen.Identifier(),
		gen.Float64(),
		gen.Float64(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

// TestPropertyVersionCounting verifies that every Set bumps the version by one
// and every batch bumps it exactly once regardless of its size.
func TestPropertyVersionCounting(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("n sets produce version n", prop.ForAll(
		func(names []string) bool {
			s := New()
			for i, name := range names {
				s.Set(name, float64(i))
			}
			return s.Version() == uint64(len(names))
		},
		gen.SliceOf(gen.Identifier()),
	))

	properties.Property("a batch of any size bumps once", prop.ForAll(
		func(names []string) bool {
			s := New()
			before := s.Version()
			batch := make(map[string]any, len(names))
			for i, name := range names {
				batch[name] = float64(i)
			}
			after := s.SetMany(batch)
			if after != before+1 {
				return false
			}
			for name := range batch {
				if _, ok := s.Get(name); !ok {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Identifier()),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

// TestPropertySnapshotIsolation verifies that later writes never leak into an
// earlier snapshot.
func TestPropertySnapshotIsolation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("snapshot keeps its values after later writes", prop.ForAll(
		func(name string, before, after int) bool {
			s := New()
			s.Set(name, before)
			snap := s.Snapshot()
			s.Set(name, after)
			s.Set(name+"_other", after)

			got, ok := snap.Get(name)
			if !ok || got != before {
				return false
			}
			_, leaked := snap.Get(name + "_other")
			return !leaked && snap.Version() == 1
		},
		gen.Identifier(),
		gen.Int(),
		gen.Int(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
