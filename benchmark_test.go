package procbox

import (
	"context"
	"fmt"
	"testing"
)

func benchPool(b *testing.B, n int) *ProcessPool {
	b.Helper()
	sp := newMockSpawner()
	pool := NewProcessPool(isolated(WithProcessOptions(WithSpawner(sp)))...)
	ctx := context.Background()
	for i := 0; i < n; i++ {
		p, err := pool.Create(Spec{Name: fmt.Sprintf("p%d", i), Exec: "mock"})
		if err != nil {
			b.Fatal(err)
		}
		if i%2 == 0 {
			if err := p.Open(ctx); err != nil {
				b.Fatal(err)
			}
		}
	}
	b.Cleanup(func() { _ = pool.Close(context.Background()) })
	return pool
}

// BenchmarkPoolQuery measures attribute matching over a pool
func BenchmarkPoolQuery(b *testing.B) {
	pool := benchPool(b, 64)
	where := Where{"state": "opened"}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if got := pool.Query(where); len(got) != 32 {
			b.Fatalf("matched %d, want 32", len(got))
		}
	}
}

// BenchmarkPoolQueryParallel measures concurrent queries
func BenchmarkPoolQueryParallel(b *testing.B) {
	pool := benchPool(b, 64)
	where := Where{"name": "p10"}

	b.ResetTimer()
	b.ReportAllocs()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if got := pool.Query(where); len(got) != 1 {
				b.Fatalf("matched %d, want 1", len(got))
			}
		}
	})
}

// BenchmarkProcessActive measures the Active/Inactive pair
func BenchmarkProcessActive(b *testing.B) {
	p := NewProcess("mock", nil, Config{}, WithSpawner(newMockSpawner()))
	if err := p.Open(context.Background()); err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = p.Close(context.Background()) })

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if err := p.Active(); err != nil {
			b.Fatal(err)
		}
		p.Inactive()
	}
}

// BenchmarkStateString measures State.String() performance
func BenchmarkStateString(b *testing.B) {
	states := []State{
		StateUnknown,
		StateUnopened,
		StateOpening,
		StateOpened,
		StateClosing,
		StateClosed,
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = states[i%len(states)].String()
	}
}

// BenchmarkOperationString measures Operation.String() performance
func BenchmarkOperationString(b *testing.B) {
	ops := []Operation{
		OpOpen,
		OpClose,
		OpStat,
		OpSpawn,
		OpStart,
		OpStop,
		OpDrain,
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = ops[i%len(ops)].String()
	}
}
