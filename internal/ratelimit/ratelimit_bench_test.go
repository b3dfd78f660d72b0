package ratelimit

import (
	"context"
	"fmt"
	"testing"
)

func BenchmarkInMemoryLimiter_Allow(b *testing.B) {
	l := NewInMemoryLimiter()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.Allow(ctx, "user-1", 1<<30)
	}
}

func BenchmarkInMemoryLimiter_Allow_ManyCallers(b *testing.B) {
	l := NewInMemoryLimiter()
	ctx := context.Background()

	callers := make([]string, 1000)
	for i := range callers {
		callers[i] = fmt.Sprintf("user-%d", i)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			l.Allow(ctx, callers[i%len(callers)], 1<<30)
			i++
		}
	})
}
