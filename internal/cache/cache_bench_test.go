package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/felipepmaragno/model-router/internal/domain"
)

func BenchmarkInMemoryCache_Set(b *testing.B) {
	c := NewInMemoryCache(DefaultCapacity)
	ctx := context.Background()
	key := GenerateCacheKey(domain.GenerationRequest{Prompt: "Hello"}, false)
	result := newResult("hi")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Set(ctx, key, result, DefaultTTL)
	}
}

func BenchmarkInMemoryCache_Get_Hit(b *testing.B) {
	c := NewInMemoryCache(DefaultCapacity)
	ctx := context.Background()
	key := GenerateCacheKey(domain.GenerationRequest{Prompt: "Hello"}, false)
	c.Set(ctx, key, newResult("hi"), DefaultTTL)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Get(ctx, key)
	}
}

func BenchmarkInMemoryCache_Eviction(b *testing.B) {
	c := NewInMemoryCache(DefaultCapacity)
	ctx := context.Background()
	result := newResult("hi")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Set(ctx, fmt.Sprintf("key%d", i), result, time.Hour)
	}
}

func BenchmarkGenerateCacheKey(b *testing.B) {
	req := domain.GenerationRequest{
		Prompt:      "Explain the difference between a slice and an array",
		Instruction: "Answer as JSON",
		Language:    "en",
		Params:      map[string]string{"temperature": "0.2"},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		GenerateCacheKey(req, false)
	}
}
