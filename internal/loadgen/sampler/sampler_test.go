package sampler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestForVU_Reproducible(t *testing.T) {
	a := ForVU(42, 3)
	b := ForVU(42, 3)

	for i := 0; i < 100; i++ {
		if x, y := a.Intn(10000), b.Intn(10000); x != y {
			t.Fatalf("draw %d: %d != %d", i, x, y)
		}
	}
}

func TestForVU_IndependentStreams(t *testing.T) {
	a := ForVU(42, 1)
	b := ForVU(42, 2)

	same := 0
	for i := 0; i < 100; i++ {
		if a.Intn(1<<30) == b.Intn(1<<30) {
			same++
		}
	}
	assert.Less(t, same, 5)
}

func TestSampler_Ranges(t *testing.T) {
	s := New(1)

	for i := 0; i < 1000; i++ {
		if v := s.Intn(5); v < 0 || v >= 5 {
			t.Fatalf("Intn(5) = %d", v)
		}
		if v := s.IntBetween(1, 3); v < 1 || v > 3 {
			t.Fatalf("IntBetween(1, 3) = %d", v)
		}
		d := s.Duration(500*time.Millisecond, 2500*time.Millisecond)
		if d < 500*time.Millisecond || d >= 2500*time.Millisecond {
			t.Fatalf("Duration = %v", d)
		}
	}

	assert.Equal(t, 0, s.Intn(0))
	assert.Equal(t, 7, s.IntBetween(7, 7))
	assert.Equal(t, time.Second, s.Duration(time.Second, time.Second))
}

func TestPickDistinct(t *testing.T) {
	items := []string{"item-a", "item-b", "item-c", "item-d", "item-e"}
	s := New(9)

	for i := 0; i < 200; i++ {
		got := PickDistinct(s, items, 3)
		assert.NotEmpty(t, got)
		assert.LessOrEqual(t, len(got), 3)

		seen := map[string]bool{}
		for _, item := range got {
			assert.Contains(t, items, item)
			assert.False(t, seen[item], "duplicate %s in %v", item, got)
			seen[item] = true
		}
	}

	assert.Nil(t, PickDistinct(s, []string{}, 3))
}

func TestPick(t *testing.T) {
	s := New(5)
	items := []int{10, 20, 30}
	for i := 0; i < 50; i++ {
		assert.Contains(t, items, Pick(s, items))
	}
}
