package id

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUnique(t *testing.T) {
	gen := NewGenerator()

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		s := gen.GenerateString()
		require.False(t, seen[s], "duplicate ULID %s", s)
		seen[s] = true
	}
}

func TestNewTaskID(t *testing.T) {
	task := NewTaskID()

	parts := strings.Split(task.String(), "_")
	require.Len(t, parts, 2)
	assert.Equal(t, TaskPrefix, parts[0])
	assert.Len(t, parts[1], 26)
	assert.True(t, task.Valid())
	assert.True(t, IsValid(parts[1]))
}

func TestNamedTaskID(t *testing.T) {
	sb := NamedTaskID("sb")

	assert.Equal(t, TaskID("task_sb"), sb)
	assert.True(t, sb.Valid())
	assert.False(t, NoTask.Valid())
	assert.False(t, TaskID("task_").Valid())
	assert.False(t, TaskID("app_123").Valid())

	_, err := Timestamp(sb)
	assert.Error(t, err)
}

func TestTimestamp(t *testing.T) {
	before := time.Now().UnixMilli()
	task := NewTaskID()
	after := time.Now().UnixMilli()

	ts, err := Timestamp(task)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, ts.UnixMilli(), before)
	assert.LessOrEqual(t, ts.UnixMilli(), after)
}

func TestConcurrentGeneration(t *testing.T) {
	gen := NewGenerator()

	const goroutines = 50
	const perGoroutine = 100

	var mu sync.Mutex
	seen := make(map[string]bool, goroutines*perGoroutine)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				s := gen.GenerateString()
				mu.Lock()
				seen[s] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*perGoroutine)
}

func TestResourceIDRoundTrip(t *testing.T) {
	rid := Mint(KindPipe, 7, 42)

	assert.Equal(t, KindPipe, rid.Kind())
	assert.Equal(t, uint32(7), rid.Generation())
	assert.Equal(t, 42, rid.Slot())

	slot, ok := Validate(rid, KindPipe)
	require.True(t, ok)
	assert.Equal(t, 42, slot)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		rid  ResourceID
		kind Kind
	}{
		{"undefined", Undefined, KindPipe},
		{"wrong kind", Mint(KindRoute, 1, 3), KindPipe},
		{"generation zero", Mint(KindPipe, 0, 3), KindPipe},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := Validate(tt.rid, tt.kind)
			assert.False(t, ok)
		})
	}
}

func TestNextGenerationSkipsZero(t *testing.T) {
	assert.Equal(t, uint32(2), NextGeneration(1))
	assert.Equal(t, uint32(1), NextGeneration(MaxGeneration))
	assert.Equal(t, uint32(1), NextGeneration(0))
}
