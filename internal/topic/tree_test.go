package topic

import (
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTreeAddRemove(t *testing.T) {
	tree := NewTree()

	require.NoError(t, tree.Add("home/+/status"))
	require.NoError(t, tree.Add("home/+/status"))
	require.NoError(t, tree.Add("home/#"))
	assert.Equal(t, 2, tree.Len())

	err := tree.Add("home/#/status")
	assert.ErrorIs(t, err, ErrInvalidFilter)
	assert.Equal(t, 2, tree.Len())

	assert.True(t, tree.Remove("home/+/status"))
	assert.False(t, tree.Remove("home/+/status"))
	assert.False(t, tree.Remove("home"))
	assert.False(t, tree.Remove(""))
	assert.Equal(t, 1, tree.Len())

	assert.Equal(t, []string{"home/#"}, tree.Match("home/dev1/status"))

	assert.True(t, tree.Remove("home/#"))
	assert.Zero(t, tree.Len())
	assert.Empty(t, tree.root.children, "empty branches pruned")
}

func TestTreeRemoveKeepsSharedPrefix(t *testing.T) {
	tree := NewTree()
	require.NoError(t, tree.Add("a/b"))
	require.NoError(t, tree.Add("a/b/c"))

	assert.True(t, tree.Remove("a/b"))
	assert.Equal(t, []string{"a/b/c"}, tree.Match("a/b/c"))
	assert.Empty(t, tree.Match("a/b"))
}

func TestTreeMatchAgreesWithMatches(t *testing.T) {
	filters := []string{
		"#", "+", "+/+", "+/#",
		"home", "home/#", "home/+", "home/+/telemetry", "home/+/+", "home/dev1/#",
		"home/dev1/telemetry", "home//telemetry", "/home", "/+", "+/dev1/+",
		"$SYS/#", "$SYS/broker/+", "sensors/+/temperature/#",
	}
	names := []string{
		"home", "home/dev1", "home/dev1/telemetry", "home/dev1/telemetry/raw",
		"home//telemetry", "/home", "/", "office/dev1/status",
		"$SYS", "$SYS/broker/uptime", "$SYS/broker/clients/connected",
		"sensors/kitchen/temperature", "sensors/kitchen/temperature/c",
		"a/dev1/b",
	}

	tree := NewTree()
	for _, f := range filters {
		require.NoError(t, tree.Add(f))
	}

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			var want []string
			for _, f := range filters {
				if Matches(f, name) {
					want = append(want, f)
				}
			}
			sort.Strings(want)
			assert.Equal(t, want, tree.Match(name))
		})
	}
}

func TestTreeConcurrent(t *testing.T) {
	tree := NewTree()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			filter := fmt.Sprintf("devices/%d/#", i)
			assert.NoError(t, tree.Add(filter))
		}(i)
		go func(i int) {
			defer wg.Done()
			tree.Match(fmt.Sprintf("devices/%d/status", i))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, tree.Len())
	assert.Equal(t, []string{"devices/3/#"}, tree.Match("devices/3/status"))
}

func BenchmarkTreeMatch(b *testing.B) {
	tree := NewTree()
	for i := 0; i < 1000; i++ {
		_ = tree.Add(fmt.Sprintf("home/dev%d/+", i))
	}
	_ = tree.Add("home/#")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tree.Match("home/dev500/telemetry")
	}
}
