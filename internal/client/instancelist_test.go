package client

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type item struct {
	id        string
	hits      int
	destroyed bool
}

func (it *item) destroy() { it.destroyed = true }

func reconcile(l *InstanceList[string, *item], keys ...string) {
	l.Update(keys,
		func(id string) *item { return &item{id: id} },
		func(it *item) { it.hits++ },
	)
}

func TestInstanceListAddRemoveOrder(t *testing.T) {
	l := NewInstanceList[string, *item]()

	var added, removed []string
	l.On("added", func(args ...any) { added = append(added, args[0].(*item).id) })
	l.On("removed", func(args ...any) { removed = append(removed, args[0].(*item).id) })

	reconcile(l, "a", "b", "c")
	require.Equal(t, []string{"a", "b", "c"}, added)
	require.Empty(t, removed)
	require.Equal(t, 3, l.Len())

	// Order follows the incoming keys, not insertion history.
	reconcile(l, "c", "a")
	require.Equal(t, []string{"b"}, removed)
	var order []string
	l.Each(func(k string, _ *item) { order = append(order, k) })
	require.Equal(t, []string{"c", "a"}, order)

	_, ok := l.Get("b")
	require.False(t, ok)
}

func TestInstanceListKeepsInstancesAlive(t *testing.T) {
	l := NewInstanceList[string, *item]()
	reconcile(l, "a", "b")
	first, _ := l.Get("a")

	reconcile(l, "a", "b")
	second, _ := l.Get("a")
	require.Same(t, first, second, "reapplying the same keys must not rebuild instances")
	require.Equal(t, 1, second.hits, "existing instances get refreshed, not recreated")
}

func TestInstanceListUpdateEventPerReconcile(t *testing.T) {
	l := NewInstanceList[string, *item]()
	updates := 0
	l.On("update", func(...any) { updates++ })

	reconcile(l, "a")
	reconcile(l, "a")
	reconcile(l)
	require.Equal(t, 3, updates)
}

func TestInstanceListClear(t *testing.T) {
	l := NewInstanceList[string, *item]()
	reconcile(l, "a", "b")

	var removed []string
	l.On("removed", func(args ...any) { removed = append(removed, args[0].(*item).id) })

	l.Clear()
	require.Equal(t, 0, l.Len())
	require.ElementsMatch(t, []string{"a", "b"}, removed)
	require.Empty(t, l.All())
}

func TestInstanceListDestroysRemoved(t *testing.T) {
	l := NewInstanceList[string, *item]()
	reconcile(l, "a", "b")
	dropped, _ := l.Get("b")
	kept, _ := l.Get("a")

	// The destroy hook runs after the "removed" emission, never before.
	l.On("removed", func(args ...any) {
		require.False(t, args[0].(*item).destroyed)
	})

	reconcile(l, "a")
	require.True(t, dropped.destroyed)
	require.False(t, kept.destroyed)

	l.Clear()
	require.True(t, kept.destroyed, "clear must run the destroy hook too")
}
