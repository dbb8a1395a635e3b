//nolint:testpackage
package palm

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// viewHooks derives hook instances as "view:<model>:<instance>".
type viewHooks struct{}

func (viewHooks) ModelInstanceForHooks(name string, instance any) any {
	return fmt.Sprintf("view:%s:%v", name, instance)
}

func TestTranslationCache(t *testing.T) {
	t.Parallel()

	c := NewTranslationCache()

	first := c.store("User", "v1", nil)
	c.store("Company", "c1", viewHooks{})

	again := c.store("User", "v2", nil)
	assert.Same(t, first, again)
	assert.Equal(t, "v2", first.Instance())
	assert.Equal(t, "v2", first.HookInstance(), "falls back to the instance")

	company, ok := c.Get("Company")
	require.True(t, ok)
	assert.Equal(t, "view:Company:c1", company.HookInstance())

	assert.True(t, c.modify("Company", "c2"))
	assert.False(t, c.modify("Ghost", "x"))

	inst, ok := c.Instance("Company")
	require.True(t, ok)
	assert.Equal(t, "c2", inst)
	assert.Equal(t, "view:Company:c2", company.HookInstance())

	assert.Equal(t, []string{"User", "Company"}, c.Names())
	assert.Equal(t, 2, c.Len())

	first.ModifySelf("v3")

	inst, _ = c.Instance("User")
	assert.Equal(t, "v3", inst)

	company.ModifySelf("c3")
	assert.Equal(t, "view:Company:c3", company.HookInstance())

	c.Invalidate("User")
	_, ok = c.Get("User")
	assert.False(t, ok)
	assert.Equal(t, []string{"Company"}, c.Names())

	c.Invalidate()
	assert.Equal(t, 0, c.Len())

	_, ok = c.Instance("Company")
	assert.False(t, ok)
}

func TestTranslationCache_Restore(t *testing.T) {
	t.Parallel()

	c := NewTranslationCache()
	user := c.store("User", "v1", viewHooks{})

	snap := c.snapshot()

	c.store("User", "v2", nil)
	c.store("Company", "c1", nil)
	require.Equal(t, 2, c.Len())

	c.restore(snap)

	assert.Equal(t, []string{"User"}, c.Names())

	got, ok := c.Get("User")
	require.True(t, ok)
	assert.Same(t, user, got)
	assert.Equal(t, "v1", got.Instance())
	assert.Equal(t, "view:User:v1", got.HookInstance())

	_, ok = c.Get("Company")
	assert.False(t, ok)
}

func TestTranslationCache_Concurrent(t *testing.T) {
	t.Parallel()

	c := NewTranslationCache()
	im := c.store("User", 0, nil)

	var wg sync.WaitGroup

	for i := range 50 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			c.modify("User", i)
			_ = im.Instance()
			_, _ = c.Instance("User")
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, c.Len())
}

func TestNativeFields(t *testing.T) {
	t.Parallel()

	n := NewNativeFields()
	n.Set("b", 1)
	n.Set("a", 2)
	n.Set("b", 3)

	assert.Equal(t, []string{"b", "a"}, n.Names())
	assert.Equal(t, 2, n.Len())

	v, ok := n.Get("b")
	require.True(t, ok)
	assert.Equal(t, 3, v)

	var seen []string

	n.Each(func(name string, value any) {
		seen = append(seen, name)
	})

	assert.Equal(t, []string{"b", "a"}, seen)
}

func deferredFor(m *Model, field string) DeferredField {
	return DeferredField{Model: m, Field: m.Field(field)}
}

func TestOrderDeferred(t *testing.T) {
	t.Parallel()

	a := NewModel("A", ModelOptions{}).Add("b", ForeignKeyTo("B", "", OnDeleteCascade))
	b := NewModel("B", ModelOptions{}).Add("c", ForeignKeyTo("C", "", OnDeleteCascade))
	cm := NewModel("C", ModelOptions{}).
		Add("self", ForeignKeyTo("C", "", OnDeleteCascade)).
		Add("ext", ForeignKeyTo("Outside", "", OnDeleteCascade))
	require.NoError(t, NewCatalog(a, b, cm).Init())

	entries := []DeferredField{
		deferredFor(a, "b"),
		deferredFor(b, "c"),
		deferredFor(cm, "self"),
		deferredFor(cm, "ext"),
	}

	got := orderDeferred(entries)

	want := []string{"C.self", "C.ext", "B.c", "A.b"}
	if diff := cmp.Diff(want, deferredNames(got)); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, "A.b", deferredNames(entries)[0], "input is not reordered")
}

func TestOrderDeferred_Cycle(t *testing.T) {
	t.Parallel()

	x := NewModel("X", ModelOptions{}).Add("y", ForeignKeyTo("Y", "", OnDeleteCascade))
	y := NewModel("Y", ModelOptions{}).Add("x", ForeignKeyTo("X", "", OnDeleteCascade))
	z := NewModel("Z", ModelOptions{}).Add("n", Integer())
	require.NoError(t, NewCatalog(x, y, z).Init())

	got := orderDeferred([]DeferredField{
		deferredFor(y, "x"),
		deferredFor(x, "y"),
		deferredFor(z, "n"),
	})

	want := []string{"Z.n", "Y.x", "X.y"}
	if diff := cmp.Diff(want, deferredNames(got)); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func deferredNames(entries []DeferredField) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Model.Name + "." + e.Field.Name
	}

	return out
}
