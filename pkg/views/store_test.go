package views

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/trellis/pkg/display"
	"github.com/ajitpratap0/trellis/pkg/errors"
	"github.com/ajitpratap0/trellis/pkg/state"
	"github.com/ajitpratap0/trellis/pkg/testutil"
)

func writeDisplay(t *testing.T, root string) {
	t.Helper()
	testutil.WriteDisplay(t, root, "demo", testutil.NewTable(t, []string{"category", "value", "plot"}, map[string][]interface{}{
		"category": {"a", "b", "a"},
		"value":    {1.5, 2.5, 3.5},
		"plot":     testutil.Markup(3),
	}), "plot")
}

func sortedBy(name string, dir state.Direction) state.State {
	s := state.New()
	s.Sorts = []state.Sort{{Var: name, Dir: dir}}
	return s
}

func TestStore_SaveLoadList(t *testing.T) {
	root := t.TempDir()
	writeDisplay(t, root)
	store := Open(root, "demo", WithLogger(zaptest.NewLogger(t)))

	names, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, store.Save("by value", sortedBy("value", state.Desc)))
	only := state.New()
	only.Filters = []state.Filter{{Var: "category", Predicate: state.LevelsFilter{Levels: []string{"a"}}}}
	require.NoError(t, store.SaveView(state.NamedView{Name: "only a", Description: "category a", State: only}))

	names, err = store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"by value", "only a"}, names)

	got, err := store.Load("by value")
	require.NoError(t, err)
	assert.Equal(t, sortedBy("value", state.Desc), got)

	v, err := store.Get("only a")
	require.NoError(t, err)
	assert.Equal(t, "category a", v.Description)
	assert.Equal(t, only, v.State)
	assert.False(t, v.Saved.IsZero())
}

func TestStore_SaveOverwritesInPlace(t *testing.T) {
	root := t.TempDir()
	writeDisplay(t, root)
	store := Open(root, "demo")

	require.NoError(t, store.Save("first", sortedBy("value", state.Asc)))
	require.NoError(t, store.Save("second", sortedBy("category", state.Asc)))
	require.NoError(t, store.Save("first", sortedBy("value", state.Desc)))

	names, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, names)

	got, err := store.Load("first")
	require.NoError(t, err)
	assert.Equal(t, state.Desc, got.Sorts[0].Dir)
}

func TestStore_NotFound(t *testing.T) {
	root := t.TempDir()
	writeDisplay(t, root)
	store := Open(root, "demo")

	_, err := store.Load("nope")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	assert.Contains(t, err.Error(), `"nope"`)
	view, ok := err.(*errors.Error).Detail("view")
	require.True(t, ok)
	assert.Equal(t, "nope", view)

	assert.True(t, errors.IsType(store.Delete("nope"), errors.ErrorTypeNotFound))

	_, err = Open(root, "other").List()
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	_, err = Open(root, "../demo").List()
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestStore_Delete(t *testing.T) {
	root := t.TempDir()
	writeDisplay(t, root)
	store := Open(root, "demo")

	require.NoError(t, store.Save("a", state.New()))
	require.NoError(t, store.Save("b", state.New()))
	require.NoError(t, store.Delete("a"))

	names, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, names)

	loaded, err := display.Load(root, "demo")
	require.NoError(t, err)
	require.Len(t, loaded.Views, 1)
	assert.Equal(t, "b", loaded.Views[0].Name)
}

func TestStore_RejectsInvalidState(t *testing.T) {
	root := t.TempDir()
	writeDisplay(t, root)
	store := Open(root, "demo")

	err := store.Save("bad", sortedBy("missing", state.Asc))
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnknownVariable))

	panelFilter := state.New()
	panelFilter.Filters = []state.Filter{{Var: "plot", Predicate: state.TextFilter{Pattern: "x"}}}
	err = store.Save("panel", panelFilter)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnknownVariable))

	wrongKind := state.New()
	wrongKind.Filters = []state.Filter{{Var: "value", Predicate: state.LevelsFilter{Levels: []string{"a"}}}}
	err = store.Save("kind", wrongKind)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTypeMismatch))

	err = store.Save(" ", state.New())
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	names, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestStore_ConcurrentSaves(t *testing.T) {
	root := t.TempDir()
	writeDisplay(t, root)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- Open(root, "demo").Save(fmt.Sprintf("view-%d", i), state.New())
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	names, err := Open(root, "demo").List()
	require.NoError(t, err)
	assert.Len(t, names, 10)
}
