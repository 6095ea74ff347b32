package curriculum_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/examinator/core"
	"github.com/trezcool/examinator/core/curriculum"
	"github.com/trezcool/examinator/testutil"
)

func TestService_Create(t *testing.T) {
	app := testutil.NewApp(t)
	c := testutil.CreateCurriculum(t, app.Curriculum)
	ctx := context.Background()
	intPtr := func(i int) *int { return &i }

	tests := []struct {
		name      string
		nn        curriculum.NewNode
		wantField string
	}{
		{name: "missing name", nn: curriculum.NewNode{Name: "  ", Kind: curriculum.KindBoard}, wantField: "name"},
		{name: "unknown kind", nn: curriculum.NewNode{Name: "X", Kind: "galaxy"}, wantField: "kind"},
		{name: "unknown parent", nn: curriculum.NewNode{Name: "X", Kind: curriculum.KindClass, ParentID: "nope"}, wantField: "parent_id"},
		{name: "class as root", nn: curriculum.NewNode{Name: "Class 9", Kind: curriculum.KindClass}, wantField: "kind"},
		{name: "section under subject", nn: curriculum.NewNode{Name: "S1", Kind: curriculum.KindSection, ParentID: c.Maths.ID}, wantField: "kind"},
		{name: "duplicate sibling", nn: curriculum.NewNode{Name: "Mathematics", Kind: curriculum.KindSubject, ParentID: c.Class10.ID}, wantField: "name"},
		{name: "negative order", nn: curriculum.NewNode{Name: "X", Kind: curriculum.KindBoard, Order: intPtr(-1)}, wantField: "order"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := app.Curriculum.Create(ctx, tt.nn)
			require.Error(t, err)

			fields := core.TranslateErrors(err)
			if len(fields) == 0 {
				var vErr *core.ValidationError
				require.True(t, errors.As(err, &vErr), "got %v", err)
				fields = map[string]string{}
				for _, f := range vErr.Fields {
					fields[f.Field] = f.Error
				}
			}
			assert.Contains(t, fields, tt.wantField)
		})
	}

	t.Run("same name, other kind", func(t *testing.T) {
		node, err := app.Curriculum.Create(ctx, curriculum.NewNode{
			Name:     "Mathematics",
			Kind:     curriculum.KindChapter,
			ParentID: c.Maths.ID,
		})
		require.NoError(t, err)
		assert.Equal(t, c.Maths.ID, node.ParentID)
	})

	t.Run("appended at the end", func(t *testing.T) {
		node := testutil.CreateNode(t, app.Curriculum, "English", curriculum.KindSubject, c.Class10)
		assert.Equal(t, 2, node.Order)
		assert.NotNil(t, node.Metadata)
	})

	t.Run("explicit order", func(t *testing.T) {
		node, err := app.Curriculum.Create(ctx, curriculum.NewNode{
			Name:     "Hindi",
			Kind:     curriculum.KindSubject,
			ParentID: c.Class10.ID,
			Order:    intPtr(10),
		})
		require.NoError(t, err)
		assert.Equal(t, 3, node.Order)
		assertDenseOrders(t, app.Tree, c.Class10.ID)
	})
}

func TestService_Update(t *testing.T) {
	app := testutil.NewApp(t)
	c := testutil.CreateCurriculum(t, app.Curriculum)
	ctx := context.Background()
	strPtr := func(s string) *string { return &s }
	intPtr := func(i int) *int { return &i }

	t.Run("rename", func(t *testing.T) {
		node, err := app.Curriculum.Update(ctx, c.Maths.ID, curriculum.UpdateNode{
			Name:     strPtr(" Maths "),
			Marks:    intPtr(80),
			Metadata: map[string]interface{}{"code": "041"},
		})
		require.NoError(t, err)
		assert.Equal(t, "Maths", node.Name)
		assert.Equal(t, 80, node.Marks)
		assert.Equal(t, "041", node.Metadata["code"])
		assert.Equal(t, c.Maths.CreatedAt, node.CreatedAt)
	})

	t.Run("rename to a sibling name", func(t *testing.T) {
		_, err := app.Curriculum.Update(ctx, c.Science.ID, curriculum.UpdateNode{Name: strPtr("Maths")})
		assert.True(t, core.IsValidationError(err), "got %v", err)
	})

	t.Run("blank name", func(t *testing.T) {
		_, err := app.Curriculum.Update(ctx, c.Science.ID, curriculum.UpdateNode{Name: strPtr(" ")})
		assert.True(t, core.IsValidationError(err), "got %v", err)
	})

	t.Run("reorder", func(t *testing.T) {
		node, err := app.Curriculum.Update(ctx, c.Maths.ID, curriculum.UpdateNode{Order: intPtr(5)})
		require.NoError(t, err)
		assert.Equal(t, 1, node.Order)
		assertDenseOrders(t, app.Tree, c.Class10.ID)
	})

	t.Run("unknown node", func(t *testing.T) {
		_, err := app.Curriculum.Update(ctx, "nope", curriculum.UpdateNode{Marks: intPtr(1)})
		assert.True(t, errors.Is(err, curriculum.ErrNotFound))
	})
}

func TestService_Delete(t *testing.T) {
	app := testutil.NewApp(t)
	c := testutil.CreateCurriculum(t, app.Curriculum)
	ctx := context.Background()

	ids, err := app.Curriculum.Delete(ctx, c.Maths.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, testutil.IDs(c.Maths, c.Polynomials), ids)

	for _, id := range ids {
		_, err := app.Tree.Get(ctx, id)
		assert.Equal(t, curriculum.ErrNotFound, err)
	}

	science, err := app.Tree.Get(ctx, c.Science.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, science.Order)

	_, err = app.Curriculum.Delete(ctx, c.Maths.ID)
	assert.True(t, errors.Is(err, curriculum.ErrNotFound))
}

// recordingHook remembers what it saw before and after a deletion.
type recordingHook struct {
	tree        *curriculum.Tree
	ids         []string
	existedThen bool
	goneAfter   bool
	fail        error
}

func (h *recordingHook) BeforeDelete(ctx context.Context, ids []string) (func(ctx context.Context) error, error) {
	h.ids = ids
	_, err := h.tree.Get(ctx, ids[0])
	h.existedThen = err == nil
	return func(ctx context.Context) error {
		_, err := h.tree.Get(ctx, ids[0])
		h.goneAfter = errors.Is(err, curriculum.ErrNotFound)
		return h.fail
	}, nil
}

func TestService_Delete_hooks(t *testing.T) {
	ctx := context.Background()

	t.Run("sees the subtree before and after", func(t *testing.T) {
		app := testutil.NewApp(t)
		c := testutil.CreateCurriculum(t, app.Curriculum)
		hook := &recordingHook{tree: app.Tree}
		app.Curriculum.OnDelete(hook)

		_, err := app.Curriculum.Delete(ctx, c.Science.ID)
		require.NoError(t, err)
		require.NotEmpty(t, hook.ids)
		assert.Equal(t, c.Science.ID, hook.ids[0], "subtree root first")
		assert.ElementsMatch(t, testutil.IDs(c.Science, c.Light), hook.ids)
		assert.True(t, hook.existedThen)
		assert.True(t, hook.goneAfter)
	})

	t.Run("failure rolls back", func(t *testing.T) {
		app := testutil.NewApp(t)
		c := testutil.CreateCurriculum(t, app.Curriculum)
		errBoom := errors.New("boom")
		app.Curriculum.OnDelete(&recordingHook{tree: app.Tree, fail: errBoom})

		_, err := app.Curriculum.Delete(ctx, c.Science.ID)
		assert.Equal(t, errBoom, err)

		_, err = app.Tree.Get(ctx, c.Light.ID)
		assert.NoError(t, err)
	})
}
