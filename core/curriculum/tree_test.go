package curriculum_test

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/examinator/core"
	"github.com/trezcool/examinator/core/curriculum"
	"github.com/trezcool/examinator/testutil"
)

func names(nodes []curriculum.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name
	}
	return out
}

func sortedNames(nodes []curriculum.Node) []string {
	out := names(nodes)
	sort.Strings(out)
	return out
}

// snapshot maps every node of the tree to "parentID/order".
func snapshot(t *testing.T, tree *curriculum.Tree) map[string]curriculum.Node {
	t.Helper()
	ctx := context.Background()
	roots, err := tree.Roots(ctx)
	require.NoError(t, err)
	out := make(map[string]curriculum.Node)
	for _, r := range roots {
		sub, err := tree.Descendants(ctx, r, true)
		require.NoError(t, err)
		for _, n := range sub {
			out[n.ID] = n
		}
	}
	return out
}

func assertDenseOrders(t *testing.T, tree *curriculum.Tree, parentID string) {
	t.Helper()
	var group []curriculum.Node
	var err error
	if parentID == "" {
		group, err = tree.Roots(context.Background())
	} else {
		group, err = tree.Children(context.Background(), curriculum.Node{ID: parentID})
	}
	require.NoError(t, err)
	for i, n := range group {
		assert.Equal(t, i, n.Order, "order of %q", n.Name)
	}
}

func TestTree_Ancestors(t *testing.T) {
	app := testutil.NewApp(t)
	c := testutil.CreateCurriculum(t, app.Curriculum)
	ctx := context.Background()

	tests := []struct {
		name        string
		node        curriculum.Node
		includeSelf bool
		want        []string
	}{
		{name: "leaf", node: c.Polynomials, want: []string{"CBSE", "Class 10", "Mathematics"}},
		{name: "leaf, include self", node: c.Polynomials, includeSelf: true, want: []string{"CBSE", "Class 10", "Mathematics", "Polynomials"}},
		{name: "root", node: c.CBSE, want: []string{}},
		{name: "root, include self", node: c.CBSE, includeSelf: true, want: []string{"CBSE"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := app.Tree.Ancestors(ctx, tt.node, tt.includeSelf)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(got))
		})
	}
}

func TestTree_Descendants(t *testing.T) {
	app := testutil.NewApp(t)
	c := testutil.CreateCurriculum(t, app.Curriculum)
	ctx := context.Background()

	got, err := app.Tree.Descendants(ctx, c.Class10, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"Light", "Mathematics", "Polynomials", "Science"}, sortedNames(got))

	got, err = app.Tree.Descendants(ctx, c.Class10, true)
	require.NoError(t, err)
	assert.Len(t, got, 5)

	got, err = app.Tree.Descendants(ctx, c.Light, false)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTree_ancestorDescendantDuality(t *testing.T) {
	app := testutil.NewApp(t)
	testutil.CreateCurriculum(t, app.Curriculum)
	ctx := context.Background()

	for _, n := range snapshot(t, app.Tree) {
		chain, err := app.Tree.Ancestors(ctx, n, true)
		require.NoError(t, err)
		sub, err := app.Tree.Descendants(ctx, chain[0], true)
		require.NoError(t, err)
		assert.Contains(t, testutil.IDs(sub...), n.ID, "%q not under its root", n.Name)
	}
}

func TestTree_Siblings(t *testing.T) {
	app := testutil.NewApp(t)
	c := testutil.CreateCurriculum(t, app.Curriculum)
	ctx := context.Background()

	got, err := app.Tree.Siblings(ctx, c.Maths, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"Science"}, names(got))

	got, err = app.Tree.Siblings(ctx, c.Maths, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"Mathematics", "Science"}, names(got))

	got, err = app.Tree.Siblings(ctx, c.CBSE, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"JEE"}, names(got))

	next, ok, err := app.Tree.NextSibling(ctx, c.Maths)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, c.Science.ID, next.ID)

	_, ok, err = app.Tree.NextSibling(ctx, c.Science)
	require.NoError(t, err)
	assert.False(t, ok)

	prev, ok, err := app.Tree.PreviousSibling(ctx, c.Science)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, c.Maths.ID, prev.ID)

	_, ok, err = app.Tree.PreviousSibling(ctx, c.Maths)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTree_RootAndPathDisplay(t *testing.T) {
	app := testutil.NewApp(t)
	c := testutil.CreateCurriculum(t, app.Curriculum)
	ctx := context.Background()

	root, err := app.Tree.Root(ctx, c.Light)
	require.NoError(t, err)
	assert.Equal(t, c.CBSE.ID, root.ID)

	root, err = app.Tree.Root(ctx, c.JEE)
	require.NoError(t, err)
	assert.Equal(t, c.JEE.ID, root.ID)

	path, err := app.Tree.PathDisplay(ctx, c.Polynomials, " > ")
	require.NoError(t, err)
	assert.Equal(t, "CBSE > Class 10 > Mathematics > Polynomials", path)
}

func TestTree_IsDescendantOf(t *testing.T) {
	app := testutil.NewApp(t)
	c := testutil.CreateCurriculum(t, app.Curriculum)
	ctx := context.Background()

	tests := []struct {
		node     curriculum.Node
		ancestor curriculum.Node
		want     bool
	}{
		{node: c.Polynomials, ancestor: c.CBSE, want: true},
		{node: c.Polynomials, ancestor: c.Maths, want: true},
		{node: c.Polynomials, ancestor: c.Science, want: false},
		{node: c.Polynomials, ancestor: c.Polynomials, want: false},
		{node: c.CBSE, ancestor: c.Class10, want: false},
		{node: c.Physics, ancestor: c.CBSE, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.node.Name+" under "+tt.ancestor.Name, func(t *testing.T) {
			got, err := app.Tree.IsDescendantOf(ctx, tt.node, tt.ancestor.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTree_MoveTo(t *testing.T) {
	ctx := context.Background()

	t.Run("into a sibling subject", func(t *testing.T) {
		app := testutil.NewApp(t)
		c := testutil.CreateCurriculum(t, app.Curriculum)

		moved, err := app.Tree.MoveTo(ctx, c.Polynomials.ID, c.Science.ID, nil)
		require.NoError(t, err)
		assert.Equal(t, c.Science.ID, moved.ParentID)
		assert.True(t, moved.UpdatedAt.After(c.Polynomials.UpdatedAt), "updated_at should advance")

		chain, err := app.Tree.Ancestors(ctx, moved, false)
		require.NoError(t, err)
		assert.Equal(t, []string{"CBSE", "Class 10", "Science"}, names(chain))

		children, err := app.Tree.Children(ctx, c.Maths)
		require.NoError(t, err)
		assert.Empty(t, children)

		assertDenseOrders(t, app.Tree, c.Science.ID)
		assertDenseOrders(t, app.Tree, c.Maths.ID)
	})

	t.Run("cycles", func(t *testing.T) {
		app := testutil.NewApp(t)
		c := testutil.CreateCurriculum(t, app.Curriculum)

		tests := []struct {
			name   string
			node   curriculum.Node
			target curriculum.Node
		}{
			{name: "self", node: c.Maths, target: c.Maths},
			{name: "child", node: c.Class10, target: c.Maths},
			{name: "grandchild", node: c.Class10, target: c.Polynomials},
			{name: "deep descendant", node: c.CBSE, target: c.Light},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				before := snapshot(t, app.Tree)

				_, err := app.Tree.MoveTo(ctx, tt.node.ID, tt.target.ID, nil)
				var moveErr *curriculum.InvalidMoveError
				require.True(t, errors.As(err, &moveErr), "got %v", err)
				assert.Equal(t, tt.node.ID, moveErr.NodeID)
				assert.Equal(t, tt.target.ID, moveErr.TargetID)

				assert.Equal(t, before, snapshot(t, app.Tree))
			})
		}
	})

	t.Run("kind mismatch", func(t *testing.T) {
		app := testutil.NewApp(t)
		c := testutil.CreateCurriculum(t, app.Curriculum)

		tests := []struct {
			name     string
			node     curriculum.Node
			parentID string
		}{
			{name: "chapter under class", node: c.Polynomials, parentID: c.Class10.ID},
			{name: "class under competitive", node: c.Class10, parentID: c.JEE.ID},
			{name: "subject as root", node: c.Maths, parentID: ""},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := app.Tree.MoveTo(ctx, tt.node.ID, tt.parentID, nil)
				assert.True(t, core.IsValidationError(err), "got %v", err)

				var kindErr *curriculum.KindError
				assert.True(t, errors.As(err, &kindErr))
			})
		}
	})

	t.Run("name clash in the target group", func(t *testing.T) {
		app := testutil.NewApp(t)
		c := testutil.CreateCurriculum(t, app.Curriculum)
		testutil.CreateNode(t, app.Curriculum, "Polynomials", curriculum.KindChapter, c.Science)

		_, err := app.Tree.MoveTo(ctx, c.Polynomials.ID, c.Science.ID, nil)
		assert.True(t, core.IsValidationError(err), "got %v", err)
		assert.True(t, errors.Is(err, curriculum.ErrNodeExists))
	})

	t.Run("unknown nodes", func(t *testing.T) {
		app := testutil.NewApp(t)
		c := testutil.CreateCurriculum(t, app.Curriculum)

		_, err := app.Tree.MoveTo(ctx, "nope", c.Science.ID, nil)
		assert.True(t, errors.Is(err, curriculum.ErrNotFound))

		_, err = app.Tree.MoveTo(ctx, c.Polynomials.ID, "nope", nil)
		assert.True(t, errors.Is(err, curriculum.ErrNotFound))
	})

	t.Run("sibling orders stay dense", func(t *testing.T) {
		app := testutil.NewApp(t)
		c := testutil.CreateCurriculum(t, app.Curriculum)
		for _, name := range []string{"Motion", "Sound", "Energy"} {
			testutil.CreateNode(t, app.Curriculum, name, curriculum.KindChapter, c.Science)
		}
		for _, name := range []string{"Statistics", "Probability"} {
			testutil.CreateNode(t, app.Curriculum, name, curriculum.KindChapter, c.Maths)
		}

		children, err := app.Tree.Children(ctx, c.Science)
		require.NoError(t, err)
		require.Len(t, children, 4)

		zero, last := 0, 99
		moves := []struct {
			nodeID, parentID string
			order            *int
		}{
			{nodeID: children[1].ID, parentID: c.Maths.ID, order: &zero},
			{nodeID: children[0].ID, parentID: c.Maths.ID, order: &last},
			{nodeID: c.Polynomials.ID, parentID: c.Science.ID, order: nil},
			{nodeID: children[3].ID, parentID: c.Science.ID, order: &zero},
		}
		for _, mv := range moves {
			_, err := app.Tree.MoveTo(ctx, mv.nodeID, mv.parentID, mv.order)
			require.NoError(t, err)
			assertDenseOrders(t, app.Tree, c.Science.ID)
			assertDenseOrders(t, app.Tree, c.Maths.ID)
		}

		mathsChildren, err := app.Tree.Children(ctx, c.Maths)
		require.NoError(t, err)
		assert.Equal(t, children[0].ID, mathsChildren[len(mathsChildren)-1].ID)
	})

	t.Run("root to root", func(t *testing.T) {
		app := testutil.NewApp(t)
		c := testutil.CreateCurriculum(t, app.Curriculum)
		zero := 0

		moved, err := app.Tree.MoveTo(ctx, c.JEE.ID, "", &zero)
		require.NoError(t, err)
		assert.True(t, moved.IsRoot())
		assertDenseOrders(t, app.Tree, "")
	})
}

func TestTree_Serialize(t *testing.T) {
	app := testutil.NewApp(t)
	c := testutil.CreateCurriculum(t, app.Curriculum)
	ctx := context.Background()

	full, err := app.Tree.Serialize(ctx, c.Class10, nil)
	require.NoError(t, err)
	assert.Equal(t, "Class 10", full.Name)
	require.Len(t, full.Children, 2)
	assert.Equal(t, "Mathematics", full.Children[0].Name)
	require.Len(t, full.Children[0].Children, 1)
	assert.Equal(t, "Polynomials", full.Children[0].Children[0].Name)
	assert.Empty(t, full.Children[0].Children[0].Children)

	one := 1
	shallow, err := app.Tree.Serialize(ctx, c.Class10, &one)
	require.NoError(t, err)
	require.Len(t, shallow.Children, 2)
	assert.Empty(t, shallow.Children[0].Children)

	zero := 0
	bare, err := app.Tree.Serialize(ctx, c.Class10, &zero)
	require.NoError(t, err)
	assert.Empty(t, bare.Children)
}
