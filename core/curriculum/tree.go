package curriculum

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/examinator/core"
)

// Tree navigates the curriculum hierarchy. Nodes are addressed by ID and parents are
// resolved through the Repository on every step; nothing is cached.
type Tree struct {
	repo Repository
	tx   core.Transactor
}

func NewTree(repo Repository, tx core.Transactor) *Tree {
	return &Tree{repo: repo, tx: tx}
}

func (t *Tree) Get(ctx context.Context, id string) (Node, error) {
	return t.repo.GetNode(ctx, id)
}

// Roots returns the top-level nodes ordered by order, then name.
func (t *Tree) Roots(ctx context.Context) ([]Node, error) {
	return t.repo.QueryChildren(ctx, "")
}

func (t *Tree) Children(ctx context.Context, node Node) ([]Node, error) {
	return t.repo.QueryChildren(ctx, node.ID)
}

// Ancestors returns the chain from the root down to node's parent (or to node itself if includeSelf).
func (t *Tree) Ancestors(ctx context.Context, node Node, includeSelf bool) ([]Node, error) {
	var chain []Node
	if includeSelf {
		chain = append(chain, node)
	}
	for parentID := node.ParentID; parentID != ""; {
		parent, err := t.repo.GetNode(ctx, parentID)
		if err != nil {
			return nil, errors.Wrapf(err, "getting ancestor %s of node %s", parentID, node.ID)
		}
		chain = append(chain, parent)
		parentID = parent.ParentID
	}
	// root first
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// Descendants returns every node of the subtree rooted at node, in no particular order.
func (t *Tree) Descendants(ctx context.Context, node Node, includeSelf bool) ([]Node, error) {
	var out []Node
	if includeSelf {
		out = append(out, node)
	}
	stack := []string{node.ID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		children, err := t.repo.QueryChildren(ctx, id)
		if err != nil {
			return nil, errors.Wrapf(err, "querying children of node %s", id)
		}
		for _, child := range children {
			out = append(out, child)
			stack = append(stack, child.ID)
		}
	}
	return out, nil
}

// Siblings returns the nodes sharing node's parent (other roots for a root node),
// ordered by order, then name.
func (t *Tree) Siblings(ctx context.Context, node Node, includeSelf bool) ([]Node, error) {
	group, err := t.repo.QueryChildren(ctx, node.ParentID)
	if err != nil {
		return nil, errors.Wrapf(err, "querying siblings of node %s", node.ID)
	}
	if includeSelf {
		return group, nil
	}
	siblings := make([]Node, 0, len(group))
	for _, n := range group {
		if n.ID != node.ID {
			siblings = append(siblings, n)
		}
	}
	return siblings, nil
}

// NextSibling returns the first sibling with a greater order, if any.
func (t *Tree) NextSibling(ctx context.Context, node Node) (Node, bool, error) {
	siblings, err := t.Siblings(ctx, node, false)
	if err != nil {
		return Node{}, false, err
	}
	for _, sib := range siblings {
		if sib.Order > node.Order {
			return sib, true, nil
		}
	}
	return Node{}, false, nil
}

// PreviousSibling returns the last sibling with a smaller order, if any.
func (t *Tree) PreviousSibling(ctx context.Context, node Node) (Node, bool, error) {
	siblings, err := t.Siblings(ctx, node, false)
	if err != nil {
		return Node{}, false, err
	}
	for i := len(siblings) - 1; i >= 0; i-- {
		if siblings[i].Order < node.Order {
			return siblings[i], true, nil
		}
	}
	return Node{}, false, nil
}

func (t *Tree) Root(ctx context.Context, node Node) (Node, error) {
	chain, err := t.Ancestors(ctx, node, true)
	if err != nil {
		return Node{}, err
	}
	return chain[0], nil
}

// PathDisplay renders the ancestor chain, eg. "CBSE > Class 10 > Mathematics".
func (t *Tree) PathDisplay(ctx context.Context, node Node, sep string) (string, error) {
	chain, err := t.Ancestors(ctx, node, true)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(chain))
	for _, n := range chain {
		names = append(names, n.Name)
	}
	return strings.Join(names, sep), nil
}

// IsDescendantOf walks up from node's parent looking for ancestorID.
func (t *Tree) IsDescendantOf(ctx context.Context, node Node, ancestorID string) (bool, error) {
	for parentID := node.ParentID; parentID != ""; {
		if parentID == ancestorID {
			return true, nil
		}
		parent, err := t.repo.GetNode(ctx, parentID)
		if err != nil {
			return false, errors.Wrapf(err, "getting ancestor %s of node %s", parentID, node.ID)
		}
		parentID = parent.ParentID
	}
	return false, nil
}

// MoveTo re-parents a node (newParentID empty means "make it a root") and optionally sets its order.
// Both the old and the new sibling groups are renormalized to a dense 0..n-1 order.
func (t *Tree) MoveTo(ctx context.Context, nodeID, newParentID string, newOrder *int) (Node, error) {
	var moved Node
	err := t.tx.InTx(ctx, func(ctx context.Context) error {
		node, err := t.repo.GetNode(ctx, nodeID)
		if err != nil {
			return errors.Wrap(err, "getting node")
		}

		if newParentID != "" {
			if newParentID == node.ID {
				return &InvalidMoveError{NodeID: node.ID, TargetID: newParentID}
			}
			parent, err := t.repo.GetNode(ctx, newParentID)
			if err != nil {
				return errors.Wrap(err, "getting new parent")
			}
			isDesc, err := t.IsDescendantOf(ctx, parent, node.ID)
			if err != nil {
				return err
			}
			if isDesc {
				return &InvalidMoveError{NodeID: node.ID, TargetID: newParentID}
			}
			if err := checkKind(node.Kind, &parent); err != nil {
				return err
			}
		} else if err := checkKind(node.Kind, nil); err != nil {
			return err
		}

		oldParentID := node.ParentID
		if oldParentID != newParentID {
			if err := t.checkUniqueness(ctx, newParentID, node.Name, node.Kind, node.ID); err != nil {
				return err
			}
		}

		node.ParentID = newParentID
		if newOrder != nil {
			node.Order = *newOrder
		}
		node.UpdatedAt = time.Now().UTC()
		if _, err := t.repo.UpdateNode(ctx, node); err != nil {
			return errors.Wrap(err, "updating node")
		}

		if err := t.renormalize(ctx, newParentID); err != nil {
			return err
		}
		if oldParentID != newParentID {
			if err := t.renormalize(ctx, oldParentID); err != nil {
				return err
			}
		}

		moved, err = t.repo.GetNode(ctx, node.ID)
		return errors.Wrap(err, "refreshing node")
	})
	if err != nil {
		return Node{}, err
	}
	return moved, nil
}

// Serialize renders the subtree rooted at node. A nil depth means unbounded.
func (t *Tree) Serialize(ctx context.Context, node Node, depth *int) (Serialized, error) {
	out := Serialized{
		ID:       node.ID,
		Name:     node.Name,
		Kind:     node.Kind,
		Marks:    node.Marks,
		Metadata: node.Metadata,
		Children: []Serialized{},
	}
	if depth != nil && *depth <= 0 {
		return out, nil
	}
	var childDepth *int
	if depth != nil {
		d := *depth - 1
		childDepth = &d
	}

	children, err := t.repo.QueryChildren(ctx, node.ID)
	if err != nil {
		return Serialized{}, errors.Wrapf(err, "querying children of node %s", node.ID)
	}
	for _, child := range children {
		sc, err := t.Serialize(ctx, child, childDepth)
		if err != nil {
			return Serialized{}, err
		}
		out.Children = append(out.Children, sc)
	}
	return out, nil
}

// renormalize rewrites the sibling group under parentID to a dense 0..n-1 order,
// sorted by current order then ID. Only changed entries are persisted.
func (t *Tree) renormalize(ctx context.Context, parentID string) error {
	group, err := t.repo.QueryChildren(ctx, parentID)
	if err != nil {
		return errors.Wrap(err, "querying sibling group")
	}
	sort.SliceStable(group, func(i, j int) bool {
		if group[i].Order != group[j].Order {
			return group[i].Order < group[j].Order
		}
		return group[i].ID < group[j].ID
	})

	changed := make(map[string]int)
	for idx, n := range group {
		if n.Order != idx {
			changed[n.ID] = idx
		}
	}
	if len(changed) == 0 {
		return nil
	}
	return errors.Wrap(t.repo.UpdateOrders(ctx, changed), "updating sibling orders")
}

// checkUniqueness enforces (parent, name, kind) uniqueness, ignoring excludedID.
func (t *Tree) checkUniqueness(ctx context.Context, parentID, name string, kind Kind, excludedID string) error {
	group, err := t.repo.QueryChildren(ctx, parentID)
	if err != nil {
		return errors.Wrap(err, "querying sibling group")
	}
	for _, n := range group {
		if n.ID != excludedID && n.Kind == kind && n.Name == name {
			return core.NewFieldValidationError("name", ErrNodeExists)
		}
	}
	return nil
}

// checkKind validates a kind against its (possibly absent) parent.
func checkKind(kind Kind, parent *Node) error {
	if parent == nil {
		if !kind.IsRoot() {
			return core.NewFieldValidationError("kind", &KindError{Kind: kind})
		}
		return nil
	}
	if !parent.Kind.CanParent(kind) {
		return core.NewFieldValidationError("kind", &KindError{Kind: kind, ParentKind: parent.Kind})
	}
	return nil
}
