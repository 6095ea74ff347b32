package curriculum

import (
	"context"
	"errors"
	"fmt"
)

var (
	// errors
	ErrNotFound   = errors.New("curriculum node not found")
	ErrNodeExists = errors.New("a sibling with this name and kind already exists")

	errRequiredName = errors.New("name is required")
)

// InvalidMoveError is returned when a node would become its own ancestor.
type InvalidMoveError struct {
	NodeID   string
	TargetID string
}

func (e *InvalidMoveError) Error() string {
	if e.NodeID == e.TargetID {
		return fmt.Sprintf("cannot move node %s under itself", e.NodeID)
	}
	return fmt.Sprintf("cannot move node %s under its descendant %s", e.NodeID, e.TargetID)
}

// KindError is returned when a node kind does not fit under its parent.
type KindError struct {
	Kind       Kind
	ParentKind Kind // empty for roots
}

func (e *KindError) Error() string {
	if e.ParentKind == "" {
		return fmt.Sprintf("a root node must be a board or a competitive exam, not %q", e.Kind)
	}
	return fmt.Sprintf("a %q node cannot have a %q child", e.ParentKind, e.Kind)
}

type Repository interface {
	CreateNode(ctx context.Context, node Node) (Node, error)
	GetNode(ctx context.Context, id string) (Node, error)
	// QueryChildren returns the direct children of parentID, or the roots if parentID is empty.
	// Results are ordered by order, then name.
	QueryChildren(ctx context.Context, parentID string) ([]Node, error)
	// UpdateNode saves every field of node except CreatedAt.
	UpdateNode(ctx context.Context, node Node) (Node, error)
	// UpdateOrders persists {nodeID: order} only.
	UpdateOrders(ctx context.Context, orders map[string]int) error
	// DeleteNodesByID removes nodes and every reference to them (licenses, streams, organizations).
	DeleteNodesByID(ctx context.Context, ids ...string) error
}
