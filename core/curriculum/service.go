package curriculum

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/examinator/core"
)

// DeleteHook takes part in subtree deletions, inside their transaction.
type DeleteHook interface {
	// BeforeDelete runs while the nodes still exist. The returned func, if any, runs once they
	// are gone.
	BeforeDelete(ctx context.Context, ids []string) (func(ctx context.Context) error, error)
}

type Service struct {
	*Tree

	repo  Repository
	tx    core.Transactor
	hooks []DeleteHook
}

func NewService(repo Repository, tx core.Transactor) *Service {
	return &Service{
		Tree: NewTree(repo, tx),
		repo: repo,
		tx:   tx,
	}
}

// OnDelete registers h for every subsequent Delete.
func (svc *Service) OnDelete(h DeleteHook) {
	svc.hooks = append(svc.hooks, h)
}

// Create adds a node under nn.ParentID (or as a root). Without an explicit order the node
// is appended at the end of its sibling group.
func (svc *Service) Create(ctx context.Context, nn NewNode) (Node, error) {
	if err := nn.Validate(); err != nil {
		return Node{}, err
	}

	var node Node
	err := svc.tx.InTx(ctx, func(ctx context.Context) error {
		var parent *Node
		if nn.ParentID != "" {
			p, err := svc.repo.GetNode(ctx, nn.ParentID)
			if err != nil {
				if errors.Cause(err) == ErrNotFound {
					return core.NewFieldValidationError("parent_id", err)
				}
				return errors.Wrap(err, "getting parent")
			}
			parent = &p
		}
		if err := checkKind(nn.Kind, parent); err != nil {
			return err
		}
		if err := svc.checkUniqueness(ctx, nn.ParentID, nn.Name, nn.Kind, ""); err != nil {
			return err
		}

		siblings, err := svc.repo.QueryChildren(ctx, nn.ParentID)
		if err != nil {
			return errors.Wrap(err, "querying sibling group")
		}
		order := len(siblings)
		if nn.Order != nil {
			order = *nn.Order
		}
		metadata := nn.Metadata
		if metadata == nil {
			metadata = map[string]interface{}{}
		}

		now := time.Now().UTC()
		node, err = svc.repo.CreateNode(ctx, Node{
			Name:      nn.Name,
			Kind:      nn.Kind,
			ParentID:  nn.ParentID,
			Order:     order,
			Metadata:  metadata,
			Marks:     nn.Marks,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return errors.Wrap(err, "creating node")
		}
		if nn.Order != nil {
			if err := svc.renormalize(ctx, nn.ParentID); err != nil {
				return err
			}
			node, err = svc.repo.GetNode(ctx, node.ID)
			return errors.Wrap(err, "refreshing node")
		}
		return nil
	})
	if err != nil {
		return Node{}, err
	}
	return node, nil
}

// Update renames a node or changes its metadata, marks or order.
func (svc *Service) Update(ctx context.Context, id string, un UpdateNode) (Node, error) {
	if err := un.Validate(); err != nil {
		return Node{}, err
	}

	var node Node
	err := svc.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if node, err = svc.repo.GetNode(ctx, id); err != nil {
			return errors.Wrap(err, "getting node")
		}

		if un.Name != nil && *un.Name != node.Name {
			if err := svc.checkUniqueness(ctx, node.ParentID, *un.Name, node.Kind, node.ID); err != nil {
				return err
			}
			node.Name = *un.Name
		}
		if un.Metadata != nil {
			node.Metadata = un.Metadata
		}
		if un.Marks != nil {
			node.Marks = *un.Marks
		}
		reorder := un.Order != nil && *un.Order != node.Order
		if reorder {
			node.Order = *un.Order
		}
		node.UpdatedAt = time.Now().UTC()

		if node, err = svc.repo.UpdateNode(ctx, node); err != nil {
			return errors.Wrap(err, "updating node")
		}
		if reorder {
			if err := svc.renormalize(ctx, node.ParentID); err != nil {
				return err
			}
			node, err = svc.repo.GetNode(ctx, node.ID)
			return errors.Wrap(err, "refreshing node")
		}
		return nil
	})
	if err != nil {
		return Node{}, err
	}
	return node, nil
}

// Delete removes a node together with its whole subtree and renormalizes the remaining siblings.
// It returns the IDs of every deleted node.
func (svc *Service) Delete(ctx context.Context, id string) ([]string, error) {
	var ids []string
	err := svc.tx.InTx(ctx, func(ctx context.Context) error {
		node, err := svc.repo.GetNode(ctx, id)
		if err != nil {
			return errors.Wrap(err, "getting node")
		}
		subtree, err := svc.Descendants(ctx, node, true)
		if err != nil {
			return err
		}
		ids = make([]string, 0, len(subtree))
		for _, n := range subtree {
			ids = append(ids, n.ID)
		}

		var after []func(ctx context.Context) error
		for _, h := range svc.hooks {
			fn, err := h.BeforeDelete(ctx, ids)
			if err != nil {
				return err
			}
			if fn != nil {
				after = append(after, fn)
			}
		}

		if err := svc.repo.DeleteNodesByID(ctx, ids...); err != nil {
			return errors.Wrap(err, "deleting nodes")
		}
		if err := svc.renormalize(ctx, node.ParentID); err != nil {
			return err
		}
		for _, fn := range after {
			if err := fn(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
