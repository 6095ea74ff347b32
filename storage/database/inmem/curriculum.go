package inmemdb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/trezcool/examinator/core"
	"github.com/trezcool/examinator/core/curriculum"
)

type curriculumRepository struct {
	db *DB
}

var _ curriculum.Repository = (*curriculumRepository)(nil) // interface compliance check

func NewCurriculumRepository(db *DB) curriculum.Repository {
	return &curriculumRepository{db: db}
}

func (repo *curriculumRepository) CreateNode(ctx context.Context, node curriculum.Node) (curriculum.Node, error) {
	err := repo.db.write(ctx, func(t *tables) error {
		if node.ParentID != "" {
			if _, ok := t.nodes[node.ParentID]; !ok {
				return curriculum.ErrNotFound
			}
		}
		if siblingExists(t, node) {
			return curriculum.ErrNodeExists
		}
		node.ID = uuid.New().String()
		node.Metadata = copyMetadata(node.Metadata)
		t.nodes[node.ID] = node
		return nil
	})
	if err != nil {
		return curriculum.Node{}, err
	}
	return node, nil
}

func (repo *curriculumRepository) GetNode(ctx context.Context, id string) (curriculum.Node, error) {
	var node curriculum.Node
	err := repo.db.read(ctx, func(t *tables) error {
		n, ok := t.nodes[id]
		if !ok {
			return curriculum.ErrNotFound
		}
		node = n
		return nil
	})
	return node, err
}

func (repo *curriculumRepository) QueryChildren(ctx context.Context, parentID string) ([]curriculum.Node, error) {
	var children []curriculum.Node
	_ = repo.db.read(ctx, func(t *tables) error {
		children = make([]curriculum.Node, 0)
		for _, n := range t.nodes {
			if n.ParentID == parentID {
				children = append(children, n)
			}
		}
		return nil
	})
	sort.Slice(children, func(i, j int) bool {
		if children[i].Order != children[j].Order {
			return children[i].Order < children[j].Order
		}
		return children[i].Name < children[j].Name
	})
	return children, nil
}

func (repo *curriculumRepository) UpdateNode(ctx context.Context, node curriculum.Node) (curriculum.Node, error) {
	err := repo.db.write(ctx, func(t *tables) error {
		orig, ok := t.nodes[node.ID]
		if !ok {
			return curriculum.ErrNotFound
		}
		if node.ParentID != "" {
			if _, ok := t.nodes[node.ParentID]; !ok {
				return curriculum.ErrNotFound
			}
		}
		if siblingExists(t, node) {
			return curriculum.ErrNodeExists
		}
		node.CreatedAt = orig.CreatedAt
		node.Metadata = copyMetadata(node.Metadata)
		t.nodes[node.ID] = node
		return nil
	})
	if err != nil {
		return curriculum.Node{}, err
	}
	return node, nil
}

func (repo *curriculumRepository) UpdateOrders(ctx context.Context, orders map[string]int) error {
	return repo.db.write(ctx, func(t *tables) error {
		for id, order := range orders {
			n, ok := t.nodes[id]
			if !ok {
				return curriculum.ErrNotFound
			}
			n.Order = order
			t.nodes[id] = n
		}
		return nil
	})
}

// DeleteNodesByID emulates the cascading foreign keys of the SQL schema.
func (repo *curriculumRepository) DeleteNodesByID(ctx context.Context, ids ...string) error {
	return repo.db.write(ctx, func(t *tables) error {
		deleted := core.NewStringSet(ids...)
		for _, id := range ids {
			delete(t.nodes, id)
		}
		for id, g := range t.grants {
			g.NodeIDs = without(g.NodeIDs, deleted)
			t.grants[id] = g
		}
		for id, p := range t.profiles {
			p.AcademicStream = without(p.AcademicStream, deleted)
			t.profiles[id] = p
		}
		for id, o := range t.orgs {
			o.SupportedCurriculum = without(o.SupportedCurriculum, deleted)
			t.orgs[id] = o
		}
		return nil
	})
}

// siblingExists mirrors the (parent_id, name, kind) unique constraint.
func siblingExists(t *tables, node curriculum.Node) bool {
	for _, n := range t.nodes {
		if n.ID != node.ID && n.ParentID == node.ParentID && n.Name == node.Name && n.Kind == node.Kind {
			return true
		}
	}
	return false
}

func without(vals []string, drop core.StringSet) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if !drop.Has(v) {
			out = append(out, v)
		}
	}
	return out
}
