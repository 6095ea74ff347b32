package sqlxrepos

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/examinator/core"
	"github.com/trezcool/examinator/core/curriculum"
)

const nodeColumns = `id, name, kind, parent_id, position, metadata, marks, created_at, updated_at`

type nodeRow struct {
	ID        string         `db:"id"`
	Name      string         `db:"name"`
	Kind      string         `db:"kind"`
	ParentID  null.String    `db:"parent_id"`
	Position  int            `db:"position"`
	Metadata  types.JSONText `db:"metadata"`
	Marks     int            `db:"marks"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

type curriculumRepository struct {
	store
}

var _ curriculum.Repository = (*curriculumRepository)(nil) // interface compliance check

func NewCurriculumRepository(db *sqlx.DB, tx core.Transactor) curriculum.Repository {
	return &curriculumRepository{store: newStore(db, tx)}
}

func (repo *curriculumRepository) toRow(node curriculum.Node) (nodeRow, error) {
	meta := types.JSONText("{}")
	if len(node.Metadata) > 0 {
		b, err := json.Marshal(node.Metadata)
		if err != nil {
			return nodeRow{}, errors.Wrap(err, "encoding node metadata")
		}
		meta = b
	}
	return nodeRow{
		ID:        node.ID,
		Name:      node.Name,
		Kind:      string(node.Kind),
		ParentID:  null.NewString(node.ParentID, node.ParentID != ""),
		Position:  node.Order,
		Metadata:  meta,
		Marks:     node.Marks,
		CreatedAt: node.CreatedAt.UTC(),
		UpdatedAt: node.UpdatedAt.UTC(),
	}, nil
}

func (repo *curriculumRepository) fromRow(row nodeRow) (curriculum.Node, error) {
	meta := make(map[string]interface{})
	if err := row.Metadata.Unmarshal(&meta); err != nil {
		return curriculum.Node{}, errors.Wrap(err, "decoding node metadata")
	}
	return curriculum.Node{
		ID:        row.ID,
		Name:      row.Name,
		Kind:      curriculum.Kind(row.Kind),
		ParentID:  row.ParentID.String,
		Order:     row.Position,
		Metadata:  meta,
		Marks:     row.Marks,
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}, nil
}

// trapWriteErr maps constraint violations of the node table to curriculum errors.
func (repo *curriculumRepository) trapWriteErr(err error, msg string) error {
	switch pqCode(err) {
	case uniqueViolation:
		return curriculum.ErrNodeExists
	case foreignKeyViolation:
		return curriculum.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo *curriculumRepository) CreateNode(ctx context.Context, node curriculum.Node) (curriculum.Node, error) {
	if node.ParentID != "" && !isUUID(node.ParentID) {
		return curriculum.Node{}, curriculum.ErrNotFound
	}
	node.ID = uuid.New().String()
	row, err := repo.toRow(node)
	if err != nil {
		return curriculum.Node{}, err
	}

	q := `INSERT INTO curriculum_node (` + nodeColumns + `)
		VALUES (:id, :name, :kind, :parent_id, :position, :metadata, :marks, :created_at, :updated_at)`
	if _, err = sqlx.NamedExecContext(ctx, repo.exec(ctx), q, row); err != nil {
		return curriculum.Node{}, repo.trapWriteErr(err, "inserting curriculum node")
	}
	return repo.fromRow(row)
}

func (repo *curriculumRepository) GetNode(ctx context.Context, id string) (curriculum.Node, error) {
	if !isUUID(id) {
		return curriculum.Node{}, curriculum.ErrNotFound
	}
	var row nodeRow
	q := `SELECT ` + nodeColumns + ` FROM curriculum_node WHERE id = $1`
	if err := repo.exec(ctx).GetContext(ctx, &row, q, id); err != nil {
		return curriculum.Node{}, trapNoRowsErr(err, curriculum.ErrNotFound, "finding curriculum node")
	}
	return repo.fromRow(row)
}

func (repo *curriculumRepository) QueryChildren(ctx context.Context, parentID string) ([]curriculum.Node, error) {
	var rows []nodeRow
	var err error
	exec := repo.exec(ctx)

	switch {
	case parentID == "":
		q := `SELECT ` + nodeColumns + ` FROM curriculum_node WHERE parent_id IS NULL ORDER BY position, name`
		err = exec.SelectContext(ctx, &rows, q)
	case !isUUID(parentID):
		return []curriculum.Node{}, nil
	default:
		q := `SELECT ` + nodeColumns + ` FROM curriculum_node WHERE parent_id = $1 ORDER BY position, name`
		err = exec.SelectContext(ctx, &rows, q, parentID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "querying curriculum nodes")
	}

	nodes := make([]curriculum.Node, 0, len(rows))
	for _, row := range rows {
		node, err := repo.fromRow(row)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func (repo *curriculumRepository) UpdateNode(ctx context.Context, node curriculum.Node) (curriculum.Node, error) {
	if !isUUID(node.ID) || (node.ParentID != "" && !isUUID(node.ParentID)) {
		return curriculum.Node{}, curriculum.ErrNotFound
	}
	row, err := repo.toRow(node)
	if err != nil {
		return curriculum.Node{}, err
	}

	q := `UPDATE curriculum_node
		SET name = :name, kind = :kind, parent_id = :parent_id, position = :position,
			metadata = :metadata, marks = :marks, updated_at = :updated_at
		WHERE id = :id
		RETURNING created_at`
	q, args, err := sqlx.Named(q, row)
	if err != nil {
		return curriculum.Node{}, errors.Wrap(err, "binding node update")
	}
	exec := repo.exec(ctx)
	if err = exec.QueryRowxContext(ctx, exec.Rebind(q), args...).Scan(&row.CreatedAt); err != nil {
		if code := pqCode(err); code != "" {
			return curriculum.Node{}, repo.trapWriteErr(err, "updating curriculum node")
		}
		return curriculum.Node{}, trapNoRowsErr(err, curriculum.ErrNotFound, "updating curriculum node")
	}
	return repo.fromRow(row)
}

func (repo *curriculumRepository) UpdateOrders(ctx context.Context, orders map[string]int) error {
	ids := make([]string, 0, len(orders))
	for id := range orders {
		if !isUUID(id) {
			return curriculum.ErrNotFound
		}
		ids = append(ids, id)
	}
	sort.Strings(ids) // stable lock order

	return repo.tx.InTx(ctx, func(ctx context.Context) error {
		exec := repo.exec(ctx)
		for _, id := range ids {
			res, err := exec.ExecContext(ctx, `UPDATE curriculum_node SET position = $2 WHERE id = $1`, id, orders[id])
			if err != nil {
				return errors.Wrap(err, "updating node order")
			}
			if n, err := res.RowsAffected(); err != nil {
				return errors.Wrap(err, "updating node order")
			} else if n == 0 {
				return curriculum.ErrNotFound
			}
		}
		return nil
	})
}

// DeleteNodesByID relies on the cascading foreign keys to drop every reference to the nodes.
func (repo *curriculumRepository) DeleteNodesByID(ctx context.Context, ids ...string) error {
	ids = uuids(ids)
	if len(ids) == 0 {
		return nil
	}
	if _, err := repo.exec(ctx).ExecContext(ctx, `DELETE FROM curriculum_node WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return errors.Wrap(err, "deleting curriculum nodes")
	}
	return nil
}
