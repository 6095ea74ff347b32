package curriculum

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/examinator/core"
)

// Kind is the hierarchy level of a Node.
type Kind string

const (
	KindBoard       Kind = "board"
	KindCompetitive Kind = "competitive"
	KindClass       Kind = "class"
	KindSubject     Kind = "subject"
	KindUnit        Kind = "unit"
	KindChapter     Kind = "chapter"
	KindSection     Kind = "section"
)

var (
	Kinds = []KindChoice{
		{Name: "Board", Value: KindBoard},
		{Name: "Competitive Exam", Value: KindCompetitive},
		{Name: "Class/Grade", Value: KindClass},
		{Name: "Subject", Value: KindSubject},
		{Name: "Unit/Module", Value: KindUnit},
		{Name: "Chapter/Topic", Value: KindChapter},
		{Name: "Section", Value: KindSection},
	}

	// RootKinds may only be used for nodes without a parent.
	RootKinds = []Kind{KindBoard, KindCompetitive}

	// childKinds maps a parent kind to the kinds its children may have.
	childKinds = map[Kind][]Kind{
		KindBoard:       {KindClass, KindSubject},
		KindCompetitive: {KindSubject},
		KindClass:       {KindSubject},
		KindSubject:     {KindChapter, KindUnit},
		KindChapter:     {KindUnit, KindSection},
		KindUnit:        {KindChapter, KindSection},
	}

	nodeKindTag  = "nodekind"
	nodeKindText = "invalid node kind"
)

func init() {
	_ = core.Validate.RegisterValidation(nodeKindTag, func(fl validator.FieldLevel) bool {
		return Kind(fl.Field().String()).IsValid()
	})
	core.RegisterCustomTranslation(nodeKindTag, nodeKindText)
}

type KindChoice struct {
	Name  string `json:"name"`
	Value Kind   `json:"value"`
}

func (k Kind) IsValid() bool {
	for _, c := range Kinds {
		if c.Value == k {
			return true
		}
	}
	return false
}

func (k Kind) IsRoot() bool {
	for _, rk := range RootKinds {
		if rk == k {
			return true
		}
	}
	return false
}

// CanParent reports whether a node of kind `child` may be placed under a node of kind k.
func (k Kind) CanParent(child Kind) bool {
	for _, ck := range childKinds[k] {
		if ck == child {
			return true
		}
	}
	return false
}

// Node is a node of the curriculum hierarchy.
type Node struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Kind      Kind                   `json:"kind"`
	ParentID  string                 `json:"parent_id,omitempty"` // empty for roots
	Order     int                    `json:"order"`
	Metadata  map[string]interface{} `json:"metadata"`
	Marks     int                    `json:"marks"`
	CreatedAt time.Time              `json:"created_at"` // UTC
	UpdatedAt time.Time              `json:"updated_at"` // UTC
}

func (n Node) IsRoot() bool { return n.ParentID == "" }

// NewNode contains information needed to create a new Node.
type NewNode struct {
	Name     string                 `json:"name" validate:"required,max=100"`
	Kind     Kind                   `json:"kind" validate:"required,nodekind"`
	ParentID string                 `json:"parent_id"`
	Order    *int                   `json:"order" validate:"omitempty,min=0"`
	Metadata map[string]interface{} `json:"metadata"`
	Marks    int                    `json:"marks" validate:"min=0"`
}

func (nn *NewNode) Validate() error {
	nn.Name = core.CleanString(nn.Name)
	nn.ParentID = core.CleanString(nn.ParentID)
	return core.Validate.Struct(nn)
}

// UpdateNode defines what information may be provided to modify an existing Node.
// Kind and parent are not updatable here; moves go through Tree.MoveTo.
type UpdateNode struct {
	Name     *string                `json:"name" validate:"omitempty,max=100"`
	Order    *int                   `json:"order" validate:"omitempty,min=0"`
	Metadata map[string]interface{} `json:"metadata"`
	Marks    *int                   `json:"marks" validate:"omitempty,min=0"`
}

func (un *UpdateNode) Validate() error {
	if un.Name != nil {
		name := core.CleanString(*un.Name)
		un.Name = &name
		if name == "" {
			return core.NewFieldValidationError("name", errRequiredName)
		}
	}
	return core.Validate.Struct(un)
}

// Serialized is the nested representation of a subtree.
type Serialized struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	Kind     Kind                   `json:"kind"`
	Marks    int                    `json:"marks"`
	Metadata map[string]interface{} `json:"metadata"`
	Children []Serialized           `json:"children"`
}
