package saas

import (
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/examinator/core"
)

// Organization is the tenant: a school or coaching center.
type Organization struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	BillingEmail        string    `json:"billing_email"`
	IsActive            bool      `json:"is_active"`
	Address             string    `json:"address"`
	PhoneNumber         string    `json:"phone_number"`
	SupportedCurriculum []string  `json:"supported_curriculum"` // root node IDs; derived from licenses
	CreatedAt           time.Time `json:"created_at"`           // UTC
}

// UsageLimit is the subscription plan configuration of an Organization.
type UsageLimit struct {
	OrganizationID          string `json:"organization_id"`
	MaxUsers                int    `json:"max_users"`
	MaxQuestionPapersDrafts int    `json:"max_question_papers_drafts"`
}

// Permission is a named capability, eg. "quiz.add_question".
type Permission struct {
	Codename string `json:"codename"`
	Name     string `json:"name"`
}

// LicenseGrant licenses curriculum nodes and permissions to one Organization.
type LicenseGrant struct {
	ID                    string    `json:"id"`
	OrganizationID        string    `json:"organization_id"`
	NodeIDs               []string  `json:"node_ids"`
	Permissions           []string  `json:"permissions"` // codenames
	MaxQuestionPapers     int       `json:"max_question_papers"`
	QuestionPapersCreated int       `json:"question_papers_created"`
	PurchasedOn           time.Time `json:"purchased_on"`
	ValidUntil            null.Time `json:"valid_until"` // null: never expires
}

// IsActive reports whether the grant has not expired on the calendar date of today.
func (g LicenseGrant) IsActive(today time.Time) bool {
	if !g.ValidUntil.Valid {
		return true
	}
	return !core.Date(g.ValidUntil.Time).Before(core.Date(today))
}

// Group is an organization-scoped permission group.
type Group struct {
	ID             string   `json:"id"`
	OrganizationID string   `json:"organization_id"`
	Name           string   `json:"name"`
	Permissions    []string `json:"permissions"`
}

// NewOrganization contains information needed to create a new Organization.
type NewOrganization struct {
	Name                    string `json:"name" validate:"required,max=255"`
	BillingEmail            string `json:"billing_email" validate:"required,email"`
	Address                 string `json:"address"`
	PhoneNumber             string `json:"phone_number" validate:"max=20"`
	MaxUsers                int    `json:"max_users" validate:"min=0"`
	MaxQuestionPapersDrafts int    `json:"max_question_papers_drafts" validate:"min=0"`
}

func (no *NewOrganization) Validate() error {
	no.Name = core.CleanString(no.Name)
	no.BillingEmail = core.CleanString(no.BillingEmail, true /* lower */)
	no.Address = core.CleanString(no.Address)
	no.PhoneNumber = core.CleanString(no.PhoneNumber)
	return core.Validate.Struct(no)
}
