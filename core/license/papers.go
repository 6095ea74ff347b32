package license

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/examinator/core"
	"github.com/trezcool/examinator/core/saas"
)

// PaperCounts are the organization's question papers, not counting the one being saved.
type PaperCounts struct {
	Drafts    int `json:"drafts" validate:"min=0"`
	Published int `json:"published" validate:"min=0"`
}

// ValidatePaperLimits checks that the organization may save one more question paper on subjectID,
// as a draft or published. The subject must sit under a node of an active grant. Drafts are capped
// by the usage limit, published papers by the largest allowance among active grants.
func (svc *Service) ValidatePaperLimits(ctx context.Context, orgID, subjectID string, published bool, counts PaperCounts) error {
	if err := core.Validate.Struct(counts); err != nil {
		return err
	}

	if _, err := svc.repo.GetOrganization(ctx, orgID); err != nil {
		return err
	}
	subject, err := svc.tree.Get(ctx, subjectID)
	if err != nil {
		return errors.Wrap(err, "getting subject")
	}
	grants, err := svc.repo.QueryGrants(ctx, orgID)
	if err != nil {
		return errors.Wrap(err, "querying grants")
	}
	today := core.Date(nowFunc())
	active := make([]saas.LicenseGrant, 0, len(grants))
	for _, g := range grants {
		if g.IsActive(today) {
			active = append(active, g)
		}
	}

	chain, err := svc.tree.Ancestors(ctx, subject, true)
	if err != nil {
		return err
	}
	covering := core.NewStringSet()
	for _, n := range chain {
		covering.Add(n.ID)
	}
	if !coversAny(active, covering) {
		return ErrNotLicensed
	}

	limit, err := svc.repo.GetUsageLimit(ctx, orgID)
	if err != nil {
		if errors.Cause(err) == saas.ErrUsageLimitNotFound {
			return &MissingUsageConfigurationError{OrganizationID: orgID}
		}
		return errors.Wrap(err, "getting usage limit")
	}

	maxPublished := 0
	for _, g := range active {
		if g.MaxQuestionPapers > maxPublished {
			maxPublished = g.MaxQuestionPapers
		}
	}
	if maxPublished == 0 {
		return ErrNoPaperAllowance
	}

	if published {
		if counts.Published >= maxPublished {
			return &PaperLimitError{Published: true, Limit: maxPublished}
		}
		return nil
	}
	if counts.Drafts >= limit.MaxQuestionPapersDrafts {
		return &PaperLimitError{Limit: limit.MaxQuestionPapersDrafts}
	}
	return nil
}

func coversAny(grants []saas.LicenseGrant, nodeIDs core.StringSet) bool {
	for _, g := range grants {
		for _, id := range g.NodeIDs {
			if nodeIDs.Has(id) {
				return true
			}
		}
	}
	return false
}
