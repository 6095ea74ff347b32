package license_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/examinator/core/curriculum"
	"github.com/trezcool/examinator/core/license"
	"github.com/trezcool/examinator/core/saas"
	"github.com/trezcool/examinator/testutil"
)

func TestService_ValidatePaperLimits(t *testing.T) {
	ctx := context.Background()
	today := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	defer license.SetNow(today)()

	f := setup(t)
	// drafts: 10 from the organization defaults, published: max(10, 25)
	testutil.CreateGrant(t, f.app.Licenses, f.org, []curriculum.Node{f.c.Class10}, nil)
	_, err := f.app.Licenses.CreateGrant(ctx, license.NewGrant{
		OrganizationID:    f.org.ID,
		NodeIDs:           []string{f.c.CBSE.ID},
		MaxQuestionPapers: 25,
	})
	require.NoError(t, err)
	testutil.CreateGrant(t, f.app.Licenses, f.org, []curriculum.Node{f.c.Physics}, nil, today.AddDate(0, 0, -1))

	unpaid := testutil.CreateOrganization(t, f.app.Saas, "Blue Hill")
	_, err = f.app.Licenses.CreateGrant(ctx, license.NewGrant{
		OrganizationID: unpaid.ID,
		NodeIDs:        []string{f.c.Class10.ID},
	})
	require.NoError(t, err)

	tests := []struct {
		name      string
		orgID     string
		subjectID string
		published bool
		counts    license.PaperCounts
		wantErr   error
		wantLimit *license.PaperLimitError
	}{
		{name: "draft", orgID: f.org.ID, subjectID: f.c.Maths.ID, counts: license.PaperCounts{Drafts: 9, Published: 30}},
		{name: "draft limit", orgID: f.org.ID, subjectID: f.c.Maths.ID, counts: license.PaperCounts{Drafts: 10}, wantLimit: &license.PaperLimitError{Limit: 10}},
		{name: "published", orgID: f.org.ID, subjectID: f.c.Science.ID, published: true, counts: license.PaperCounts{Drafts: 50, Published: 24}},
		{name: "published limit is the largest allowance", orgID: f.org.ID, subjectID: f.c.Science.ID, published: true, counts: license.PaperCounts{Published: 25}, wantLimit: &license.PaperLimitError{Published: true, Limit: 25}},
		{name: "chapter under a licensed node", orgID: f.org.ID, subjectID: f.c.Light.ID, counts: license.PaperCounts{}},
		{name: "subject of an expired grant", orgID: f.org.ID, subjectID: f.c.Physics.ID, wantErr: license.ErrNotLicensed},
		{name: "unlicensed subject", orgID: unpaid.ID, subjectID: f.c.Physics.ID, wantErr: license.ErrNotLicensed},
		{name: "no paper allowance", orgID: unpaid.ID, subjectID: f.c.Maths.ID, wantErr: license.ErrNoPaperAllowance},
		{name: "unknown subject", orgID: f.org.ID, subjectID: "nope", wantErr: curriculum.ErrNotFound},
		{name: "unknown organization", orgID: "nope", subjectID: f.c.Maths.ID, wantErr: saas.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.app.Licenses.ValidatePaperLimits(ctx, tt.orgID, tt.subjectID, tt.published, tt.counts)
			switch {
			case tt.wantLimit != nil:
				var limitErr *license.PaperLimitError
				require.True(t, errors.As(err, &limitErr), "got %v", err)
				assert.Equal(t, tt.wantLimit, limitErr)
			case tt.wantErr != nil:
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			default:
				assert.NoError(t, err)
			}
		})
	}

	t.Run("negative counts", func(t *testing.T) {
		err := f.app.Licenses.ValidatePaperLimits(ctx, f.org.ID, f.c.Maths.ID, false, license.PaperCounts{Drafts: -1})
		assert.Error(t, err)
	})

	t.Run("missing usage limit", func(t *testing.T) {
		f.app.SaasRepo = &noUsageLimitRepo{Repository: f.app.SaasRepo, orgIDs: map[string]bool{f.org.ID: true}}
		f.app.Wire(new(recordingLogger))

		err := f.app.Licenses.ValidatePaperLimits(ctx, f.org.ID, f.c.Maths.ID, false, license.PaperCounts{})
		var missing *license.MissingUsageConfigurationError
		require.True(t, errors.As(err, &missing), "got %v", err)
		assert.Equal(t, f.org.ID, missing.OrganizationID)
	})
}
