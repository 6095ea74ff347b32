package saas_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/examinator/core"
	"github.com/trezcool/examinator/core/saas"
	"github.com/trezcool/examinator/testutil"
)

func TestService_CreateOrganization(t *testing.T) {
	app := testutil.NewApp(t)
	ctx := context.Background()

	org, err := app.Saas.CreateOrganization(ctx, saas.NewOrganization{
		Name:         " Green Valley ",
		BillingEmail: "Billing@GreenValley.test",
	})
	require.NoError(t, err)
	assert.Equal(t, "Green Valley", org.Name)
	assert.Equal(t, "billing@greenvalley.test", org.BillingEmail)
	assert.True(t, org.IsActive)
	assert.Empty(t, org.SupportedCurriculum)

	limit, err := app.SaasRepo.GetUsageLimit(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, saas.UsageLimit{OrganizationID: org.ID, MaxUsers: 1, MaxQuestionPapersDrafts: 10}, limit)

	tests := []struct {
		name      string
		no        saas.NewOrganization
		wantField string
	}{
		{name: "no name", no: saas.NewOrganization{BillingEmail: "x@test.cd"}, wantField: "name"},
		{name: "bad email", no: saas.NewOrganization{Name: "X", BillingEmail: "x"}, wantField: "billing_email"},
		{name: "negative limit", no: saas.NewOrganization{Name: "X", BillingEmail: "x@test.cd", MaxUsers: -1}, wantField: "max_users"},
		{name: "duplicate", no: saas.NewOrganization{Name: "Green Valley", BillingEmail: "x@test.cd"}, wantField: "name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := app.Saas.CreateOrganization(ctx, tt.no)
			require.Error(t, err)
			if fields := core.TranslateErrors(err); fields != nil {
				assert.Contains(t, fields, tt.wantField)
				return
			}
			var vErr *core.ValidationError
			require.True(t, errors.As(err, &vErr), "got %v", err)
			assert.Equal(t, tt.wantField, vErr.Fields[0].Field)
		})
	}

	orgs, err := app.Saas.QueryOrganizations(ctx)
	require.NoError(t, err)
	assert.Len(t, orgs, 1)
}

func TestService_SaveUsageLimit(t *testing.T) {
	app := testutil.NewApp(t)
	org := testutil.CreateOrganization(t, app.Saas, "Green Valley")
	ctx := context.Background()

	limit, err := app.Saas.SaveUsageLimit(ctx, saas.UsageLimit{OrganizationID: org.ID, MaxUsers: 50, MaxQuestionPapersDrafts: 5})
	require.NoError(t, err)
	assert.Equal(t, 50, limit.MaxUsers)

	_, err = app.Saas.SaveUsageLimit(ctx, saas.UsageLimit{OrganizationID: "nope"})
	assert.Equal(t, saas.ErrNotFound, err)
}

func TestService_permissionsAndGroups(t *testing.T) {
	app := testutil.NewApp(t)
	org := testutil.CreateOrganization(t, app.Saas, "Green Valley")
	ctx := context.Background()

	perm, err := app.Saas.CreatePermission(ctx, " Quiz.Add_Question ", "Can add question")
	require.NoError(t, err)
	assert.Equal(t, "quiz.add_question", perm.Codename)

	_, err = app.Saas.CreatePermission(ctx, "quiz.add_question", "again")
	assert.Equal(t, saas.ErrPermissionExists, err)

	_, err = app.Saas.CreatePermission(ctx, " ", "blank")
	assert.True(t, core.IsValidationError(err))

	group, err := app.Saas.CreateGroup(ctx, org.ID, " Teachers ", []string{"quiz.add_question", "quiz.add_question"})
	require.NoError(t, err)
	assert.Equal(t, "Teachers", group.Name)
	assert.Equal(t, []string{"quiz.add_question"}, group.Permissions)

	groups, err := app.Saas.QueryGroups(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, []saas.Group{group}, groups)

	_, err = app.Saas.CreateGroup(ctx, "nope", "Teachers", nil)
	assert.Equal(t, saas.ErrNotFound, err)
}
