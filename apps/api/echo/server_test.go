package echoapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/examinator/apps/api/echo"
	"github.com/trezcool/examinator/core"
	"github.com/trezcool/examinator/core/curriculum"
	"github.com/trezcool/examinator/core/license"
	"github.com/trezcool/examinator/core/saas"
	"github.com/trezcool/examinator/core/user"
	"github.com/trezcool/examinator/testutil"
)

const adminKey = "s3cr3t"

type apiTest struct {
	*testutil.App
	server *echoapi.Server
	c      testutil.Curriculum
}

func newAPITest(t *testing.T) *apiTest {
	t.Helper()
	app := testutil.NewApp(t)
	server := echoapi.NewServer(echoapi.ServerDeps{
		Conf:       &core.Config{TestMode: true, AdminToken: adminKey},
		Logger:     core.NopLogger,
		Tree:       app.Tree,
		Curriculum: app.Curriculum,
		Users:      app.Users,
		Saas:       app.Saas,
		Licenses:   app.Licenses,
	})
	t.Cleanup(func() { _ = server.Close() })
	return &apiTest{App: app, server: server, c: testutil.CreateCurriculum(t, app.Curriculum)}
}

func (at *apiTest) do(t *testing.T, method, path string, body interface{}, key ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if len(key) > 0 {
		req.Header.Set(echoapi.AdminKeyHeader, key[0])
	} else {
		req.Header.Set(echoapi.AdminKeyHeader, adminKey)
	}
	rec := httptest.NewRecorder()
	at.server.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestServer_auth(t *testing.T) {
	at := newAPITest(t)

	rec := at.do(t, http.MethodGet, "/v1/curriculum", nil, "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = at.do(t, http.MethodGet, "/", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = at.do(t, http.MethodGet, "/v1/curriculum", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var roots []curriculum.Node
	decode(t, rec, &roots)
	assert.Equal(t, testutil.IDs(at.c.CBSE, at.c.JEE), testutil.IDs(roots...))
}

func TestCurriculumAPI(t *testing.T) {
	at := newAPITest(t)
	c := at.c

	tests := []struct {
		name     string
		method   string
		path     string
		body     interface{}
		wantCode int
	}{
		{"create", http.MethodPost, "/v1/curriculum", curriculum.NewNode{Name: "ICSE", Kind: curriculum.KindBoard}, http.StatusCreated},
		{"create bad kind", http.MethodPost, "/v1/curriculum", curriculum.NewNode{Name: "X", Kind: "galaxy"}, http.StatusBadRequest},
		{"create under unknown parent", http.MethodPost, "/v1/curriculum", curriculum.NewNode{Name: "X", Kind: curriculum.KindClass, ParentID: "nope"}, http.StatusBadRequest},
		{"retrieve", http.MethodGet, "/v1/curriculum/" + c.Maths.ID, nil, http.StatusOK},
		{"retrieve unknown", http.MethodGet, "/v1/curriculum/nope", nil, http.StatusNotFound},
		{"tree", http.MethodGet, "/v1/curriculum/" + c.CBSE.ID + "/tree?depth=1", nil, http.StatusOK},
		{"tree bad depth", http.MethodGet, "/v1/curriculum/" + c.CBSE.ID + "/tree?depth=deep", nil, http.StatusBadRequest},
		{"move under descendant", http.MethodPost, "/v1/curriculum/" + c.Class10.ID + "/move", echoapi.MoveRequest{ParentID: c.Polynomials.ID}, http.StatusBadRequest},
		{"move", http.MethodPost, "/v1/curriculum/" + c.Light.ID + "/move", echoapi.MoveRequest{ParentID: c.Maths.ID}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := at.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
		})
	}

	t.Run("validation errors by field", func(t *testing.T) {
		rec := at.do(t, http.MethodPost, "/v1/curriculum", curriculum.NewNode{Kind: curriculum.KindBoard})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		var fields map[string]string
		decode(t, rec, &fields)
		assert.Contains(t, fields, "name")
	})

	t.Run("path", func(t *testing.T) {
		rec := at.do(t, http.MethodGet, "/v1/curriculum/"+c.Polynomials.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var detail echoapi.NodeDetail
		decode(t, rec, &detail)
		assert.Equal(t, "CBSE > Class 10 > Mathematics > Polynomials", detail.Path)
	})

	t.Run("ancestors", func(t *testing.T) {
		rec := at.do(t, http.MethodGet, "/v1/curriculum/"+c.Polynomials.ID+"/ancestors?include_self=true", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var nodes []curriculum.Node
		decode(t, rec, &nodes)
		assert.Equal(t, testutil.IDs(c.CBSE, c.Class10, c.Maths, c.Polynomials), testutil.IDs(nodes...))
	})

	t.Run("delete", func(t *testing.T) {
		rec := at.do(t, http.MethodDelete, "/v1/curriculum/"+c.JEE.ID, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		rec = at.do(t, http.MethodGet, "/v1/curriculum/"+c.Physics.ID, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestLicenseAPI(t *testing.T) {
	at := newAPITest(t)
	c := at.c

	rec := at.do(t, http.MethodPost, "/v1/organizations", saas.NewOrganization{
		Name:         "Green Valley",
		BillingEmail: "billing@greenvalley.test",
		MaxUsers:     10,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var org saas.Organization
	decode(t, rec, &org)

	rec = at.do(t, http.MethodPost, "/v1/permissions", echoapi.NewPermission{Codename: "quiz.add_question", Name: "Add question"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	admin := testutil.CreateUser(t, at.Users, "principal", user.RoleAdmin, org)

	var grant saas.LicenseGrant
	t.Run("create grant", func(t *testing.T) {
		rec := at.do(t, http.MethodPost, "/v1/grants", map[string]interface{}{
			"organization_id":     org.ID,
			"node_ids":            []string{c.Maths.ID},
			"permissions":         []string{"quiz.add_question"},
			"max_question_papers": 1,
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		decode(t, rec, &grant)

		rec = at.do(t, http.MethodGet, "/v1/users/"+admin.ID+"/nodes/"+c.Polynomials.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var access echoapi.AccessResponse
		decode(t, rec, &access)
		assert.True(t, access.Allowed)

		rec = at.do(t, http.MethodGet, "/v1/users/"+admin.ID+"/permissions/quiz.add_question", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		decode(t, rec, &access)
		assert.True(t, access.Allowed)
	})

	t.Run("unlicensable node", func(t *testing.T) {
		rec := at.do(t, http.MethodPost, "/v1/grants/"+grant.ID+"/nodes", echoapi.NodesRequest{NodeIDs: []string{c.Light.ID}})
		assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	})

	t.Run("quota", func(t *testing.T) {
		rec := at.do(t, http.MethodPost, "/v1/grants/"+grant.ID+"/consume", nil)
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		rec = at.do(t, http.MethodPost, "/v1/grants/"+grant.ID+"/consume", nil)
		assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	})

	t.Run("recompute", func(t *testing.T) {
		rec := at.do(t, http.MethodPost, "/v1/organizations/"+org.ID+"/recompute", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var res map[string]interface{}
		decode(t, rec, &res)
		assert.Equal(t, org.ID, res["organization_id"])

		rec = at.do(t, http.MethodPost, "/v1/organizations/nope/recompute", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
	})

	t.Run("clear nodes revokes", func(t *testing.T) {
		rec := at.do(t, http.MethodPost, "/v1/grants/"+grant.ID+"/nodes/clear", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = at.do(t, http.MethodGet, "/v1/users/"+admin.ID+"/profile", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var prof user.Profile
		decode(t, rec, &prof)
		assert.Empty(t, prof.AcademicStream)
	})

	t.Run("sweep", func(t *testing.T) {
		rec := at.do(t, http.MethodPost, "/v1/sweep", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp echoapi.SweepResponse
		decode(t, rec, &resp)
		assert.Equal(t, []string{org.ID}, resp.Succeeded)
		assert.Empty(t, resp.Failed)
	})

	t.Run("delete grant", func(t *testing.T) {
		rec := at.do(t, http.MethodDelete, "/v1/grants/"+grant.ID, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		rec = at.do(t, http.MethodGet, "/v1/grants/"+grant.ID, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestUserAPI(t *testing.T) {
	at := newAPITest(t)
	org := testutil.CreateOrganization(t, at.Saas, "Green Valley", 10)
	other := testutil.CreateOrganization(t, at.Saas, "Blue Hill")
	testutil.CreatePermissions(t, at.Saas, "quiz.add_question")
	teacher := testutil.CreateUser(t, at.Users, "teacher", user.RoleTeacher, org)

	rec := at.do(t, http.MethodPost, "/v1/organizations/"+org.ID+"/groups", echoapi.NewGroup{Name: "Authors", Permissions: []string{"quiz.add_question"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var authors saas.Group
	decode(t, rec, &authors)
	rec = at.do(t, http.MethodPost, "/v1/organizations/"+other.ID+"/groups", echoapi.NewGroup{Name: "Authors"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var foreign saas.Group
	decode(t, rec, &foreign)

	t.Run("set groups", func(t *testing.T) {
		rec := at.do(t, http.MethodPut, "/v1/users/"+teacher.ID+"/groups", echoapi.UserGroups{GroupIDs: []string{authors.ID}})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var prof user.Profile
		decode(t, rec, &prof)
		assert.Equal(t, []string{authors.ID}, prof.Groups)

		rec = at.do(t, http.MethodGet, "/v1/users/"+teacher.ID+"/permissions/quiz.add_question", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var access echoapi.AccessResponse
		decode(t, rec, &access)
		assert.True(t, access.Allowed)
	})

	t.Run("set groups of another organization", func(t *testing.T) {
		rec := at.do(t, http.MethodPut, "/v1/users/"+teacher.ID+"/groups", echoapi.UserGroups{GroupIDs: []string{foreign.ID}})
		assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
	})

	t.Run("delete", func(t *testing.T) {
		rec := at.do(t, http.MethodDelete, "/v1/users/"+teacher.ID, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
		rec = at.do(t, http.MethodGet, "/v1/users/"+teacher.ID, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		rec = at.do(t, http.MethodDelete, "/v1/users/"+teacher.ID, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestPaperLimitsAPI(t *testing.T) {
	at := newAPITest(t)
	c := at.c
	org := testutil.CreateOrganization(t, at.Saas, "Green Valley", 10)
	testutil.CreateGrant(t, at.Licenses, org, []curriculum.Node{c.Maths}, nil)
	path := "/v1/organizations/" + org.ID + "/paper-limits"

	tests := []struct {
		name     string
		body     echoapi.PaperLimitsCheck
		wantCode int
	}{
		{"draft", echoapi.PaperLimitsCheck{SubjectID: c.Maths.ID, Counts: license.PaperCounts{Drafts: 9}}, http.StatusNoContent},
		{"draft limit", echoapi.PaperLimitsCheck{SubjectID: c.Maths.ID, Counts: license.PaperCounts{Drafts: 10}}, http.StatusConflict},
		{"published limit", echoapi.PaperLimitsCheck{SubjectID: c.Maths.ID, Published: true, Counts: license.PaperCounts{Published: 10}}, http.StatusConflict},
		{"unlicensed subject", echoapi.PaperLimitsCheck{SubjectID: c.Science.ID}, http.StatusConflict},
		{"unknown subject", echoapi.PaperLimitsCheck{SubjectID: "nope"}, http.StatusNotFound},
		{"negative counts", echoapi.PaperLimitsCheck{SubjectID: c.Maths.ID, Counts: license.PaperCounts{Drafts: -1}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := at.do(t, http.MethodPost, path, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
		})
	}

	rec := at.do(t, http.MethodPost, "/v1/organizations/nope/paper-limits", echoapi.PaperLimitsCheck{SubjectID: c.Maths.ID})
	assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
}
