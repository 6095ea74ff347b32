package testutil

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/examinator/core"
	"github.com/trezcool/examinator/core/curriculum"
	"github.com/trezcool/examinator/core/license"
	"github.com/trezcool/examinator/core/saas"
	"github.com/trezcool/examinator/core/user"
	"github.com/trezcool/examinator/storage/cache"
	"github.com/trezcool/examinator/storage/database"
	inmemdb "github.com/trezcool/examinator/storage/database/inmem"
	sqlxrepos "github.com/trezcool/examinator/storage/database/sqlx"
)

// App wires every service on top of a fresh in-memory store, or of a PostgreSQL database.
type App struct {
	DB             *inmemdb.DB // nil on PostgreSQL
	SQL            *sqlx.DB    // nil in memory
	Tx             core.Transactor
	CurriculumRepo curriculum.Repository
	UserRepo       user.Repository
	SaasRepo       saas.Repository
	Cache          user.PermissionCache

	Tree       *curriculum.Tree
	Curriculum *curriculum.Service
	Users      *user.Service
	Saas       *saas.Service
	Engine     *license.Engine
	Licenses   *license.Service
}

func NewApp(t *testing.T, logger ...core.Logger) *App {
	t.Helper()

	log := core.NopLogger
	if len(logger) > 0 {
		log = logger[0]
	}

	db := inmemdb.Open()
	app := &App{
		DB:             db,
		Tx:             inmemdb.NewTransactor(db),
		CurriculumRepo: inmemdb.NewCurriculumRepository(db),
		UserRepo:       inmemdb.NewUserRepository(db),
		SaasRepo:       inmemdb.NewSaasRepository(db),
		Cache:          cache.NewMemoryPermissionCache(),
	}
	app.Wire(log)
	return app
}

// NewPostgresApp wires every service on the database at TEST_DATABASE_URL, migrated and emptied.
// The test is skipped when TEST_DATABASE_URL is not set.
func NewPostgresApp(t *testing.T, logger ...core.Logger) *App {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	log := core.NopLogger
	if len(logger) > 0 {
		log = logger[0]
	}

	db, err := database.OpenURL(dbURL)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(context.Background(), db))
	truncate := func() {
		_, err := db.Exec(`TRUNCATE curriculum_node, organization, permission, app_user CASCADE`)
		require.NoError(t, err)
	}
	truncate()
	t.Cleanup(func() {
		truncate()
		_ = db.Close()
	})

	tx := database.NewTransactor(db)
	app := &App{
		SQL:            db,
		Tx:             tx,
		CurriculumRepo: sqlxrepos.NewCurriculumRepository(db, tx),
		UserRepo:       sqlxrepos.NewUserRepository(db, tx),
		SaasRepo:       sqlxrepos.NewSaasRepository(db, tx),
		Cache:          cache.NewMemoryPermissionCache(),
	}
	app.Wire(log)
	return app
}

// Wire (re)builds the services from the repositories, eg. after a test swapped one of them.
func (app *App) Wire(log core.Logger) {
	app.Tree = curriculum.NewTree(app.CurriculumRepo, app.Tx)
	app.Curriculum = curriculum.NewService(app.CurriculumRepo, app.Tx)
	app.Users = user.NewService(app.UserRepo, app.Cache, log)
	app.Saas = saas.NewService(app.SaasRepo, app.Tx)
	app.Engine = license.NewEngine(app.Tx, app.Tree, app.SaasRepo, app.UserRepo, app.Cache, log)
	app.Licenses = license.NewService(app.SaasRepo, app.Tree, app.Engine, app.Tx)
	app.Curriculum.OnDelete(app.Licenses)
}

func CreateNode(t *testing.T, svc *curriculum.Service, name string, kind curriculum.Kind, parent ...curriculum.Node) curriculum.Node {
	t.Helper()
	nn := curriculum.NewNode{Name: name, Kind: kind}
	if len(parent) > 0 {
		nn.ParentID = parent[0].ID
	}
	node, err := svc.Create(context.Background(), nn)
	require.NoError(t, err, "CreateNode(%q)", name)
	return node
}

func CreateOrganization(t *testing.T, svc *saas.Service, name string, maxUsers ...int) saas.Organization {
	t.Helper()
	no := saas.NewOrganization{Name: name, BillingEmail: strings.ReplaceAll(name, " ", ".") + "@billing.test"}
	if len(maxUsers) > 0 {
		no.MaxUsers = maxUsers[0]
	}
	org, err := svc.CreateOrganization(context.Background(), no)
	require.NoError(t, err, "CreateOrganization(%q)", name)
	return org
}

func CreateUser(t *testing.T, svc *user.Service, username, role string, org saas.Organization) user.User {
	t.Helper()
	usr, err := svc.Create(context.Background(), user.NewUser{
		Username:       username,
		Email:          username + "@test.cd",
		Role:           role,
		OrganizationID: org.ID,
	})
	require.NoError(t, err, "CreateUser(%q)", username)
	return usr
}

func CreatePermissions(t *testing.T, svc *saas.Service, codenames ...string) {
	t.Helper()
	for _, c := range codenames {
		_, err := svc.CreatePermission(context.Background(), c, c)
		require.NoError(t, err, "CreatePermission(%q)", c)
	}
}

func CreateGrant(t *testing.T, svc *license.Service, org saas.Organization, nodes []curriculum.Node, perms []string, validUntil ...time.Time) saas.LicenseGrant {
	t.Helper()
	ng := license.NewGrant{
		OrganizationID:    org.ID,
		Permissions:       perms,
		MaxQuestionPapers: 10,
	}
	for _, n := range nodes {
		ng.NodeIDs = append(ng.NodeIDs, n.ID)
	}
	if len(validUntil) > 0 {
		ng.ValidUntil = null.TimeFrom(validUntil[0])
	}
	grant, err := svc.CreateGrant(context.Background(), ng)
	require.NoError(t, err, "CreateGrant()")
	return grant
}

// Curriculum is a small CBSE tree:
//
//	CBSE (board)
//	└── Class 10 (class)
//	    ├── Mathematics (subject)
//	    │   └── Polynomials (chapter)
//	    └── Science (subject)
//	        └── Light (chapter)
//	JEE (competitive)
//	└── Physics (subject)
type Curriculum struct {
	CBSE, Class10, Maths, Polynomials, Science, Light curriculum.Node
	JEE, Physics                                      curriculum.Node
}

func CreateCurriculum(t *testing.T, svc *curriculum.Service) Curriculum {
	t.Helper()
	var c Curriculum
	c.CBSE = CreateNode(t, svc, "CBSE", curriculum.KindBoard)
	c.Class10 = CreateNode(t, svc, "Class 10", curriculum.KindClass, c.CBSE)
	c.Maths = CreateNode(t, svc, "Mathematics", curriculum.KindSubject, c.Class10)
	c.Polynomials = CreateNode(t, svc, "Polynomials", curriculum.KindChapter, c.Maths)
	c.Science = CreateNode(t, svc, "Science", curriculum.KindSubject, c.Class10)
	c.Light = CreateNode(t, svc, "Light", curriculum.KindChapter, c.Science)
	c.JEE = CreateNode(t, svc, "JEE", curriculum.KindCompetitive)
	c.Physics = CreateNode(t, svc, "Physics", curriculum.KindSubject, c.JEE)
	return c
}

// IDs returns the IDs of nodes.
func IDs(nodes ...curriculum.Node) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}
