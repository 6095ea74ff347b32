package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/examinator/core/curriculum"
	"github.com/trezcool/examinator/core/saas"
)

type seedNode struct {
	name     string
	kind     curriculum.Kind
	children []seedNode
}

var (
	sampleCurriculum = []seedNode{
		{name: "CBSE", kind: curriculum.KindBoard, children: []seedNode{
			{name: "Class 10", kind: curriculum.KindClass, children: []seedNode{
				{name: "Mathematics", kind: curriculum.KindSubject, children: []seedNode{
					{name: "Real Numbers", kind: curriculum.KindChapter},
					{name: "Polynomials", kind: curriculum.KindChapter},
					{name: "Quadratic Equations", kind: curriculum.KindChapter},
				}},
				{name: "Science", kind: curriculum.KindSubject, children: []seedNode{
					{name: "Chemical Reactions and Equations", kind: curriculum.KindChapter},
					{name: "Light - Reflection and Refraction", kind: curriculum.KindChapter},
				}},
			}},
			{name: "Class 12", kind: curriculum.KindClass, children: []seedNode{
				{name: "Physics", kind: curriculum.KindSubject, children: []seedNode{
					{name: "Electrostatics", kind: curriculum.KindUnit, children: []seedNode{
						{name: "Electric Charges and Fields", kind: curriculum.KindChapter},
					}},
				}},
			}},
		}},
		{name: "JEE Main", kind: curriculum.KindCompetitive, children: []seedNode{
			{name: "Physics", kind: curriculum.KindSubject, children: []seedNode{
				{name: "Kinematics", kind: curriculum.KindChapter},
			}},
			{name: "Mathematics", kind: curriculum.KindSubject, children: []seedNode{
				{name: "Calculus", kind: curriculum.KindChapter},
			}},
		}},
	}

	samplePermissions = []saas.Permission{
		{Codename: "quiz.add_question", Name: "Can add question"},
		{Codename: "quiz.view_question", Name: "Can view question"},
		{Codename: "paper.add_questionpaper", Name: "Can add question paper"},
		{Codename: "paper.publish", Name: "Can publish question paper"},
	}
)

// seed creates the sample permissions, and the sample curriculum unless its roots already exist.
func (cli *commandLine) seed(ctx context.Context) error {
	for _, p := range samplePermissions {
		if _, err := cli.deps.Saas.CreatePermission(ctx, p.Codename, p.Name); err != nil && !errors.Is(err, saas.ErrPermissionExists) {
			return errors.Wrapf(err, "creating permission %q", p.Codename)
		}
	}

	roots, err := cli.deps.Tree.Roots(ctx)
	if err != nil {
		return errors.Wrap(err, "querying roots")
	}
	existing := make(map[string]bool, len(roots))
	for _, r := range roots {
		existing[r.Name] = true
	}

	created := 0
	for _, sn := range sampleCurriculum {
		if existing[sn.name] {
			fmt.Fprintf(cli.out, "%q already exists, skipped\n", sn.name)
			continue
		}
		n, err := cli.seedNode(ctx, sn, "")
		if err != nil {
			return err
		}
		created += n
	}
	fmt.Fprintf(cli.out, "%d curriculum node(s) created\n", created)
	return nil
}

func (cli *commandLine) seedNode(ctx context.Context, sn seedNode, parentID string) (int, error) {
	node, err := cli.deps.Curriculum.Create(ctx, curriculum.NewNode{Name: sn.name, Kind: sn.kind, ParentID: parentID})
	if err != nil {
		return 0, errors.Wrapf(err, "creating %q", sn.name)
	}
	created := 1
	for _, child := range sn.children {
		n, err := cli.seedNode(ctx, child, node.ID)
		if err != nil {
			return created, err
		}
		created += n
	}
	return created, nil
}
