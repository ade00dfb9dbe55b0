package sdk

import (
	"reflect"

	"github.com/GoCodeAlone/sitebuilder/pagetree"
)

// Symbols exports this package to the plugin interpreter under ImportPath.
var Symbols = map[string]map[string]reflect.Value{
	ImportPath + "/sdk": {
		"Builder":   reflect.ValueOf((*Builder)(nil)),
		"Dashboard": reflect.ValueOf((*Dashboard)(nil)),
		"Component": reflect.ValueOf((*Component)(nil)),
		"Property":  reflect.ValueOf((*Property)(nil)),
		"Option":    reflect.ValueOf((*Option)(nil)),
		"Document":  reflect.ValueOf((*Document)(nil)),
		"Page":      reflect.ValueOf((*Page)(nil)),
		"SitePage":  reflect.ValueOf((*SitePage)(nil)),
		"Node":      reflect.ValueOf((*pagetree.Node)(nil)),
		"Kind":      reflect.ValueOf((*pagetree.Kind)(nil)),

		"ControlKind":   reflect.ValueOf((*ControlKind)(nil)),
		"ControlText":   reflect.ValueOf(ControlText),
		"ControlSelect": reflect.ValueOf(ControlSelect),
		"ControlColor":  reflect.ValueOf(ControlColor),
		"ControlNumber": reflect.ValueOf(ControlNumber),
		"ControlButton": reflect.ValueOf(ControlButton),

		"KindCard":      reflect.ValueOf(pagetree.KindCard),
		"KindHeader":    reflect.ValueOf(pagetree.KindHeader),
		"KindParagraph": reflect.ValueOf(pagetree.KindParagraph),
		"KindButton":    reflect.ValueOf(pagetree.KindButton),
		"KindImage":     reflect.ValueOf(pagetree.KindImage),
		"KindInput":     reflect.ValueOf(pagetree.KindInput),
		"KindLink":      reflect.ValueOf(pagetree.KindLink),
		"KindNavbar":    reflect.ValueOf(pagetree.KindNavbar),
		"KindContainer": reflect.ValueOf(pagetree.KindContainer),

		"Clone":       reflect.ValueOf(pagetree.Clone),
		"CloneAll":    reflect.ValueOf(pagetree.CloneAll),
		"NewID":       reflect.ValueOf(pagetree.NewID),
		"Find":        reflect.ValueOf(pagetree.Find),
		"FindByID":    reflect.ValueOf(pagetree.FindByID),
		"FindByStyle": reflect.ValueOf(pagetree.FindByStyle),
		"Walk":        reflect.ValueOf(pagetree.Walk),
		"Remove":      reflect.ValueOf(pagetree.Remove),

		"ReplaceChildren": reflect.ValueOf(pagetree.ReplaceChildren),
	},
}
