// Package sdk holds the types plugin code is compiled against. Plugins receive
// a Builder in the page editor and a Dashboard in the admin dashboard; those
// two values are the only host capabilities a plugin is granted.
//
// A plugin is a single Go source file in package plugin:
//
//	package plugin
//
//	import "sitebuilder/sdk"
//
//	func Builder(api sdk.Builder) {
//		api.RegisterComponent("hero", sdk.Component{Label: "Hero", TagName: "section"})
//	}
//
//	func Dashboard(api sdk.Dashboard) {
//		api.RegisterPage("stats", "Stats", "chart", func() string { return "<p>ok</p>" })
//	}
package sdk

import (
	"time"

	"github.com/GoCodeAlone/sitebuilder/pagetree"
)

// ImportPath is the path plugin code imports this package under.
const ImportPath = "sitebuilder/sdk"

// Node is one element of the live page tree.
type Node = pagetree.Node

// Kind is a node's semantic role.
type Kind = pagetree.Kind

// Component describes a custom canvas element type.
type Component struct {
	Label         string
	Icon          string
	TagName       string
	Content       string
	DefaultStyles map[string]string
	// CanDrop lets other elements be dropped inside instances.
	CanDrop bool
	// Template is copied in as the children of every new instance.
	Template []*Node
}

// ControlKind selects the widget shown in the property panel.
type ControlKind string

const (
	ControlText   ControlKind = "text"
	ControlSelect ControlKind = "select"
	ControlColor  ControlKind = "color"
	ControlNumber ControlKind = "number"
	ControlButton ControlKind = "button"
)

// Option is one choice of a select control.
type Option struct {
	Label string
	Value string
}

// Property is a property-panel control shown for elements of TargetType.
// Non-button controls call OnChange; when OnChange is nil the value is
// written to the element's style Key. Buttons call OnClick and show Progress
// while it runs.
type Property struct {
	TargetType string
	Key        string
	Label      string
	Control    ControlKind
	Options    []Option
	Progress   string
	OnChange   func(el *Node, value string)
	OnClick    func(el *Node) error
}

// Builder is the capability handed to a plugin's Builder entrypoint.
type Builder interface {
	PluginID() string
	RegisterComponent(typ string, c Component)
	RegisterProperty(p Property)
	// RefreshCanvas re-renders the canvas from the current tree.
	RefreshCanvas()
	AddGlobalStyle(css string)
	Tree() []*Node
	Find(pred func(*Node) bool) *Node
	// Notify shows a message to the editing user.
	Notify(msg string)
	// GetData reads one of the calling plugin's collections for the
	// editing user, newest first.
	GetData(collection string) ([]Document, error)
}

// Document is a record in one of the calling plugin's collections.
type Document struct {
	ID        string
	Data      map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Page is a dashboard page registered by a plugin.
type Page struct {
	Slug     string `json:"slug"`
	Label    string `json:"label"`
	Icon     string `json:"icon,omitempty"`
	PluginID string `json:"pluginId"`
}

// SitePage is one of the user's published pages.
type SitePage struct {
	Slug string
	Name string
}

// Dashboard is the capability handed to a plugin's Dashboard entrypoint.
// Data calls are scoped to the calling plugin and the signed-in user.
type Dashboard interface {
	PluginID() string
	RegisterPage(slug, label, icon string, render func() string)
	// RegisterAction attaches a form handler to a page. The handler receives
	// the submitted fields and returns a message for the user.
	RegisterAction(page, name string, handler func(form map[string]string) (string, error))
	// GetPages returns the user's published site pages.
	GetPages() ([]SitePage, error)
	GetData(collection string) ([]Document, error)
	CreateData(collection string, data map[string]any) (Document, error)
	UpdateData(collection, id string, data map[string]any) (Document, error)
	DeleteData(collection, id string) error
	// OpenMediaPicker shows the media library; onSelect runs once with the
	// chosen URL and never runs if the user cancels.
	OpenMediaPicker(onSelect func(url string))
	Notify(msg string)
}
