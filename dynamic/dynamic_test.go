package dynamic

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/GoCodeAlone/sitebuilder/sdk"
	"github.com/GoCodeAlone/sitebuilder/store"
)

const cardSource = `package plugin

import "sitebuilder/sdk"

func Builder(api sdk.Builder) {
	api.RegisterComponent("card-preset", sdk.Component{
		Label:         "Card preset",
		Icon:          "card",
		TagName:       "div",
		CanDrop:       true,
		DefaultStyles: map[string]string{"padding": "16px"},
	})
	api.RegisterProperty(sdk.Property{
		TargetType: "card-preset",
		Key:        "layout",
		Label:      "Layout",
		Control:    sdk.ControlSelect,
		Options:    []sdk.Option{{Label: "Row", Value: "row"}, {Label: "Column", Value: "column"}},
		OnChange: func(el *sdk.Node, value string) {
			el.SetStyle("flexDirection", value)
		},
	})
}
`

type recordingBuilder struct {
	components map[string]sdk.Component
	properties []sdk.Property
	styles     []string
	notes      []string
}

func newRecordingBuilder() *recordingBuilder {
	return &recordingBuilder{components: make(map[string]sdk.Component)}
}

func (b *recordingBuilder) PluginID() string { return "test" }
func (b *recordingBuilder) RegisterComponent(typ string, c sdk.Component) {
	b.components[typ] = c
}
func (b *recordingBuilder) RegisterProperty(p sdk.Property) { b.properties = append(b.properties, p) }
func (b *recordingBuilder) RefreshCanvas()                  {}
func (b *recordingBuilder) AddGlobalStyle(css string)       { b.styles = append(b.styles, css) }
func (b *recordingBuilder) Tree() []*sdk.Node               { return nil }
func (b *recordingBuilder) Find(func(*sdk.Node) bool) *sdk.Node {
	return nil
}
func (b *recordingBuilder) Notify(msg string) { b.notes = append(b.notes, msg) }
func (b *recordingBuilder) GetData(string) ([]sdk.Document, error) {
	return nil, nil
}

func TestValidateSource(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		wantErr string
	}{
		{name: "valid", source: cardSource},
		{name: "syntax", source: "package plugin\nfunc Builder(", wantErr: "syntax error"},
		{name: "wrong package", source: "package main\nfunc Builder(x int) {}", wantErr: "package must be"},
		{
			name:    "blocked import",
			source:  "package plugin\nimport \"os/exec\"\nvar _ = exec.Command\nfunc Builder(x int) {}",
			wantErr: `"os/exec" is not allowed`,
		},
		{
			name:    "unknown import",
			source:  "package plugin\nimport \"database/sql\"\nvar _ sql.DB\nfunc Builder(x int) {}",
			wantErr: "not allowed",
		},
		{name: "no entrypoint", source: "package plugin\nfunc helper() {}", wantErr: "no Builder or Dashboard"},
		{
			name:    "go statement",
			source:  "package plugin\nfunc Builder(x int) {\n\tgo func() {}()\n}",
			wantErr: "plugin.go:3:2: plugins may not start goroutines",
		},
		{
			name:    "time.AfterFunc",
			source:  "package plugin\nimport t \"time\"\nfunc Builder(x int) { t.AfterFunc(0, func() {}) }",
			wantErr: "may not start goroutines",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSource(tt.source)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !errors.Is(err, ErrInvalidSource) {
				t.Errorf("expected ErrInvalidSource, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestIsPackageAllowed(t *testing.T) {
	if !IsPackageAllowed(sdk.ImportPath) {
		t.Error("sdk import must be allowed")
	}
	for _, pkg := range []string{"os", "os/exec", "unsafe", "reflect", "net"} {
		if IsPackageAllowed(pkg) {
			t.Errorf("%s must be blocked", pkg)
		}
	}
}

func TestRuntimeRunBuilder(t *testing.T) {
	rt := NewRuntime()
	b := newRecordingBuilder()
	p := &store.Plugin{ID: "card-layouts", Code: cardSource}

	if err := rt.RunBuilder(context.Background(), p, b); err != nil {
		t.Fatalf("RunBuilder: %v", err)
	}
	c, ok := b.components["card-preset"]
	if !ok {
		t.Fatal("expected card-preset to be registered")
	}
	if !c.CanDrop || c.DefaultStyles["padding"] != "16px" {
		t.Errorf("unexpected component: %+v", c)
	}
	if len(b.properties) != 1 {
		t.Fatalf("expected 1 property, got %d", len(b.properties))
	}

	el := &sdk.Node{ID: "card_1", Type: "card-preset"}
	b.properties[0].OnChange(el, "column")
	if el.Styles["flexDirection"] != "column" {
		t.Errorf("OnChange did not apply: %+v", el.Styles)
	}

	info, ok := rt.Loads().Get("card-layouts", EntryBuilder)
	if !ok || info.Runs != 1 || info.Failures != 0 {
		t.Errorf("unexpected load info: %+v", info)
	}
}

func TestRuntimeMissingEntrypointIsNoop(t *testing.T) {
	rt := NewRuntime()
	p := &store.Plugin{ID: "card-layouts", Code: cardSource}
	if err := rt.RunDashboard(context.Background(), p, nil); err != nil {
		t.Fatalf("RunDashboard without entrypoint: %v", err)
	}
}

func TestRuntimePanicBecomesError(t *testing.T) {
	src := `package plugin

import "sitebuilder/sdk"

func Builder(api sdk.Builder) {
	var m map[string]int
	m["boom"] = 1
}
`
	var observed error
	rt := NewRuntime(WithObserver(func(_, _ string, _ time.Duration, err error) { observed = err }))
	err := rt.RunBuilder(context.Background(), &store.Plugin{ID: "bad", Code: src}, newRecordingBuilder())
	if err == nil {
		t.Fatal("expected error from panicking plugin")
	}
	if observed == nil {
		t.Error("observer did not see the failure")
	}
	info, _ := rt.Loads().Get("bad", EntryBuilder)
	if info.Failures != 1 || info.LastError == "" {
		t.Errorf("unexpected load info: %+v", info)
	}
}

func TestRuntimeTimeout(t *testing.T) {
	src := `package plugin

import (
	"time"

	"sitebuilder/sdk"
)

func Builder(api sdk.Builder) {
	time.Sleep(2 * time.Second)
}
`
	rt := NewRuntime(WithLimits(ResourceLimits{LoadTimeout: 50 * time.Millisecond}))
	start := time.Now()
	err := rt.RunBuilder(context.Background(), &store.Plugin{ID: "slow", Code: src}, newRecordingBuilder())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("runtime waited past the load timeout")
	}
}

func TestRuntimeRejectsInvalidSource(t *testing.T) {
	rt := NewRuntime()
	err := rt.RunBuilder(context.Background(), &store.Plugin{ID: "x", Code: "package plugin\nimport \"os\"\nfunc Builder(api int) { _ = os.Args }"}, newRecordingBuilder())
	if !errors.Is(err, ErrInvalidSource) {
		t.Fatalf("expected ErrInvalidSource, got %v", err)
	}
}

func TestLoadRegistryListAndForget(t *testing.T) {
	r := NewLoadRegistry()
	r.Record("b", EntryBuilder, time.Millisecond, nil)
	r.Record("a", EntryDashboard, time.Millisecond, errors.New("x"))
	r.Record("a", EntryBuilder, time.Millisecond, nil)

	list := r.List()
	if len(list) != 3 || list[0].PluginID != "a" || list[0].Entrypoint != EntryBuilder {
		t.Fatalf("unexpected order: %+v", list)
	}
	r.Forget("a")
	if r.Count() != 1 {
		t.Errorf("expected 1 after Forget, got %d", r.Count())
	}
}
