package dynamic

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/GoCodeAlone/sitebuilder/sdk"
)

// ErrNoEntrypoint is returned when a program does not declare the requested
// entrypoint.
var ErrNoEntrypoint = errors.New("entrypoint not declared")

// Program is one compiled plugin. Each program owns its own interpreter so
// package-level state in plugin code is never shared between sessions.
type Program struct {
	PluginID  string
	builder   func(sdk.Builder)
	dashboard func(sdk.Dashboard)
}

// Compile validates and evaluates plugin source, extracting the Builder and
// Dashboard entrypoints it declares.
func Compile(pool *InterpreterPool, pluginID, source string) (*Program, error) {
	if err := ValidateSource(source); err != nil {
		return nil, err
	}

	i, err := pool.NewInterpreter()
	if err != nil {
		return nil, err
	}
	if _, err := i.Eval(source); err != nil {
		return nil, fmt.Errorf("failed to compile plugin %q: %w", pluginID, err)
	}

	p := &Program{PluginID: pluginID}

	if v, err := i.Eval(PackageName + "." + EntryBuilder); err == nil {
		fn, err := builderFunc(v)
		if err != nil {
			return nil, fmt.Errorf("plugin %q: %w", pluginID, err)
		}
		p.builder = fn
	}
	if v, err := i.Eval(PackageName + "." + EntryDashboard); err == nil {
		fn, err := dashboardFunc(v)
		if err != nil {
			return nil, fmt.Errorf("plugin %q: %w", pluginID, err)
		}
		p.dashboard = fn
	}
	return p, nil
}

// HasBuilder reports whether the program declares a Builder entrypoint.
func (p *Program) HasBuilder() bool { return p.builder != nil }

// HasDashboard reports whether the program declares a Dashboard entrypoint.
func (p *Program) HasDashboard() bool { return p.dashboard != nil }

func builderFunc(v reflect.Value) (func(sdk.Builder), error) {
	if fn, ok := v.Interface().(func(sdk.Builder)); ok {
		return fn, nil
	}
	if err := checkSignature(v, reflect.TypeFor[sdk.Builder]()); err != nil {
		return nil, fmt.Errorf("%s: %w", EntryBuilder, err)
	}
	return func(api sdk.Builder) {
		v.Call([]reflect.Value{reflect.ValueOf(&api).Elem()})
	}, nil
}

func dashboardFunc(v reflect.Value) (func(sdk.Dashboard), error) {
	if fn, ok := v.Interface().(func(sdk.Dashboard)); ok {
		return fn, nil
	}
	if err := checkSignature(v, reflect.TypeFor[sdk.Dashboard]()); err != nil {
		return nil, fmt.Errorf("%s: %w", EntryDashboard, err)
	}
	return func(api sdk.Dashboard) {
		v.Call([]reflect.Value{reflect.ValueOf(&api).Elem()})
	}, nil
}

func checkSignature(v reflect.Value, want reflect.Type) error {
	t := v.Type()
	if t.Kind() != reflect.Func || t.NumIn() != 1 || t.NumOut() != 0 {
		return fmt.Errorf("unexpected signature %s", t)
	}
	if !want.AssignableTo(t.In(0)) {
		return fmt.Errorf("parameter must be %s, got %s", want, t.In(0))
	}
	return nil
}
