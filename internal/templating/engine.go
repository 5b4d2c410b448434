// Package templating substitutes caller-supplied variables into a
// Template's launch parameters (command, args, env, baseUrl), grounded on
// the teacher's internal/template/engine.go. No other package of the
// gateway calls it: instances are launched or dialed with the template's
// fields as written.
package templating

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/giantswarm/mcp-gatekeeper/internal/gwerrors"
	"github.com/giantswarm/mcp-gatekeeper/internal/store"
)

// Engine renders `{{ .var }}`-style placeholders using Go's text/template
// plus the sprig function library, so templates can reach for string,
// date, and default-value helpers the way the teacher's engine does for
// richer expressions (e.g. `{{ default "info" .logLevel }}`).
type Engine struct{}

// New constructs an Engine. It is stateless and safe for concurrent use.
func New() *Engine {
	return &Engine{}
}

// Render substitutes vars into a single template string.
func (e *Engine) Render(tmplStr string, vars map[string]interface{}) (string, error) {
	tmpl, err := template.New("launch").Funcs(sprig.TxtFuncMap()).Option("missingkey=error").Parse(tmplStr)
	if err != nil {
		return "", gwerrors.Wrap(gwerrors.InvalidArgument, err, "invalid template expression")
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", gwerrors.Wrap(gwerrors.InvalidArgument, err, "template execution failed")
	}
	return buf.String(), nil
}

// RenderTemplate returns a copy of tpl with Command, Args, Env, and
// BaseURL rendered against vars. Template.Validate's invariants (non-empty
// command for subprocess, non-empty baseUrl for http variants) are not
// re-checked here, and substitution can produce an empty string from a
// missing optional variable.
func (e *Engine) RenderTemplate(tpl store.Template, vars map[string]interface{}) (store.Template, error) {
	out := tpl.Clone()

	rendered, err := e.Render(out.Command, vars)
	if err != nil {
		return store.Template{}, fmt.Errorf("command: %w", err)
	}
	out.Command = rendered

	for i, arg := range out.Args {
		rendered, err := e.Render(arg, vars)
		if err != nil {
			return store.Template{}, fmt.Errorf("args[%d]: %w", i, err)
		}
		out.Args[i] = rendered
	}

	for k, v := range out.Env {
		rendered, err := e.Render(v, vars)
		if err != nil {
			return store.Template{}, fmt.Errorf("env[%s]: %w", k, err)
		}
		out.Env[k] = rendered
	}

	rendered, err = e.Render(out.BaseURL, vars)
	if err != nil {
		return store.Template{}, fmt.Errorf("baseUrl: %w", err)
	}
	out.BaseURL = rendered

	return out, nil
}
