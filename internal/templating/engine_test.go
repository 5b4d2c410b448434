package templating

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/mcp-gatekeeper/internal/store"
)

func TestRenderSubstitutesVariable(t *testing.T) {
	e := New()
	out, err := e.Render("hello {{ .name }}", map[string]interface{}{"name": "world"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
}

func TestRenderFailsOnMissingVariable(t *testing.T) {
	e := New()
	_, err := e.Render("{{ .missing }}", map[string]interface{}{})
	assert.Error(t, err)
}

func TestRenderSupportsSprigFunctions(t *testing.T) {
	e := New()
	out, err := e.Render(`{{ .level | default "info" }}`, map[string]interface{}{"level": ""})
	require.NoError(t, err)
	assert.Equal(t, "info", out)
}

func TestRenderTemplateSubstitutesAllLaunchFields(t *testing.T) {
	e := New()
	tpl := store.Template{
		Name:      "t",
		Transport: store.TransportSubprocess,
		Command:   "{{ .bin }}",
		Args:      []string{"--port={{ .port }}"},
		Env:       map[string]string{"TOKEN": "{{ .token }}"},
	}
	vars := map[string]interface{}{"bin": "/usr/bin/tool", "port": "8080", "token": "secret"}

	out, err := e.RenderTemplate(tpl, vars)
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/tool", out.Command)
	assert.Equal(t, []string{"--port=8080"}, out.Args)
	assert.Equal(t, "secret", out.Env["TOKEN"])
}
