package catalog

import (
	"testing"

	"codask/internal/ir"

	"github.com/stretchr/testify/assert"
)

func TestIdentifiers(t *testing.T) {
	names, files := Identifiers("Why does `Loader.run` call parse_config() and loadFile in pkg/config.py?")
	assert.Equal(t, []string{"loadFile", "parse_config", "run"}, names)
	assert.Equal(t, []string{"pkg/config.py"}, files)

	names, files = Identifiers("what about its caller?")
	assert.Empty(t, names)
	assert.Empty(t, files)
}

func TestCatalog_Mentions(t *testing.T) {
	c := New()
	c.Add([]ir.CodeUnit{
		{ID: "a", Name: "parse_config", FilePath: "src/config.py"},
		{ID: "b", Name: "main", FilePath: "src/main.py"},
	}, nil)

	m := c.Mentions("does parse_config() differ from unknown_thing in config.py?")
	assert.Equal(t, []string{"parse_config"}, m.Names)
	assert.Equal(t, []string{"src/config.py"}, m.Files)
	assert.False(t, m.Empty())

	assert.True(t, c.Mentions("explain the overall design").Empty())
}
