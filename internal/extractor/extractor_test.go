package extractor

import (
	"path/filepath"
	"strings"
	"testing"

	"codask/internal/ir"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractor_ExtractFromFile(t *testing.T) {
	testFile := filepath.Join("testdata", "sample.go")

	ext, err := NewExtractor("go")
	require.NoError(t, err)

	units, err := ext.ExtractFromFile(testFile)
	require.NoError(t, err)

	unitsByName := make(map[string]ir.CodeUnit)
	for _, unit := range units {
		unitsByName[unit.Name] = unit
	}

	t.Run("Overall Count", func(t *testing.T) {
		assert.Len(t, units, 3, "only functions and methods are code units")
	})

	t.Run("Package And Imports", func(t *testing.T) {
		for _, unit := range units {
			assert.Equal(t, "sample", unit.Package)
			assert.Equal(t, "go", unit.Language)
			assert.Equal(t, []string{"fmt"}, unit.Imports)
		}
	})

	t.Run("Functions", func(t *testing.T) {
		unit, ok := unitsByName["MyFunc"]
		require.True(t, ok)
		assert.Equal(t, "function", unit.Kind)
		assert.Equal(t, "MyFunc is a function.", unit.DocSummary)
		assert.Equal(t, "func MyFunc(a int, b string) bool", unit.Signature)
		assert.Contains(t, unit.Calls, "MyFunction")
		assert.True(t, strings.HasPrefix(unit.Content, "func MyFunc"))
		assert.Equal(t, ir.UnitID(testFile, "MyFunc", unit.ByteRange), unit.ID)
		assert.Less(t, unit.StartLine, unit.EndLine)
	})

	t.Run("Methods", func(t *testing.T) {
		unit, ok := unitsByName["MyMethod"]
		require.True(t, ok)
		assert.Equal(t, "method", unit.Kind)
		assert.Equal(t, "MyMethod is a method.", unit.DocSummary)
		assert.Equal(t, []string{"Println"}, unit.Calls, "builtins such as make are ignored")
	})

	t.Run("Source Order", func(t *testing.T) {
		for i := 1; i < len(units); i++ {
			assert.Less(t, units[i-1].ByteRange.Start, units[i].ByteRange.Start)
		}
	})
}

func TestExtractor_Python(t *testing.T) {
	testFile := filepath.Join("testdata", "sample.py")

	ext, err := NewExtractor(LanguageForPath(testFile))
	require.NoError(t, err)
	assert.Equal(t, "python", ext.Language())

	units, err := ext.ExtractFromFile(testFile)
	require.NoError(t, err)
	require.Len(t, units, 4)

	byName := make(map[string]ir.CodeUnit)
	for _, u := range units {
		byName[u.Name] = u
	}

	parse := byName["parse_config"]
	assert.Equal(t, "function", parse.Kind)
	assert.Equal(t, "sample", parse.Package)
	assert.Equal(t, "Parse the config file at path.", parse.DocSummary)
	assert.Equal(t, "def parse_config(path)", parse.Signature)
	assert.Equal(t, []string{"load_file", "validate"}, parse.Calls)
	assert.Equal(t, []string{"os", "typing"}, parse.Imports)

	assert.Empty(t, byName["validate"].Calls, "len is a builtin")
	assert.Equal(t, "method", byName["run"].Kind)
	assert.Contains(t, byName["run"].Calls, "parse_config")
}

func TestExtractor_Unsupported(t *testing.T) {
	_, err := NewExtractor("cobol")
	assert.Error(t, err)
	assert.Equal(t, "", LanguageForPath("README.md"))
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "First line continues here.", summarize("First line\ncontinues here.\n\nSecond paragraph."))
	assert.Equal(t, "", summarize("   "))
}
