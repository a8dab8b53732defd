package filter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/modlink/pkg/modlink/filter"
)

func TestMatch(t *testing.T) {
	t.Parallel()

	m, err := filter.New(filter.DefaultIgnore)
	require.NoError(t, err)

	tests := []struct {
		path string
		want bool
	}{
		{"meta.ini", true},
		{"textures/meta.ini", true},
		{"fomod/info.xml", true},
		{"fomod/images/a.png", true},
		{"x.modlink-tmp", true},
		{"textures/sky.dds", false},
		{"readme.txt", false},
		{`fomod\ModuleConfig.xml`, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, m.Match(tt.path), tt.path)
	}
}

func TestCaseFold(t *testing.T) {
	t.Parallel()

	m := filter.MustNew([]string{"*.TXT"}, filter.WithCaseFold())
	assert.True(t, m.Match("Docs/README.txt"))

	strict := filter.MustNew([]string{"*.TXT"})
	assert.False(t, strict.Match("readme.txt"))
}

func TestInvalidPattern(t *testing.T) {
	t.Parallel()

	_, err := filter.New([]string{"[unclosed"})
	assert.Error(t, err)
}

func TestNilMatcher(t *testing.T) {
	t.Parallel()

	var m *filter.Matcher
	assert.False(t, m.Match("anything"))
	assert.Nil(t, m.Patterns())

	empty := filter.MustNew([]string{"", "  "})
	assert.Empty(t, empty.Patterns())
	assert.False(t, empty.Match("a"))
}
