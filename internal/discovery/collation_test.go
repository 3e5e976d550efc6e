package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollatorIsLocaleAware(t *testing.T) {
	c := DefaultCollator()
	ss := []string{"b", "Émile", "a", "éclair", "Zed"}
	c.Sort(ss)
	assert.Equal(t, []string{"a", "b", "éclair", "Émile", "Zed"}, ss)
	assert.Equal(t, -1, c.Compare("apple", "Banana"))
	assert.Equal(t, 0, c.Compare("same", "same"))
}

func TestNewCollator(t *testing.T) {
	c, err := NewCollator("sv")
	require.NoError(t, err)
	assert.Equal(t, "sv", c.Locale())

	_, err = NewCollator("not a locale!")
	assert.Error(t, err)
}
