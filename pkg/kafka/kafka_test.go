package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noteChanged struct {
	Type      string `json:"type"`
	SectionID string `json:"sectionId"`
}

func TestDecodeJSON(t *testing.T) {
	ev, err := DecodeJSON[noteChanged]([]byte(`{"type":"note.created","sectionId":"s1"}`))
	require.NoError(t, err)
	assert.Equal(t, "note.created", ev.Type)
	assert.Equal(t, "s1", ev.SectionID)

	_, err = DecodeJSON[noteChanged]([]byte(`not json`))
	assert.Error(t, err)
}
