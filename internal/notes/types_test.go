package notes

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoteCreatedDateForms(t *testing.T) {
	var a, b Note
	require.NoError(t, json.Unmarshal([]byte(`{"id":"n1","createdDate":"2024-03-01T10:00:00Z","totalLikes":3}`), &a))
	require.NoError(t, json.Unmarshal([]byte(`{"id":"n2","createdDate":1709287200000}`), &b))

	want := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.True(t, a.CreatedDate.Equal(want))
	assert.True(t, b.CreatedDate.Equal(want))
	assert.Equal(t, 3, a.TotalLikes)

	var bad Note
	assert.Error(t, json.Unmarshal([]byte(`{"id":"n3","createdDate":"yesterday"}`), &bad))
}

func TestNoteNegativeLikesClamped(t *testing.T) {
	var n Note
	require.NoError(t, json.Unmarshal([]byte(`{"id":"n1","totalLikes":-4}`), &n))
	assert.Equal(t, 0, n.TotalLikes)
}

func TestSectionNumberForms(t *testing.T) {
	var s1, s2, s3 Section
	require.NoError(t, json.Unmarshal([]byte(`{"id":"S1","number":"01","professors":["Smith, J","TBA"]}`), &s1))
	require.NoError(t, json.Unmarshal([]byte(`{"id":"S2","number":2}`), &s2))
	require.NoError(t, json.Unmarshal([]byte(`{"id":"S3","section":3,"course":{"id":"C9","name":"Algorithms"}}`), &s3))

	assert.Equal(t, "01", s1.Number)
	assert.Equal(t, "2", s2.Number)
	assert.Equal(t, "3", s3.Number)
	assert.Equal(t, "C9", s3.Course)
}

func TestPrimaryProfessor(t *testing.T) {
	cases := []struct {
		professors []string
		want       string
	}{
		{[]string{"Smith, J", "TBA"}, "Smith"},
		{[]string{"TBA"}, "TBA"},
		{[]string{" Lee ,Kim"}, "Lee"},
		{nil, ""},
		{[]string{""}, ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Section{Professors: tc.professors}.PrimaryProfessor(), "%v", tc.professors)
	}
}

func TestHasTag(t *testing.T) {
	n := Note{Tags: []string{"midterm", "lecture"}}
	assert.True(t, n.HasTag("lecture"))
	assert.False(t, n.HasTag("final"))
}
