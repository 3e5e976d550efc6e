// Package notes defines the read-only records the discovery pipeline receives
// from the notes backend.
package notes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Note is a user-submitted document reference. School, Major, Course and
// Semester are the backend's denormalized ownership ids.
type Note struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Link        string    `json:"link,omitempty"`
	File        string    `json:"file,omitempty"`
	Tags        []string  `json:"tags"`
	Section     string    `json:"section"`
	Course      string    `json:"course,omitempty"`
	Major       string    `json:"major,omitempty"`
	School      string    `json:"school,omitempty"`
	Semester    string    `json:"semester,omitempty"`
	Owner       string    `json:"owner"`
	TotalLikes  int       `json:"totalLikes"`
	CreatedDate time.Time `json:"createdDate"`
}

// HasTag reports whether tag is one of the note's tags.
func (n Note) HasTag(tag string) bool {
	for _, t := range n.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// UnmarshalJSON accepts createdDate as an RFC 3339 string or as epoch
// milliseconds, and clamps negative like counts to zero.
func (n *Note) UnmarshalJSON(data []byte) error {
	type alias Note
	aux := struct {
		*alias
		CreatedDate json.RawMessage `json:"createdDate"`
	}{alias: (*alias)(n)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	ts, err := parseInstant(aux.CreatedDate)
	if err != nil {
		return fmt.Errorf("note %s: createdDate: %w", n.ID, err)
	}
	n.CreatedDate = ts
	if n.TotalLikes < 0 {
		n.TotalLikes = 0
	}
	return nil
}

func parseInstant(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		if s == "" {
			return time.Time{}, nil
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognised timestamp %s", raw)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// Section is a course offering instance. Each professors entry may itself be
// a comma-joined list of names; the first entry is the primary one.
type Section struct {
	ID         string   `json:"id"`
	Number     string   `json:"number"`
	Professors []string `json:"professors"`
	Semester   string   `json:"semester,omitempty"`
	Course     string   `json:"course,omitempty"`
}

// TBA is the placeholder the registrar uses for an unassigned professor.
const TBA = "TBA"

// PrimaryProfessor returns the first comma-delimited token of the first
// professors entry, trimmed. It returns "" when the section lists nobody.
func (s Section) PrimaryProfessor() string {
	if len(s.Professors) == 0 {
		return ""
	}
	first, _, _ := strings.Cut(s.Professors[0], ",")
	return strings.TrimSpace(first)
}

// UnmarshalJSON accepts the section number as a JSON string or number, under
// either "number" or the older "section" key. A course may arrive as an id or
// as an embedded object.
func (s *Section) UnmarshalJSON(data []byte) error {
	type alias Section
	aux := struct {
		*alias
		Number json.RawMessage `json:"number"`
		Legacy json.RawMessage `json:"section"`
		Course json.RawMessage `json:"course"`
	}{alias: (*alias)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	raw := aux.Number
	if len(raw) == 0 {
		raw = aux.Legacy
	}
	num, err := looseString(raw)
	if err != nil {
		return fmt.Errorf("section %s: number: %w", s.ID, err)
	}
	s.Number = num

	s.Course = ""
	if c := bytes.TrimSpace(aux.Course); len(c) > 0 && c[0] == '{' {
		var ref struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(c, &ref); err != nil {
			return fmt.Errorf("section %s: course: %w", s.ID, err)
		}
		s.Course = ref.ID
	} else if s.Course, err = looseString(c); err != nil {
		return fmt.Errorf("section %s: course: %w", s.ID, err)
	}
	return nil
}

func looseString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

// School is an institution available as a search facet.
type School struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Semester string `json:"semester,omitempty"`
}

// Major is a field of study within a school.
type Major struct {
	ID     string `json:"id"`
	Code   string `json:"code"`
	Name   string `json:"name"`
	School string `json:"school"`
}
