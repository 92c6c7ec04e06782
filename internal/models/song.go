package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Song is a single catalog entry. The identifier is assigned by the datastore
// when the song is created and never changes afterwards.
type Song struct {
	ID         string `json:"id" bson:"-"`
	Title      string `json:"title" bson:"title"`
	Artist     string `json:"artist" bson:"artist"`
	AudioURL   string `json:"audioUrl" bson:"audioUrl"`
	CoverImage string `json:"coverImage" bson:"coverImage"`
}

// SongInput carries the caller supplied fields for creating or replacing a
// song. All four fields are required.
type SongInput struct {
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	AudioURL   string `json:"audioUrl"`
	CoverImage string `json:"coverImage"`
}

// UnmarshalJSON accepts strings as given and converts other scalars to text:
// non-zero numbers and true keep their literal form, while null, false, and
// zero count as absent. Objects and arrays are rejected.
func (in *SongInput) UnmarshalJSON(data []byte) error {
	var raw struct {
		Title      json.RawMessage `json:"title"`
		Artist     json.RawMessage `json:"artist"`
		AudioURL   json.RawMessage `json:"audioUrl"`
		CoverImage json.RawMessage `json:"coverImage"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var decoded SongInput
	fields := []struct {
		name string
		raw  json.RawMessage
		dest *string
	}{
		{"title", raw.Title, &decoded.Title},
		{"artist", raw.Artist, &decoded.Artist},
		{"audioUrl", raw.AudioURL, &decoded.AudioURL},
		{"coverImage", raw.CoverImage, &decoded.CoverImage},
	}
	for _, field := range fields {
		value, err := scalarText(field.raw)
		if err != nil {
			return fmt.Errorf("field %s: %w", field.name, err)
		}
		*field.dest = value
	}
	*in = decoded
	return nil
}

func scalarText(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			return "", err
		}
		return value, nil
	case 'n', 'f':
		return "", nil
	case 't':
		return "true", nil
	case '{', '[':
		return "", fmt.Errorf("expected a string, got %s", map[byte]string{'{': "object", '[': "array"}[raw[0]])
	}
	number, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return "", fmt.Errorf("invalid number %s", raw)
	}
	if number == 0 {
		return "", nil
	}
	return strconv.FormatFloat(number, 'f', -1, 64), nil
}

// ValidationError reports the required fields that were absent from a request.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Missing) == 0 {
		return "validation failed"
	}
	return "missing required fields: " + strings.Join(e.Missing, ", ")
}

// Validate checks that every required field is present. Only the empty string
// counts as missing; values are stored exactly as supplied.
func (in SongInput) Validate() error {
	var missing []string
	if in.Title == "" {
		missing = append(missing, "title")
	}
	if in.Artist == "" {
		missing = append(missing, "artist")
	}
	if in.AudioURL == "" {
		missing = append(missing, "audioUrl")
	}
	if in.CoverImage == "" {
		missing = append(missing, "coverImage")
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}

// Song builds an unsaved song from the input.
func (in SongInput) Song() Song {
	return Song{
		Title:      in.Title,
		Artist:     in.Artist,
		AudioURL:   in.AudioURL,
		CoverImage: in.CoverImage,
	}
}
