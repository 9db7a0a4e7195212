package cassette

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Format is the on disk encoding of a whole cassette.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// documentVersion is bumped when the document layout changes incompatibly.
const documentVersion = 1

// Document is the serialised form of a cassette used by stores that write one blob per
// cassette.
type Document struct {
	Version      int           `json:"version" yaml:"version"`
	Name         string        `json:"name" yaml:"name"`
	Interactions []Interaction `json:"interactions" yaml:"interactions"`
}

// Marshal encodes the named cassette as a Document.
func Marshal(f Format, name string, interactions []Interaction) ([]byte, error) {
	if interactions == nil {
		interactions = []Interaction{}
	}
	doc := Document{Version: documentVersion, Name: name, Interactions: interactions}
	switch f {
	case FormatYAML, "":
		buf := &bytes.Buffer{}
		enc := yaml.NewEncoder(buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatJSON:
		return json.MarshalIndent(doc, "", "  ")
	}
	return nil, fmt.Errorf("unknown cassette format %q", f)
}

// Unmarshal decodes a Document and returns its interactions.
func Unmarshal(f Format, b []byte) ([]Interaction, error) {
	var doc Document
	var err error
	switch f {
	case FormatYAML, "":
		err = yaml.Unmarshal(b, &doc)
	case FormatJSON:
		err = json.Unmarshal(b, &doc)
	default:
		return nil, fmt.Errorf("unknown cassette format %q", f)
	}
	if err != nil {
		return nil, fmt.Errorf("decode cassette: %w", err)
	}
	if doc.Version > documentVersion {
		return nil, fmt.Errorf("cassette version %d is newer than supported version %d", doc.Version, documentVersion)
	}
	return doc.Interactions, nil
}
