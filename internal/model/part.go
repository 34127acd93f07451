package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownPartKind = errors.New("model: unknown part kind")
	ErrEmptyPart       = errors.New("model: part has no content")
)

// Part is one piece of message or artifact content. Exactly one of Text,
// File or Data is meaningful, selected by Kind.
type Part struct {
	Kind PartKind        `json:"kind" validate:"required,oneof=text file data"`
	Text string          `json:"text,omitempty"`
	File *FileContent    `json:"file,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// FileContent references a file by URI.
type FileContent struct {
	URI      string `json:"uri" validate:"required"`
	MimeType string `json:"mimeType,omitempty"`
	Name     string `json:"name,omitempty"`
}

func TextPart(text string) Part {
	return Part{Kind: PartKindText, Text: text}
}

func FilePart(uri, mimeType, name string) Part {
	return Part{Kind: PartKindFile, File: &FileContent{URI: uri, MimeType: mimeType, Name: name}}
}

// DataPart marshals v into a data part.
func DataPart(v any) (Part, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Part{}, fmt.Errorf("failed to marshal data part: %w", err)
	}
	return Part{Kind: PartKindData, Data: raw}, nil
}

// Decode unmarshals a data part into v.
func (p Part) Decode(v any) error {
	if p.Kind != PartKindData {
		return fmt.Errorf("model: cannot decode %s part", p.Kind)
	}
	return json.Unmarshal(p.Data, v)
}

// MarshalJSON emits only the field that belongs to the part's kind.
func (p Part) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case PartKindText:
		return json.Marshal(struct {
			Kind PartKind `json:"kind"`
			Text string   `json:"text"`
		}{p.Kind, p.Text})
	case PartKindFile:
		return json.Marshal(struct {
			Kind PartKind     `json:"kind"`
			File *FileContent `json:"file"`
		}{p.Kind, p.File})
	case PartKindData:
		data := p.Data
		if len(data) == 0 {
			data = json.RawMessage("{}")
		}
		return json.Marshal(struct {
			Kind PartKind        `json:"kind"`
			Data json.RawMessage `json:"data"`
		}{p.Kind, data})
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownPartKind, p.Kind)
}

// UnmarshalJSON rejects unknown kinds and parts whose content does not match
// their kind.
func (p *Part) UnmarshalJSON(b []byte) error {
	type rawPart Part
	var rp rawPart
	if err := json.Unmarshal(b, &rp); err != nil {
		return err
	}

	switch rp.Kind {
	case PartKindText:
		*p = Part{Kind: rp.Kind, Text: rp.Text}
	case PartKindFile:
		if rp.File == nil || rp.File.URI == "" {
			return fmt.Errorf("%w: file part requires uri", ErrEmptyPart)
		}
		*p = Part{Kind: rp.Kind, File: rp.File}
	case PartKindData:
		if len(rp.Data) == 0 {
			return fmt.Errorf("%w: data part requires data", ErrEmptyPart)
		}
		*p = Part{Kind: rp.Kind, Data: rp.Data}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPartKind, rp.Kind)
	}
	return nil
}

func (p Part) clone() Part {
	out := p
	if p.File != nil {
		f := *p.File
		out.File = &f
	}
	if p.Data != nil {
		out.Data = append(json.RawMessage(nil), p.Data...)
	}
	return out
}

func cloneParts(parts []Part) []Part {
	if parts == nil {
		return nil
	}
	out := make([]Part, len(parts))
	for i, p := range parts {
		out[i] = p.clone()
	}
	return out
}
