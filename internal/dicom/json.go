package dicom

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// jsonAttribute mirrors one attribute of the DICOM JSON model (PS3.18 F.2).
type jsonAttribute struct {
	VR           string            `json:"vr"`
	Value        []json.RawMessage `json:"Value,omitempty"`
	InlineBinary string            `json:"InlineBinary,omitempty"`
	BulkDataURI  string            `json:"BulkDataURI,omitempty"`
}

type jsonPersonName struct {
	Alphabetic  string `json:"Alphabetic,omitempty"`
	Ideographic string `json:"Ideographic,omitempty"`
	Phonetic    string `json:"Phonetic,omitempty"`
}

// ParseJSON decodes a dataset in the DICOM JSON model.
func ParseJSON(data []byte) (*Dataset, error) {
	ds := NewDataset()
	if err := ds.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return ds, nil
}

// MarshalJSON encodes the dataset in the DICOM JSON model.
func (d *Dataset) MarshalJSON() ([]byte, error) {
	out := make(map[string]jsonAttribute, d.Len())
	for _, e := range d.Elements() {
		attr, err := encodeElement(e)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", e.Tag, err)
		}
		out[e.Tag.Path()] = attr
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the DICOM JSON model into d.
func (d *Dataset) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("decode dataset: %w", err)
	}
	if d.elements == nil {
		d.elements = make(map[Tag]*Element, len(raw))
	}
	for key, value := range raw {
		tag, err := ParseTag(key)
		if err != nil {
			return err
		}
		var attr jsonAttribute
		if err := json.Unmarshal(value, &attr); err != nil {
			return fmt.Errorf("decode %s: %w", tag, err)
		}
		e, err := decodeElement(tag, attr)
		if err != nil {
			return fmt.Errorf("decode %s: %w", tag, err)
		}
		d.elements[tag] = e
	}
	return nil
}

func decodeElement(tag Tag, attr jsonAttribute) (*Element, error) {
	vr, err := ParseVR(attr.VR)
	if err != nil {
		return nil, err
	}
	e := &Element{Tag: tag, VR: vr, BulkDataURI: attr.BulkDataURI}

	if attr.InlineBinary != "" {
		b, err := base64.StdEncoding.DecodeString(attr.InlineBinary)
		if err != nil {
			return nil, fmt.Errorf("inline binary: %w", err)
		}
		e.InlineBinary = b
	}

	for _, raw := range attr.Value {
		if vr == SQ {
			item := NewDataset()
			if err := item.UnmarshalJSON(raw); err != nil {
				return nil, err
			}
			e.Items = append(e.Items, item)
			continue
		}
		v, err := decodeValue(vr, raw)
		if err != nil {
			return nil, err
		}
		e.Values = append(e.Values, v)
	}
	return e, nil
}

func decodeValue(vr VR, raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	if vr == PN {
		var pn jsonPersonName
		if err := json.Unmarshal(trimmed, &pn); err != nil {
			return "", fmt.Errorf("person name: %w", err)
		}
		return joinPersonName(pn), nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	// numbers keep their literal text so no precision is lost
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return "", fmt.Errorf("unexpected value %s", string(trimmed))
	}
	return n.String(), nil
}

func encodeElement(e *Element) (jsonAttribute, error) {
	attr := jsonAttribute{VR: string(e.VR), BulkDataURI: e.BulkDataURI}
	if len(e.InlineBinary) > 0 {
		attr.InlineBinary = base64.StdEncoding.EncodeToString(e.InlineBinary)
	}
	if e.VR == SQ {
		for _, item := range e.Items {
			b, err := item.MarshalJSON()
			if err != nil {
				return attr, err
			}
			attr.Value = append(attr.Value, b)
		}
		return attr, nil
	}
	for _, v := range e.Values {
		b, err := encodeValue(e.VR, v)
		if err != nil {
			return attr, err
		}
		attr.Value = append(attr.Value, b)
	}
	return attr, nil
}

func encodeValue(vr VR, v string) (json.RawMessage, error) {
	if v == "" {
		return json.RawMessage("null"), nil
	}
	switch {
	case vr == PN:
		return json.Marshal(splitPersonName(v))
	case vr.IsNumeric() || vr == IS || vr == DS:
		n := json.Number(TrimValue(v))
		if _, err := n.Float64(); err != nil {
			// keep malformed numbers readable instead of failing the document
			return json.Marshal(v)
		}
		return json.RawMessage(n.String()), nil
	}
	return json.Marshal(v)
}

func joinPersonName(pn jsonPersonName) string {
	parts := []string{pn.Alphabetic, pn.Ideographic, pn.Phonetic}
	for len(parts) > 1 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return strings.Join(parts, "=")
}

func splitPersonName(v string) jsonPersonName {
	parts := strings.SplitN(v, "=", 3)
	pn := jsonPersonName{Alphabetic: parts[0]}
	if len(parts) > 1 {
		pn.Ideographic = parts[1]
	}
	if len(parts) > 2 {
		pn.Phonetic = parts[2]
	}
	return pn
}
