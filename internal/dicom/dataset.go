package dicom

import (
	"sort"
	"strings"
)

// Element is a single attribute of a dataset. String-like and numeric values
// are carried in their DICOM string form; binary VRs use InlineBinary and
// sequences use Items.
type Element struct {
	Tag          Tag
	VR           VR
	Values       []string
	InlineBinary []byte
	BulkDataURI  string
	Items        []*Dataset
}

// First returns the first value with DICOM padding removed.
func (e *Element) First() string {
	if e == nil || len(e.Values) == 0 {
		return ""
	}
	return TrimValue(e.Values[0])
}

func (e *Element) clone() *Element {
	c := &Element{
		Tag:         e.Tag,
		VR:          e.VR,
		BulkDataURI: e.BulkDataURI,
	}
	if e.Values != nil {
		c.Values = append([]string(nil), e.Values...)
	}
	if e.InlineBinary != nil {
		c.InlineBinary = append([]byte(nil), e.InlineBinary...)
	}
	for _, item := range e.Items {
		c.Items = append(c.Items, item.Clone())
	}
	return c
}

// TrimValue strips the space and NUL padding DICOM allows on string values.
func TrimValue(s string) string {
	return strings.Trim(s, " \x00")
}

// Dataset is an unordered collection of elements keyed by tag.
type Dataset struct {
	elements map[Tag]*Element
}

// NewDataset creates an empty dataset.
func NewDataset() *Dataset {
	return &Dataset{elements: make(map[Tag]*Element)}
}

// Set stores a string-valued element, replacing any previous value.
func (d *Dataset) Set(tag Tag, vr VR, values ...string) *Dataset {
	d.Put(&Element{Tag: tag, VR: vr, Values: values})
	return d
}

// Put stores an element as-is.
func (d *Dataset) Put(e *Element) {
	if d.elements == nil {
		d.elements = make(map[Tag]*Element)
	}
	d.elements[e.Tag] = e
}

// Get returns the element stored for tag.
func (d *Dataset) Get(tag Tag) (*Element, bool) {
	if d == nil {
		return nil, false
	}
	e, ok := d.elements[tag]
	return e, ok
}

// String returns the first trimmed value of tag, or "".
func (d *Dataset) String(tag Tag) string {
	e, ok := d.Get(tag)
	if !ok {
		return ""
	}
	return e.First()
}

// Remove deletes the given tags.
func (d *Dataset) Remove(tags ...Tag) {
	for _, t := range tags {
		delete(d.elements, t)
	}
}

// Len returns the number of top-level elements.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.elements)
}

// Tags returns the top-level tags in ascending order.
func (d *Dataset) Tags() []Tag {
	tags := make([]Tag, 0, len(d.elements))
	for t := range d.elements {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// Elements returns the top-level elements in tag order.
func (d *Dataset) Elements() []*Element {
	out := make([]*Element, 0, len(d.elements))
	for _, t := range d.Tags() {
		out = append(out, d.elements[t])
	}
	return out
}

// Clone returns a deep copy.
func (d *Dataset) Clone() *Dataset {
	c := NewDataset()
	if d == nil {
		return c
	}
	for t, e := range d.elements {
		c.elements[t] = e.clone()
	}
	return c
}

// Without returns a copy that excludes the given tags.
func (d *Dataset) Without(tags ...Tag) *Dataset {
	c := d.Clone()
	c.Remove(tags...)
	return c
}

// Merge copies every element of other into d, overwriting duplicates.
func (d *Dataset) Merge(other *Dataset) {
	if other == nil {
		return
	}
	for _, e := range other.Elements() {
		d.Put(e.clone())
	}
}

// StudyInstanceUID returns the trimmed study UID.
func (d *Dataset) StudyInstanceUID() string { return d.String(StudyInstanceUID) }

// SeriesInstanceUID returns the trimmed series UID.
func (d *Dataset) SeriesInstanceUID() string { return d.String(SeriesInstanceUID) }

// SOPInstanceUID returns the trimmed SOP instance UID.
func (d *Dataset) SOPInstanceUID() string { return d.String(SOPInstanceUID) }
