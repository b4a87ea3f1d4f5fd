package xqt

import (
	"strings"

	"github.com/syntrixbase/medstore/internal/core/catalog"
	"github.com/syntrixbase/medstore/internal/core/index"
	"github.com/syntrixbase/medstore/internal/core/validation"
	"github.com/syntrixbase/medstore/internal/dicom"
)

// Entry is an extended query tag definition as submitted by a client.
type Entry struct {
	Path           string `json:"path" yaml:"path"`
	VR             string `json:"vr,omitempty" yaml:"vr"`
	PrivateCreator string `json:"privateCreator,omitempty" yaml:"private_creator"`
	Level          string `json:"level" yaml:"level"`
}

var supportedVRs = map[dicom.VR]bool{
	dicom.AE: true, dicom.AS: true, dicom.CS: true, dicom.DA: true, dicom.DS: true, dicom.DT: true,
	dicom.FD: true, dicom.FL: true, dicom.IS: true, dicom.LO: true, dicom.PN: true, dicom.SH: true,
	dicom.SL: true, dicom.SS: true, dicom.TM: true, dicom.UI: true, dicom.UL: true, dicom.US: true,
}

// SupportedVR reports whether values of vr can be indexed.
func SupportedVR(vr dicom.VR) bool {
	return supportedVRs[vr]
}

// groups reserved by the standard; odd, but not private
var reservedGroups = map[uint16]bool{0x0001: true, 0x0003: true, 0x0005: true, 0x0007: true, 0xFFFF: true}

// NormalizeEntries validates entries and returns them in stored form.
// Paths are compared case-insensitively after normalization.
func NormalizeEntries(entries []Entry) ([]index.ExtendedQueryTagEntry, error) {
	if len(entries) == 0 {
		return nil, entryError(CodeNoEntries, "", "at least one extended query tag is required")
	}
	out := make([]index.ExtendedQueryTagEntry, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		n, err := Normalize(e)
		if err != nil {
			return nil, err
		}
		if seen[n.Path] {
			return nil, entryError(CodeDuplicateTag, e.Path, "tag is listed more than once")
		}
		seen[n.Path] = true
		out = append(out, n)
	}
	return out, nil
}

// Normalize validates a single entry.
func Normalize(e Entry) (index.ExtendedQueryTagEntry, error) {
	path := strings.TrimSpace(e.Path)
	if path == "" {
		return index.ExtendedQueryTagEntry{}, entryError(CodeMissingPath, "", "path is required")
	}
	if strings.Contains(path, ".") {
		return index.ExtendedQueryTagEntry{}, entryError(CodeInvalidTag, path, "sequence paths are not supported")
	}
	tag, err := dicom.ParseTag(path)
	if err != nil || reservedGroups[tag.Group()] {
		return index.ExtendedQueryTagEntry{}, entryError(CodeInvalidTag, path, "not a valid attribute tag")
	}

	vr := dicom.VR(strings.ToUpper(strings.TrimSpace(e.VR)))
	creator := strings.TrimSpace(e.PrivateCreator)

	if tag.IsPrivate() {
		if creator == "" {
			return index.ExtendedQueryTagEntry{}, entryError(CodeMissingPrivateCreator, path, "private tags require a private creator")
		}
		if err := validation.ValidateValue(dicom.LO, creator); err != nil {
			return index.ExtendedQueryTagEntry{}, entryError(CodeInvalidPrivateCreator, path, "%v", err)
		}
		if vr == "" {
			return index.ExtendedQueryTagEntry{}, entryError(CodeMissingVR, path, "private tags require a VR")
		}
	} else {
		entry, ok := dicom.Lookup(tag)
		if !ok {
			return index.ExtendedQueryTagEntry{}, entryError(CodeUnknownTag, path, "tag is not in the dictionary")
		}
		if creator != "" {
			return index.ExtendedQueryTagEntry{}, entryError(CodePrivateCreatorNotEmpty, path, "standard tags do not take a private creator")
		}
		if catalog.IsCoreTag(tag) {
			return index.ExtendedQueryTagEntry{}, entryError(CodeQueryTagAlreadySupported, path, "tag is always indexed")
		}
		switch {
		case vr == "":
			vr = entry.VR
		case vr != entry.VR:
			return index.ExtendedQueryTagEntry{}, entryError(CodeInconsistentVR, path, "VR %s does not match the dictionary VR %s", vr, entry.VR)
		}
	}
	if !SupportedVR(vr) {
		return index.ExtendedQueryTagEntry{}, entryError(CodeUnsupportedVR, path, "VR %s cannot be indexed", vr)
	}

	if strings.TrimSpace(e.Level) == "" {
		return index.ExtendedQueryTagEntry{}, entryError(CodeMissingLevel, path, "level is required")
	}
	level, err := dicom.ParseLevel(e.Level)
	if err != nil {
		return index.ExtendedQueryTagEntry{}, entryError(CodeInvalidLevel, path, "%v", err)
	}

	return index.ExtendedQueryTagEntry{
		Path:           tag.Path(),
		VR:             vr,
		PrivateCreator: creator,
		Level:          level,
	}, nil
}

// NormalizePath returns the stored form of a path or keyword.
func NormalizePath(path string) (string, error) {
	tag, err := dicom.ParseTag(path)
	if err != nil {
		return "", entryError(CodeInvalidTag, path, "not a valid attribute tag")
	}
	return tag.Path(), nil
}
