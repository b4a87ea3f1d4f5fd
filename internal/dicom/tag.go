// Package dicom provides the attribute model used by the store: tags, value
// representations, datasets and the DICOM JSON encoding of datasets.
package dicom

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Tag identifies a DICOM attribute as (group << 16 | element).
type Tag uint32

// ErrInvalidTag is returned when a tag path or keyword cannot be parsed.
var ErrInvalidTag = errors.New("invalid dicom tag")

// NewTag builds a tag from its group and element numbers.
func NewTag(group, element uint16) Tag {
	return Tag(uint32(group)<<16 | uint32(element))
}

func (t Tag) Group() uint16   { return uint16(t >> 16) }
func (t Tag) Element() uint16 { return uint16(t) }

// IsPrivate reports whether the tag belongs to an odd (private) group.
func (t Tag) IsPrivate() bool {
	return t.Group()%2 == 1
}

// IsPrivateCreator reports whether the tag reserves a private block,
// i.e. (gggg,0010)-(gggg,00FF) in an odd group.
func (t Tag) IsPrivateCreator() bool {
	return t.IsPrivate() && t.Element() >= 0x0010 && t.Element() <= 0x00FF
}

// Path returns the normalized "GGGGEEEE" form used for storage and lookups.
func (t Tag) Path() string {
	return fmt.Sprintf("%04X%04X", t.Group(), t.Element())
}

func (t Tag) String() string {
	return fmt.Sprintf("(%04X,%04X)", t.Group(), t.Element())
}

func (t Tag) MarshalText() ([]byte, error) {
	return []byte(t.Path()), nil
}

func (t *Tag) UnmarshalText(b []byte) error {
	parsed, err := ParseTag(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Keyword returns the dictionary keyword for standard tags, or the path.
func (t Tag) Keyword() string {
	if e, ok := byTag[t]; ok {
		return e.Keyword
	}
	return t.Path()
}

// ParseTag accepts "GGGGEEEE", "(GGGG,EEEE)", "GGGG,EEEE" or a dictionary keyword.
func ParseTag(s string) (Tag, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidTag)
	}

	if e, ok := LookupKeyword(s); ok {
		return e.Tag, nil
	}

	hex := strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	hex = strings.ReplaceAll(hex, ",", "")
	if len(hex) != 8 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTag, s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTag, s)
	}
	return Tag(v), nil
}

// DictionaryEntry describes a standard attribute.
type DictionaryEntry struct {
	Tag     Tag
	VR      VR
	Keyword string
	// MultiValued is set when the standard allows VM > 1.
	MultiValued bool
}

// Standard attributes referenced by the store.
var (
	TransferSyntaxUID               = NewTag(0x0002, 0x0010)
	SpecificCharacterSet            = NewTag(0x0008, 0x0005)
	ImageType                       = NewTag(0x0008, 0x0008)
	SOPClassUID                     = NewTag(0x0008, 0x0016)
	SOPInstanceUID                  = NewTag(0x0008, 0x0018)
	StudyDate                       = NewTag(0x0008, 0x0020)
	ContentDate                     = NewTag(0x0008, 0x0023)
	AcquisitionDateTime             = NewTag(0x0008, 0x002A)
	StudyTime                       = NewTag(0x0008, 0x0030)
	AccessionNumber                 = NewTag(0x0008, 0x0050)
	Modality                        = NewTag(0x0008, 0x0060)
	ModalitiesInStudy               = NewTag(0x0008, 0x0061)
	Manufacturer                    = NewTag(0x0008, 0x0070)
	InstitutionName                 = NewTag(0x0008, 0x0080)
	ReferringPhysicianName          = NewTag(0x0008, 0x0090)
	StationName                     = NewTag(0x0008, 0x1010)
	StudyDescription                = NewTag(0x0008, 0x1030)
	SeriesDescription               = NewTag(0x0008, 0x103E)
	ManufacturerModelName           = NewTag(0x0008, 0x1090)
	ReferencedSOPClassUID           = NewTag(0x0008, 0x1150)
	ReferencedSOPInstanceUID        = NewTag(0x0008, 0x1155)
	RetrieveURL                     = NewTag(0x0008, 0x1190)
	WarningReason                   = NewTag(0x0008, 0x1196)
	FailureReason                   = NewTag(0x0008, 0x1197)
	FailedSOPSequence               = NewTag(0x0008, 0x1198)
	ReferencedSOPSequence           = NewTag(0x0008, 0x1199)
	PatientName                     = NewTag(0x0010, 0x0010)
	PatientID                       = NewTag(0x0010, 0x0020)
	PatientBirthDate                = NewTag(0x0010, 0x0030)
	PatientSex                      = NewTag(0x0010, 0x0040)
	PatientAge                      = NewTag(0x0010, 0x1010)
	PatientWeight                   = NewTag(0x0010, 0x1030)
	BodyPartExamined                = NewTag(0x0018, 0x0015)
	SliceThickness                  = NewTag(0x0018, 0x0050)
	ProtocolName                    = NewTag(0x0018, 0x1030)
	StudyInstanceUID                = NewTag(0x0020, 0x000D)
	SeriesInstanceUID               = NewTag(0x0020, 0x000E)
	StudyID                         = NewTag(0x0020, 0x0010)
	SeriesNumber                    = NewTag(0x0020, 0x0011)
	InstanceNumber                  = NewTag(0x0020, 0x0013)
	Laterality                      = NewTag(0x0020, 0x0060)
	NumberOfFrames                  = NewTag(0x0028, 0x0008)
	Rows                            = NewTag(0x0028, 0x0010)
	Columns                         = NewTag(0x0028, 0x0011)
	WindowCenter                    = NewTag(0x0028, 0x1050)
	PerformedProcedureStepStartDate = NewTag(0x0040, 0x0244)
	PixelData                       = NewTag(0x7FE0, 0x0010)
)

var dictionary = []DictionaryEntry{
	{TransferSyntaxUID, UI, "TransferSyntaxUID", false},
	{SpecificCharacterSet, CS, "SpecificCharacterSet", true},
	{ImageType, CS, "ImageType", true},
	{SOPClassUID, UI, "SOPClassUID", false},
	{SOPInstanceUID, UI, "SOPInstanceUID", false},
	{StudyDate, DA, "StudyDate", false},
	{ContentDate, DA, "ContentDate", false},
	{AcquisitionDateTime, DT, "AcquisitionDateTime", false},
	{StudyTime, TM, "StudyTime", false},
	{AccessionNumber, SH, "AccessionNumber", false},
	{Modality, CS, "Modality", false},
	{ModalitiesInStudy, CS, "ModalitiesInStudy", true},
	{Manufacturer, LO, "Manufacturer", false},
	{InstitutionName, LO, "InstitutionName", false},
	{ReferringPhysicianName, PN, "ReferringPhysicianName", false},
	{StationName, SH, "StationName", false},
	{StudyDescription, LO, "StudyDescription", false},
	{SeriesDescription, LO, "SeriesDescription", false},
	{ManufacturerModelName, LO, "ManufacturerModelName", false},
	{ReferencedSOPClassUID, UI, "ReferencedSOPClassUID", false},
	{ReferencedSOPInstanceUID, UI, "ReferencedSOPInstanceUID", false},
	{RetrieveURL, UR, "RetrieveURL", false},
	{WarningReason, US, "WarningReason", false},
	{FailureReason, US, "FailureReason", false},
	{FailedSOPSequence, SQ, "FailedSOPSequence", false},
	{ReferencedSOPSequence, SQ, "ReferencedSOPSequence", false},
	{PatientName, PN, "PatientName", false},
	{PatientID, LO, "PatientID", false},
	{PatientBirthDate, DA, "PatientBirthDate", false},
	{PatientSex, CS, "PatientSex", false},
	{PatientAge, AS, "PatientAge", false},
	{PatientWeight, DS, "PatientWeight", false},
	{BodyPartExamined, CS, "BodyPartExamined", false},
	{SliceThickness, DS, "SliceThickness", false},
	{ProtocolName, LO, "ProtocolName", false},
	{StudyInstanceUID, UI, "StudyInstanceUID", false},
	{SeriesInstanceUID, UI, "SeriesInstanceUID", false},
	{StudyID, SH, "StudyID", false},
	{SeriesNumber, IS, "SeriesNumber", false},
	{InstanceNumber, IS, "InstanceNumber", false},
	{Laterality, CS, "Laterality", false},
	{NumberOfFrames, IS, "NumberOfFrames", false},
	{Rows, US, "Rows", false},
	{Columns, US, "Columns", false},
	{WindowCenter, DS, "WindowCenter", true},
	{PerformedProcedureStepStartDate, DA, "PerformedProcedureStepStartDate", false},
	{PixelData, OW, "PixelData", false},
}

var (
	byTag     = make(map[Tag]DictionaryEntry, len(dictionary))
	byKeyword = make(map[string]DictionaryEntry, len(dictionary))
)

func init() {
	for _, e := range dictionary {
		byTag[e.Tag] = e
		byKeyword[strings.ToLower(e.Keyword)] = e
	}
}

// Lookup returns the dictionary entry for a standard tag.
func Lookup(t Tag) (DictionaryEntry, bool) {
	e, ok := byTag[t]
	return e, ok
}

// LookupKeyword resolves a keyword, case-insensitively.
func LookupKeyword(keyword string) (DictionaryEntry, bool) {
	e, ok := byKeyword[strings.ToLower(keyword)]
	return e, ok
}
