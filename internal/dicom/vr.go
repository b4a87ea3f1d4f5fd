package dicom

import (
	"fmt"
	"strings"
)

// VR is a DICOM value representation code.
type VR string

const (
	AE VR = "AE"
	AS VR = "AS"
	AT VR = "AT"
	CS VR = "CS"
	DA VR = "DA"
	DS VR = "DS"
	DT VR = "DT"
	FD VR = "FD"
	FL VR = "FL"
	IS VR = "IS"
	LO VR = "LO"
	LT VR = "LT"
	OB VR = "OB"
	OD VR = "OD"
	OF VR = "OF"
	OL VR = "OL"
	OV VR = "OV"
	OW VR = "OW"
	PN VR = "PN"
	SH VR = "SH"
	SL VR = "SL"
	SQ VR = "SQ"
	SS VR = "SS"
	ST VR = "ST"
	SV VR = "SV"
	TM VR = "TM"
	UC VR = "UC"
	UI VR = "UI"
	UL VR = "UL"
	UN VR = "UN"
	UR VR = "UR"
	US VR = "US"
	UT VR = "UT"
	UV VR = "UV"
)

var knownVRs = map[VR]bool{
	AE: true, AS: true, AT: true, CS: true, DA: true, DS: true, DT: true, FD: true,
	FL: true, IS: true, LO: true, LT: true, OB: true, OD: true, OF: true, OL: true,
	OV: true, OW: true, PN: true, SH: true, SL: true, SQ: true, SS: true, ST: true,
	SV: true, TM: true, UC: true, UI: true, UL: true, UN: true, UR: true, US: true,
	UT: true, UV: true,
}

// ParseVR normalizes and checks a VR code.
func ParseVR(s string) (VR, error) {
	v := VR(strings.ToUpper(strings.TrimSpace(s)))
	if !knownVRs[v] {
		return "", fmt.Errorf("unknown value representation %q", s)
	}
	return v, nil
}

// IsBinary reports whether values of this VR are carried as inline binary.
func (v VR) IsBinary() bool {
	switch v {
	case OB, OD, OF, OL, OV, OW, UN:
		return true
	}
	return false
}

// IsNumeric reports whether values are binary numbers (not decimal strings).
func (v VR) IsNumeric() bool {
	switch v {
	case FD, FL, SL, SS, SV, UL, US, UV:
		return true
	}
	return false
}

// Family groups VRs by the column type their indexed values are stored in.
type Family int

const (
	FamilyNone Family = iota
	FamilyString
	FamilyLong
	FamilyDouble
	FamilyDateTime
	FamilyPersonName
)

func (f Family) String() string {
	switch f {
	case FamilyString:
		return "string"
	case FamilyLong:
		return "long"
	case FamilyDouble:
		return "double"
	case FamilyDateTime:
		return "datetime"
	case FamilyPersonName:
		return "person_name"
	}
	return "none"
}

// Families lists every indexable family.
var Families = []Family{FamilyString, FamilyLong, FamilyDouble, FamilyDateTime, FamilyPersonName}

// Family returns the index family for VRs supported as extended query tags.
func (v VR) Family() Family {
	switch v {
	case AE, AS, CS, DS, LO, SH, TM, UI:
		return FamilyString
	case IS, SL, SS, UL, US:
		return FamilyLong
	case FL, FD:
		return FamilyDouble
	case DA, DT:
		return FamilyDateTime
	case PN:
		return FamilyPersonName
	}
	return FamilyNone
}

// Level is the information-model level an attribute is indexed at.
type Level int

const (
	LevelInstance Level = 0
	LevelSeries   Level = 1
	LevelStudy    Level = 2
)

func (l Level) String() string {
	switch l {
	case LevelInstance:
		return "Instance"
	case LevelSeries:
		return "Series"
	case LevelStudy:
		return "Study"
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// ParseLevel accepts "instance", "series" or "study" in any case.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "instance":
		return LevelInstance, nil
	case "series":
		return LevelSeries, nil
	case "study":
		return LevelStudy, nil
	}
	return 0, fmt.Errorf("unknown level %q", s)
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(b []byte) error {
	parsed, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
