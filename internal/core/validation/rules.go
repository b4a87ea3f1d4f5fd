package validation

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/syntrixbase/medstore/internal/dicom"
)

var (
	uidPattern = regexp.MustCompile(`^(0|[1-9][0-9]*)(\.(0|[1-9][0-9]*))*$`)
	asPattern  = regexp.MustCompile(`^[0-9]{3}[DWMY]$`)
	csPattern  = regexp.MustCompile(`^[A-Z0-9 _]*$`)
	dsPattern  = regexp.MustCompile(`^[+-]?([0-9]+\.?[0-9]*|\.[0-9]+)([eE][+-]?[0-9]+)?$`)
)

// maxLength holds the value length limit of length-bounded VRs.
var maxLength = map[dicom.VR]int{
	dicom.AE: 16,
	dicom.AS: 4,
	dicom.CS: 16,
	dicom.DS: 16,
	dicom.DT: 26,
	dicom.IS: 12,
	dicom.LO: 64,
	dicom.LT: 10240,
	dicom.SH: 16,
	dicom.ST: 1024,
	dicom.TM: 16,
	dicom.UI: 64,
}

// ValidUID reports whether s is a well-formed UID.
func ValidUID(s string) bool {
	return len(s) <= 64 && uidPattern.MatchString(s)
}

// ValidateValue checks one value of vr. Empty values are valid. VRs without
// rules are accepted.
func ValidateValue(vr dicom.VR, value string) error {
	v := value
	switch vr {
	case dicom.UT, dicom.LT, dicom.ST:
		// trailing padding only
		v = strings.TrimRight(value, " \x00")
	default:
		v = dicom.TrimValue(value)
	}
	if v == "" {
		return nil
	}
	if max, ok := maxLength[vr]; ok && utf8.RuneCountInString(v) > max {
		return fmt.Errorf("value exceeds %d characters", max)
	}

	switch vr {
	case dicom.AE:
		if strings.ContainsRune(v, '\\') || hasControl(v, false) {
			return fmt.Errorf("invalid characters")
		}
	case dicom.AS:
		if !asPattern.MatchString(v) {
			return fmt.Errorf("expected nnnD, nnnW, nnnM or nnnY")
		}
	case dicom.CS:
		if !csPattern.MatchString(v) {
			return fmt.Errorf("only uppercase letters, digits, space and underscore are allowed")
		}
	case dicom.DA:
		if _, err := dicom.ParseDA(v); err != nil {
			return err
		}
	case dicom.DT:
		if _, err := dicom.ParseDT(v); err != nil {
			return err
		}
	case dicom.TM:
		if !dicom.ValidTM(v) {
			return fmt.Errorf("invalid time %q", v)
		}
	case dicom.DS:
		if !dsPattern.MatchString(v) {
			return fmt.Errorf("invalid decimal string %q", v)
		}
	case dicom.IS:
		return checkInt(v, math.MinInt32, math.MaxInt32)
	case dicom.SS:
		return checkInt(v, math.MinInt16, math.MaxInt16)
	case dicom.US:
		return checkInt(v, 0, math.MaxUint16)
	case dicom.SL:
		return checkInt(v, math.MinInt32, math.MaxInt32)
	case dicom.UL:
		return checkInt(v, 0, math.MaxUint32)
	case dicom.FL:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid float %q", v)
		}
		if !math.IsInf(f, 0) && math.Abs(f) > math.MaxFloat32 {
			return fmt.Errorf("%q is out of range", v)
		}
	case dicom.FD:
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return fmt.Errorf("invalid float %q", v)
		}
	case dicom.LO, dicom.SH:
		if strings.ContainsRune(v, '\\') || hasControl(v, true) {
			return fmt.Errorf("invalid characters")
		}
	case dicom.LT, dicom.ST, dicom.UT:
		if hasControl(v, true) {
			return fmt.Errorf("invalid characters")
		}
	case dicom.PN:
		return checkPersonName(v)
	case dicom.UI:
		if !uidPattern.MatchString(v) {
			return fmt.Errorf("invalid uid %q", v)
		}
	}
	return nil
}

func checkInt(v string, min, max int64) error {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %q", v)
	}
	if n < min || n > max {
		return fmt.Errorf("%d is out of range [%d, %d]", n, min, max)
	}
	return nil
}

// hasControl reports control characters. Text VRs may carry ESC for
// character set switching and line breaks.
func hasControl(s string, text bool) bool {
	for _, r := range s {
		if r >= 0x20 && r != 0x7f {
			continue
		}
		if text && (r == 0x1b || r == '\n' || r == '\r' || r == '\t' || r == '\f') {
			continue
		}
		return true
	}
	return false
}

func checkPersonName(v string) error {
	groups := strings.Split(v, "=")
	if len(groups) > 3 {
		return fmt.Errorf("at most 3 component groups are allowed")
	}
	for _, g := range groups {
		if utf8.RuneCountInString(g) > 64 {
			return fmt.Errorf("component group exceeds 64 characters")
		}
		if strings.Count(g, "^") > 4 {
			return fmt.Errorf("at most 5 components are allowed")
		}
		if strings.ContainsRune(g, '\\') || hasControl(g, true) {
			return fmt.Errorf("invalid characters")
		}
	}
	return nil
}
