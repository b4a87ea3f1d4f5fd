package dicom

import (
	"fmt"
	"strings"
	"time"
)

// ParseDA parses a DA value (YYYYMMDD). The pre-1993 form YYYY.MM.DD is
// accepted as well.
func ParseDA(s string) (time.Time, error) {
	s = TrimValue(s)
	if len(s) == 10 && s[4] == '.' && s[7] == '.' {
		s = s[0:4] + s[5:7] + s[8:10]
	}
	if len(s) != 8 || !allDigits(s) {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	t, err := time.Parse("20060102", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t, nil
}

// ParseDT parses a DT value: YYYY[MM[DD[HH[MM[SS[.F{1-6}]]]]]][&ZZXX].
// A missing offset is read as UTC.
func ParseDT(s string) (time.Time, error) {
	s = TrimValue(s)
	loc := time.UTC
	if i := strings.IndexAny(s, "+-"); i >= 0 {
		off := s[i:]
		s = s[:i]
		if len(off) != 5 || !allDigits(off[1:]) {
			return time.Time{}, fmt.Errorf("invalid datetime offset %q", off)
		}
		hours := int(off[1]-'0')*10 + int(off[2]-'0')
		mins := int(off[3]-'0')*10 + int(off[4]-'0')
		if hours > 14 || mins > 59 {
			return time.Time{}, fmt.Errorf("invalid datetime offset %q", off)
		}
		secs := hours*3600 + mins*60
		if off[0] == '-' {
			secs = -secs
		}
		loc = time.FixedZone(off, secs)
	}

	whole, frac, hasFrac := strings.Cut(s, ".")
	switch len(whole) {
	case 4, 6, 8, 10, 12, 14:
	default:
		return time.Time{}, fmt.Errorf("invalid datetime %q", s)
	}
	if !allDigits(whole) {
		return time.Time{}, fmt.Errorf("invalid datetime %q", s)
	}
	if hasFrac && (len(whole) != 14 || len(frac) == 0 || len(frac) > 6 || !allDigits(frac)) {
		return time.Time{}, fmt.Errorf("invalid datetime %q", s)
	}

	layout := "20060102150405"[:len(whole)]
	t, err := time.ParseInLocation(layout, whole, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid datetime %q", s)
	}
	if hasFrac {
		ns := 0
		for i := 0; i < 9; i++ {
			ns *= 10
			if i < len(frac) {
				ns += int(frac[i] - '0')
			}
		}
		t = t.Add(time.Duration(ns))
	}
	return t, nil
}

// ValidTM reports whether s is a valid TM value: HH[MM[SS[.F{1-6}]]].
// The legacy HH:MM:SS form is also accepted.
func ValidTM(s string) bool {
	s = strings.ReplaceAll(TrimValue(s), ":", "")
	whole, frac, hasFrac := strings.Cut(s, ".")
	switch len(whole) {
	case 2, 4, 6:
	default:
		return false
	}
	if !allDigits(whole) {
		return false
	}
	if hasFrac && (len(whole) != 6 || len(frac) == 0 || len(frac) > 6 || !allDigits(frac)) {
		return false
	}
	if (whole[0]-'0')*10+(whole[1]-'0') > 23 {
		return false
	}
	if len(whole) >= 4 && (whole[2]-'0')*10+(whole[3]-'0') > 59 {
		return false
	}
	// 60 allows for leap seconds
	if len(whole) == 6 && (whole[4]-'0')*10+(whole[5]-'0') > 60 {
		return false
	}
	return true
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}
