package index

import (
	"fmt"
	"strconv"
	"time"

	"github.com/syntrixbase/medstore/internal/dicom"
)

// Column limits of the string and person name value tables.
const (
	MaxStringValueLength     = 64
	MaxPersonNameValueLength = 324
)

// TagValue is the typed value of one extended query tag for one instance.
// Only the field matching Family is set.
type TagValue struct {
	Tag    ExtendedQueryTag
	Family dicom.Family
	Text   string
	Long   int64
	Double float64
	Time   time.Time
}

// Value returns the populated field.
func (v TagValue) Value() any {
	switch v.Family {
	case dicom.FamilyLong:
		return v.Long
	case dicom.FamilyDouble:
		return v.Double
	case dicom.FamilyDateTime:
		return v.Time
	}
	return v.Text
}

// ExtractValues reads the value of every tag present in ds. Tags whose value
// cannot be converted are reported in failed and skipped; absent or empty
// attributes are skipped silently.
func ExtractValues(ds *dicom.Dataset, tags []ExtendedQueryTag) (values []TagValue, failed map[int32]error) {
	for _, t := range tags {
		v, ok, err := ExtractValue(ds, t)
		if err != nil {
			if failed == nil {
				failed = make(map[int32]error)
			}
			failed[t.Key] = err
			continue
		}
		if ok {
			values = append(values, v)
		}
	}
	return values, failed
}

// ExtractValue converts the first value of tag in ds. ok is false when the
// attribute is absent or empty.
func ExtractValue(ds *dicom.Dataset, tag ExtendedQueryTag) (TagValue, bool, error) {
	e, found := ds.Get(tag.Tag())
	if !found {
		return TagValue{}, false, nil
	}
	raw := e.First()
	if raw == "" {
		return TagValue{}, false, nil
	}
	if e.VR != tag.VR {
		return TagValue{}, false, fmt.Errorf("%s: value representation %s does not match %s", tag.Path, e.VR, tag.VR)
	}

	v := TagValue{Tag: tag, Family: tag.VR.Family()}
	switch v.Family {
	case dicom.FamilyString:
		if len(raw) > MaxStringValueLength {
			return TagValue{}, false, fmt.Errorf("%s: value exceeds %d characters", tag.Path, MaxStringValueLength)
		}
		v.Text = raw
	case dicom.FamilyPersonName:
		if len(raw) > MaxPersonNameValueLength {
			return TagValue{}, false, fmt.Errorf("%s: value exceeds %d characters", tag.Path, MaxPersonNameValueLength)
		}
		v.Text = raw
	case dicom.FamilyLong:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return TagValue{}, false, fmt.Errorf("%s: %w", tag.Path, err)
		}
		v.Long = n
	case dicom.FamilyDouble:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return TagValue{}, false, fmt.Errorf("%s: %w", tag.Path, err)
		}
		v.Double = f
	case dicom.FamilyDateTime:
		var (
			t   time.Time
			err error
		)
		if tag.VR == dicom.DA {
			t, err = dicom.ParseDA(raw)
		} else {
			t, err = dicom.ParseDT(raw)
		}
		if err != nil {
			return TagValue{}, false, fmt.Errorf("%s: %w", tag.Path, err)
		}
		v.Time = t.UTC()
	default:
		return TagValue{}, false, fmt.Errorf("%s: %w", tag.Path, ErrUnsupportedValueRepresentation)
	}
	return v, true, nil
}

// LevelKey returns the series and SOP UIDs a value is stored under for the
// tag's level: both empty at study level, SOP empty at series level.
func LevelKey(id InstanceIdentifier, level dicom.Level) (series, sop string) {
	switch level {
	case dicom.LevelStudy:
		return "", ""
	case dicom.LevelSeries:
		return id.SeriesInstanceUID, ""
	}
	return id.SeriesInstanceUID, id.SOPInstanceUID
}
