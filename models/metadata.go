package models

import (
	"fmt"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
)

// ExtraMetaData describes one whitelisted auxiliary header field and the
// DICOM value representation (VR) class used to validate it.
type ExtraMetaData struct {
	Keyword      string
	VR           string
	FieldName    string
	DefaultValue string
}

// ExtraMetadata is the fixed whitelist of VR-classed auxiliary fields that
// may be attached to an output record.
var ExtraMetadata = []ExtraMetaData{
	{Keyword: "PatientID", VR: "LO", FieldName: "patient_id"},
	{Keyword: "PatientName", VR: "PN", FieldName: "patient_name"},
	{Keyword: "PatientBirthDate", VR: "DA", FieldName: "patient_birth_date"},
	{Keyword: "PatientAge", VR: "AS", FieldName: "patient_age"},
	{Keyword: "PatientSex", VR: "CS", FieldName: "patient_sex"},
	{Keyword: "StudyDate", VR: "DA", FieldName: "study_date"},
	{Keyword: "StudyInstanceUID", VR: "UI", FieldName: "study_instance_uid"},
	{Keyword: "SeriesInstanceUID", VR: "UI", FieldName: "series_instance_uid"},
	{Keyword: "StudyDescription", VR: "LO", FieldName: "study_description"},
	{Keyword: "SeriesDescription", VR: "LO", FieldName: "series_description"},
}

var (
	ageStringRegexp  = regexp.MustCompile(`^\d{3}[DWMY]$`)
	codeStringRegexp = regexp.MustCompile(`^[A-Z0-9 _]{0,16}$`)
	dateRegexp       = regexp.MustCompile(`^\d{8}$`)
	longStringRegexp = regexp.MustCompile(`^[^\\]{0,64}$`)
	personRegexp     = regexp.MustCompile(`^[^\\]{0,324}$`)
	uidRegexp        = regexp.MustCompile(`^[0-9.]{0,64}$`)
)

// ValidateValue checks a value against the VR class of the field. Empty
// values are always accepted; they are skipped by the writers anyway.
func (md ExtraMetaData) ValidateValue(value string) error {
	if value == "" {
		return nil
	}
	switch md.VR {
	case "AS":
		return validation.Validate(value, validation.Match(ageStringRegexp))
	case "CS":
		return validation.Validate(value, validation.Match(codeStringRegexp))
	case "DA":
		// The pattern rejects garbage, the date rule rejects e.g. Feb 29
		// of a non-leap year.
		return validation.Validate(value,
			validation.Match(dateRegexp),
			validation.Date("20060102"),
		)
	case "LO":
		return validation.Validate(value, validation.Match(longStringRegexp))
	case "PN":
		return validation.Validate(value, validation.Match(personRegexp))
	case "UI":
		return validation.Validate(value, validation.Match(uidRegexp))
	default:
		return fmt.Errorf("unknown value representation %s", md.VR)
	}
}

const floatPattern = `[-+]?[0-9]*\.?[0-9]+([eE][-+]?[0-9]+)?`

var (
	floatRegexp      = regexp.MustCompile(`^` + floatPattern + `$`)
	floatListRegexp  = regexp.MustCompile(`^(` + floatPattern + `)(\s` + floatPattern + `)*$`)
	floatArrayRegexp = regexp.MustCompile(`^\[(` + floatPattern + `,\s?)*` + floatPattern + `]$`)
	floatOrArrayRegexp = regexp.MustCompile(
		`(^` + floatPattern + `$)|(^\[(` + floatPattern + `,\s?)*` + floatPattern + `]$)`)
	contentTimesRegexp = regexp.MustCompile(
		`^((2[0-3]|[0-1]\d)[0-5]\d[0-5]\d(\.\d\d\d)?)` +
			`(\s(2[0-3]|[0-1]\d)[0-5]\d[0-5]\d(\.\d\d\d)?)*$`)
	lateralityRegexp = regexp.MustCompile(`^.{0,128}$`)
)

// additionalPatterns maps the non-VR whitelisted metadata keys to their
// format rules. The VR-classed keys of ExtraMetadata are validated through
// their VR rules instead.
var additionalPatterns = map[string]*regexp.Regexp{
	"Laterality":     lateralityRegexp,
	"SliceThickness": floatRegexp,
	"Exposures":      floatListRegexp,
	"ContentTimes":   contentTimesRegexp,
	"WindowCenter":   floatOrArrayRegexp,
	"WindowWidth":    floatOrArrayRegexp,
}

// vrRuleFor returns the VR definition for a whitelisted keyword, if any.
func vrRuleFor(keyword string) (ExtraMetaData, bool) {
	for _, md := range ExtraMetadata {
		if md.Keyword == keyword {
			return md, true
		}
	}
	return ExtraMetaData{}, false
}

var perTimepointKeys = []string{"Exposures", "ContentTimes"}

// CleanMetadata validates auxiliary metadata against the whitelist.
// Non-whitelisted keys and invalid values are dropped; a warning per dropped
// field is returned. nTime is the number of timepoints of the parent image
// (1 for 3D images) and drives the per-timepoint cross-field rule.
func CleanMetadata(metadata map[string]string, nTime int) (map[string]string, []string) {
	cleaned := map[string]string{}
	var warnings []string

	for key, value := range metadata {
		pattern, patterned := additionalPatterns[key]
		_, vrClassed := vrRuleFor(key)
		if !patterned && !vrClassed {
			warnings = append(warnings, fmt.Sprintf("field %s is not a known metadata field", key))
			continue
		}
		if err := validateMetadataValue(key, pattern, value); err != nil {
			warnings = append(warnings, fmt.Sprintf("field %s dropped: %v", key, err))
			continue
		}
		cleaned[key] = value
	}

	for _, key := range perTimepointKeys {
		value, ok := cleaned[key]
		if !ok {
			continue
		}
		if err := validateTimepointCount(key, value, nTime); err != nil {
			warnings = append(warnings, fmt.Sprintf("field %s dropped: %v", key, err))
			delete(cleaned, key)
		}
	}

	if err := validateWindowSettings(cleaned); err != nil {
		warnings = append(warnings, fmt.Sprintf("window settings dropped: %v", err))
		delete(cleaned, "WindowCenter")
		delete(cleaned, "WindowWidth")
	}

	return cleaned, warnings
}

func validateMetadataValue(key string, pattern *regexp.Regexp, value string) error {
	if md, ok := vrRuleFor(key); ok {
		return md.ValidateValue(value)
	}
	if pattern != nil && !pattern.MatchString(value) {
		return fmt.Errorf("value %q does not match pattern %s", value, pattern)
	}
	return nil
}

// validateTimepointCount enforces one entry per timepoint for list-valued
// temporal fields.
func validateTimepointCount(key, value string, nTime int) error {
	if nTime < 1 {
		nTime = 1
	}
	n := len(strings.Fields(value))
	if n != nTime {
		return fmt.Errorf("found %d values for %s, but expected %d (1/timepoint)", n, key, nTime)
	}
	return nil
}

// validateWindowSettings requires WindowCenter and WindowWidth to agree when
// either is array-valued. A width is a span rather than a location, so only
// the lengths are compared.
func validateWindowSettings(cleaned map[string]string) error {
	center, hasCenter := cleaned["WindowCenter"]
	width, hasWidth := cleaned["WindowWidth"]
	if !hasCenter || !hasWidth {
		if hasCenter && floatArrayRegexp.MatchString(center) {
			return fmt.Errorf("WindowCenter is array-valued but WindowWidth is missing")
		}
		if hasWidth && floatArrayRegexp.MatchString(width) {
			return fmt.Errorf("WindowWidth is array-valued but WindowCenter is missing")
		}
		return nil
	}

	centerIsArray := floatArrayRegexp.MatchString(center)
	widthIsArray := floatArrayRegexp.MatchString(width)
	if !centerIsArray && !widthIsArray {
		return nil
	}
	if centerIsArray != widthIsArray {
		return fmt.Errorf("WindowCenter and WindowWidth are of different formats")
	}
	if len(strings.Split(center, ",")) != len(strings.Split(width, ",")) {
		return fmt.Errorf("WindowCenter and WindowWidth should contain an equal number of values")
	}
	return nil
}
