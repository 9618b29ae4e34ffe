package utils

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// ElementValue unpacks a parsed element into plain Go values: string lists
// for textual VRs, numeric slices for numeric VRs, and the raw sequence
// items for SQ elements so callers can descend into them.
func ElementValue(element *dicom.Element) (any, error) {
	switch element.ValueRepresentation {
	case tag.VRStringList, tag.VRString, tag.VRDate:
		return element.Value.GetValue().([]string), nil
	case tag.VRBytes:
		return element.Value.GetValue().([]byte), nil
	case tag.VRUInt16List, tag.VRUInt32List:
		return element.Value.GetValue().([]int), nil
	case tag.VRInt16List:
		return element.Value.GetValue().([]int16), nil
	case tag.VRInt32List:
		return element.Value.GetValue().([]int32), nil
	case tag.VRFloat32List:
		return element.Value.GetValue().([]float32), nil
	case tag.VRFloat64List:
		return element.Value.GetValue().([]float64), nil
	case tag.VRSequence:
		return element.Value.GetValue().([]*dicom.SequenceItemValue), nil
	case tag.VRItem:
		return element.Value.GetValue().([]*dicom.Element), nil
	case tag.VRTagList:
		return element.Value.GetValue().([]tag.Tag), nil
	case tag.VRPixelData:
		return element.Value.GetValue(), nil
	}
	return nil, fmt.Errorf("unknown value representation %s", element.ValueRepresentation)
}

var tagCodeRegexp = regexp.MustCompile(`^[a-fA-F0-9]{8}$`)

// GetTagByNameOrCode resolves a DICOM tag from either its dictionary
// keyword (e.g. "StudyInstanceUID") or an 8-digit hex code ("0020000D").
func GetTagByNameOrCode(name string) (tag.Tag, error) {
	if tagCodeRegexp.MatchString(name) {
		group, err := strconv.ParseInt(name[0:4], 16, 0)
		if err != nil {
			return tag.Tag{}, fmt.Errorf("invalid tag name or code")
		}
		elem, err := strconv.ParseInt(name[4:], 16, 0)
		if err != nil {
			return tag.Tag{}, fmt.Errorf("invalid tag name or code")
		}
		return tag.Tag{Group: uint16(group), Element: uint16(elem)}, nil
	}

	info, err := tag.FindByName(name)
	if err != nil {
		return tag.Tag{}, fmt.Errorf("invalid tag name or code")
	}
	return info.Tag, nil
}
