package dicom

import (
	"image-volume-builder/utils"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Header exposes keyword-keyed lookup over a decoded DICOM header,
// including tags nested inside sequence items. The builder algorithms
// depend only on this interface, never on a concrete decoder type.
type Header interface {
	// Lookup returns the decoded value for a tag keyword. Sequence values
	// are returned as []Header so callers can descend into the items.
	Lookup(keyword string) (any, bool)
}

// datasetHeader adapts a parsed dataset, or the element list of a single
// sequence item, to the Header interface.
type datasetHeader struct {
	elements []*dicom.Element
}

func newDatasetHeader(ds dicom.Dataset) Header {
	return &datasetHeader{elements: ds.Elements}
}

func (h *datasetHeader) Lookup(keyword string) (any, bool) {
	t, err := utils.GetTagByNameOrCode(keyword)
	if err != nil {
		return nil, false
	}
	return findTag(h.elements, t)
}

// findTag searches depth-first: the element list itself, then every item of
// every sequence. Pixel data never appears here since headers are decoded
// with pixel data skipped.
func findTag(elements []*dicom.Element, t tag.Tag) (any, bool) {
	for _, el := range elements {
		if el.Tag == t {
			value, err := utils.ElementValue(el)
			if err != nil {
				return nil, false
			}
			return convertSequences(value), true
		}
	}
	for _, el := range elements {
		if el.ValueRepresentation != tag.VRSequence {
			continue
		}
		for _, item := range el.Value.GetValue().([]*dicom.SequenceItemValue) {
			if value, ok := findTag(itemElements(item), t); ok {
				return value, true
			}
		}
	}
	return nil, false
}

func itemElements(item *dicom.SequenceItemValue) []*dicom.Element {
	return item.GetValue().([]*dicom.Element)
}

// convertSequences wraps sequence items as Headers; other values pass
// through unchanged.
func convertSequences(value any) any {
	items, ok := value.([]*dicom.SequenceItemValue)
	if !ok {
		return value
	}
	headers := make([]Header, len(items))
	for i, item := range items {
		headers[i] = &datasetHeader{elements: itemElements(item)}
	}
	return headers
}

// decodeHeaderFile parses only the header of a DICOM file, skipping the
// bulk pixel data.
func decodeHeaderFile(path string) (Header, error) {
	ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err != nil {
		return nil, err
	}
	return newDatasetHeader(ds), nil
}

func lookupString(h Header, keyword string) (string, bool) {
	value, ok := h.Lookup(keyword)
	if !ok {
		return "", false
	}
	return utils.FirstString(value)
}

func lookupStrings(h Header, keyword string) ([]string, bool) {
	value, ok := h.Lookup(keyword)
	if !ok {
		return nil, false
	}
	return utils.Strings(value)
}

func lookupFloats(h Header, keyword string) ([]float64, bool) {
	value, ok := h.Lookup(keyword)
	if !ok {
		return nil, false
	}
	return utils.Floats(value)
}

func lookupFloat(h Header, keyword string) (float64, bool) {
	value, ok := h.Lookup(keyword)
	if !ok {
		return 0, false
	}
	return utils.FirstFloat(value)
}

func lookupInt(h Header, keyword string) (int, bool) {
	value, ok := h.Lookup(keyword)
	if !ok {
		return 0, false
	}
	return utils.FirstInt(value)
}

func lookupHeaders(h Header, keyword string) ([]Header, bool) {
	value, ok := h.Lookup(keyword)
	if !ok {
		return nil, false
	}
	headers, ok := value.([]Header)
	return headers, ok
}
