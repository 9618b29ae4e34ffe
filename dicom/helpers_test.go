package dicom

import (
	"fmt"
	"io"
	"strconv"

	"github.com/sirupsen/logrus"
)

// mapHeader is a Header backed by a plain map, so assembly logic can be
// driven without constructing real DICOM files.
type mapHeader map[string]any

func (h mapHeader) Lookup(keyword string) (any, bool) {
	v, ok := h[keyword]
	return v, ok
}

func newTestBuilder(headers map[string]Header, pixels map[string]*pixelSet) *Builder {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return &Builder{
		log: logger.WithField("module", "dicom"),
		decodeHeader: func(path string) (Header, error) {
			h, ok := headers[path]
			if !ok {
				return nil, fmt.Errorf("unreadable header")
			}
			return h, nil
		},
		readPixels: func(path string) (*pixelSet, error) {
			p, ok := pixels[path]
			if !ok {
				return nil, fmt.Errorf("unreadable pixel data")
			}
			return p, nil
		},
		workers: 2,
	}
}

func sliceHeader(study, series string, instance int, extra map[string]any) mapHeader {
	h := mapHeader{
		"StudyInstanceUID":  study,
		"SeriesInstanceUID": series,
		"SOPClassUID":       "1.2.840.10008.5.1.4.1.1.2",
		"InstanceNumber":    strconv.Itoa(instance),
	}
	for k, v := range extra {
		h[k] = v
	}
	return h
}

// grayFrame builds a single-sample frame from flat pixel values.
func grayFrame(values ...int) [][]int {
	frame := make([][]int, len(values))
	for i, v := range values {
		frame[i] = []int{v}
	}
	return frame
}

func grayPixels(rows, cols int, frames ...[][]int) *pixelSet {
	return &pixelSet{rows: rows, cols: cols, samples: 1, frames: frames}
}
