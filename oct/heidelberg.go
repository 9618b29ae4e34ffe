package oct

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"image-volume-builder/models"
)

// Record marker and type codes of the Heidelberg stream format. Records are
// found by scanning for the marker; every occurrence is visited since the
// stream carries no reliable directory.
const (
	e2eMarker          = "MDbData"
	e2eDescriptorSize  = 60
	e2eImageHeaderSize = 20

	e2eTypeLaterality = 11
	e2eTypeImage      = 1073741824

	e2eIndFundus = 0
	e2eIndOct    = 1
)

// Published physical defaults for Heidelberg scans; the stream itself
// carries no usable spacing information.
const (
	e2eExtentXMM     = 6.0
	e2eResolutionYMM = 0.0039
	e2eExtentZMM     = 4.5
)

// e2eDescriptor is the fixed-size record header found at every marker.
type e2eDescriptor struct {
	patientID  uint32
	studyID    uint32
	seriesID   uint32
	sliceID    int32
	ind        uint16
	recordType uint32
}

func parseE2EDescriptor(raw []byte) e2eDescriptor {
	return e2eDescriptor{
		patientID:  binary.LittleEndian.Uint32(raw[32:36]),
		studyID:    binary.LittleEndian.Uint32(raw[36:40]),
		seriesID:   binary.LittleEndian.Uint32(raw[40:44]),
		sliceID:    int32(binary.LittleEndian.Uint32(raw[44:48])),
		ind:        binary.LittleEndian.Uint16(raw[48:50]),
		recordType: binary.LittleEndian.Uint32(raw[52:56]),
	}
}

func (d e2eDescriptor) volumeKey() string {
	return fmt.Sprintf("%d_%d_%d", d.patientID, d.studyID, d.seriesID)
}

type e2eSlice struct {
	width, height int
	values        []float32
}

// e2eVolume accumulates OCT slices keyed by slot; missing slots stay zero.
type e2eVolume struct {
	key    string
	eye    models.EyeChoice
	slices map[int]*e2eSlice
}

type e2eFundus struct {
	key           string
	eye           models.EyeChoice
	width, height int
	pixels        []byte
}

// scanE2E walks every marker occurrence in the stream. The laterality in
// effect when an image record is visited is the last one decoded, carried
// as an explicit accumulator. Malformed or truncated records are skipped;
// a stream without a single image record is an error.
func scanE2E(data []byte) ([]*e2eVolume, []*e2eFundus, error) {
	marker := []byte(e2eMarker)
	eye := models.EyeUnknown
	volumes := map[string]*e2eVolume{}
	var volumeOrder []string
	funduses := map[string]*e2eFundus{}
	var fundusOrder []string

	pos := 0
	for {
		i := bytes.Index(data[pos:], marker)
		if i < 0 {
			break
		}
		start := pos + i
		pos = start + 1
		if start+e2eDescriptorSize > len(data) {
			continue
		}
		d := parseE2EDescriptor(data[start : start+e2eDescriptorSize])
		payload := data[start+e2eDescriptorSize:]

		switch d.recordType {
		case e2eTypeLaterality:
			eye = decodeLaterality(payload)
		case e2eTypeImage:
			if len(payload) < e2eImageHeaderSize {
				continue
			}
			width := int(binary.LittleEndian.Uint32(payload[12:16]))
			height := int(binary.LittleEndian.Uint32(payload[16:20]))
			body := payload[e2eImageHeaderSize:]
			if width <= 0 || height <= 0 {
				continue
			}

			switch d.ind {
			case e2eIndOct:
				slot := int(d.sliceID)/2 - 1
				n := width * height
				if slot < 0 || len(body) < 2*n {
					continue
				}
				values := make([]float32, n)
				for i := range values {
					word := binary.LittleEndian.Uint16(body[2*i:])
					values[i] = float32(applyGamma(DecodeCustomFloat(word)))
				}
				v := volumes[d.volumeKey()]
				if v == nil {
					v = &e2eVolume{key: d.volumeKey(), slices: map[int]*e2eSlice{}}
					volumes[v.key] = v
					volumeOrder = append(volumeOrder, v.key)
				}
				v.eye = eye
				v.slices[slot] = &e2eSlice{width: width, height: height, values: values}
			case e2eIndFundus:
				n := width * height
				if len(body) < n {
					continue
				}
				f := funduses[d.volumeKey()]
				if f == nil {
					f = &e2eFundus{key: d.volumeKey()}
					funduses[f.key] = f
					fundusOrder = append(fundusOrder, f.key)
				}
				f.eye = eye
				f.width, f.height = width, height
				f.pixels = body[:n]
			}
		}
	}

	if len(volumeOrder) == 0 && len(fundusOrder) == 0 {
		return nil, nil, fmt.Errorf("no image records found")
	}

	orderedVolumes := make([]*e2eVolume, len(volumeOrder))
	for i, key := range volumeOrder {
		orderedVolumes[i] = volumes[key]
	}
	orderedFunduses := make([]*e2eFundus, len(fundusOrder))
	for i, key := range fundusOrder {
		orderedFunduses[i] = funduses[key]
	}
	return orderedVolumes, orderedFunduses, nil
}

// decodeLaterality reads a type-11 record body: a 14-byte label, then one
// byte holding 'R' or 'L'. Anything unexpected means unknown, never an
// error.
func decodeLaterality(payload []byte) models.EyeChoice {
	if len(payload) < 15 {
		return models.EyeUnknown
	}
	switch payload[14] {
	case 'R':
		return models.EyeRight
	case 'L':
		return models.EyeLeft
	default:
		return models.EyeUnknown
	}
}

// buffer assembles the accumulated slices into a dense volume shaped
// (slices, width, height). Slots never written stay zero.
func (v *e2eVolume) buffer() (*models.VoxelBuffer, error) {
	maxSlot := -1
	width, height := 0, 0
	for slot, s := range v.slices {
		if slot > maxSlot {
			maxSlot = slot
		}
		if width == 0 {
			width, height = s.width, s.height
		} else if s.width != width || s.height != height {
			return nil, fmt.Errorf("slice dimensions differ within volume %s", v.key)
		}
	}
	nSlices := maxSlot + 1
	buf := models.NewFloat32Buffer(nSlices, width, height)
	for slot, s := range v.slices {
		copy(buf.Float32[slot*width*height:], s.values)
	}
	return buf, nil
}
