package dicom

import (
	"fmt"
	"math"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"image-volume-builder/models"
)

// rescaleTolerance decides whether a slope/intercept pair is the identity
// transform. Values this close to 1/0 come from decimal-string round-trips.
const rescaleTolerance = 1e-9

// pixelSet is the decoded pixel data of one file: frames of rows*cols
// pixels, each pixel a slice of samples.
type pixelSet struct {
	rows, cols, samples int
	frames              [][][]int
}

// readPixelsFromFile fully parses a file and unpacks its native frames.
// Encapsulated transfer syntaxes would need a codec, which is out of scope.
func readPixelsFromFile(path string) (*pixelSet, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, err
	}
	el, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("missing pixel data")
	}
	info := dicom.MustGetPixelDataInfo(el.Value)

	set := &pixelSet{samples: 1}
	for _, fr := range info.Frames {
		if fr.Encapsulated {
			return nil, fmt.Errorf("encapsulated pixel data is not supported")
		}
		nd := fr.NativeData
		if set.rows == 0 {
			set.rows, set.cols = nd.Rows, nd.Cols
			if len(nd.Data) > 0 && len(nd.Data[0]) > 0 {
				set.samples = len(nd.Data[0])
			}
		}
		set.frames = append(set.frames, nd.Data)
	}
	return set, nil
}

// groupNeedsRescale reports whether any file carries a non-identity modality
// rescale. One rescaled file switches the whole volume to float output so
// every slice lives on the same intensity scale.
func groupNeedsRescale(g *VolumeGroup) bool {
	for _, f := range g.files {
		slope, intercept := rescaleParameters(f.header)
		if math.Abs(slope-1) > rescaleTolerance || math.Abs(intercept) > rescaleTolerance {
			return true
		}
	}
	return false
}

func rescaleParameters(h Header) (slope, intercept float64) {
	slope = 1
	if v, ok := lookupFloat(h, "RescaleSlope"); ok {
		slope = v
	}
	if v, ok := lookupFloat(h, "RescaleIntercept"); ok {
		intercept = v
	}
	return slope, intercept
}

// assemblePixels decodes every file in sorted order and scatters the frames
// into a buffer shaped (time?, slices, rows, cols, samples?). Frame idx maps
// to slice idx%nSlices, mirrored when the slice order runs against the scan
// axis, and timepoint idx/nSlices.
func (b *Builder) assemblePixels(g *VolumeGroup, geo *models.Geometry) (*models.VoxelBuffer, error) {
	rescale := groupNeedsRescale(g)
	nSlices := g.nSlices
	nTime := g.nTime
	totalFrames := len(g.files) * g.nSlicesPerFile

	var buf *models.VoxelBuffer
	rows, cols, samples := 0, 0, 0
	idx := 0
	for _, f := range g.files {
		pixels, err := b.readPixels(f.path)
		if err != nil {
			return nil, err
		}
		if buf == nil {
			rows, cols, samples = pixels.rows, pixels.cols, pixels.samples
			var shape []int
			if nTime > 1 {
				shape = append(shape, nTime)
			}
			shape = append(shape, nSlices, rows, cols)
			if samples > 1 {
				shape = append(shape, samples)
			}
			if rescale {
				buf = models.NewFloat32Buffer(shape...)
			} else {
				buf = models.NewInt16Buffer(shape...)
			}
			buf.IsVector = samples > 1
		} else if pixels.rows != rows || pixels.cols != cols || pixels.samples != samples {
			return nil, fmt.Errorf("pixel dimensions differ between files")
		}

		slope, intercept := rescaleParameters(f.header)
		for _, frame := range pixels.frames {
			// A file carrying more frames than its header declared would
			// scatter past the buffer.
			if idx >= totalFrames {
				return nil, fmt.Errorf("expected %d frames, found more", totalFrames)
			}
			z := idx % nSlices
			if geo.SliceOrderSign < 0 {
				z = nSlices - 1 - z
			}
			t := idx / nSlices
			offset := (t*nSlices + z) * rows * cols * samples
			for p, values := range frame {
				for s, v := range values {
					i := offset + p*samples + s
					if rescale {
						buf.Float32[i] = float32(slope*float64(v) + intercept)
					} else {
						buf.Int16[i] = int16(v)
					}
				}
			}
			idx++
		}
	}

	if idx != totalFrames {
		return nil, fmt.Errorf("expected %d frames, decoded %d", totalFrames, idx)
	}
	return buf, nil
}

// invertMonochrome1 flips intensities in place so darker means lower, as for
// MONOCHROME2. The reflection offset min+max keeps every value inside the
// original range, so the int16 path cannot overflow. The offset is returned
// so window centers can be reflected the same way.
func invertMonochrome1(buf *models.VoxelBuffer) float64 {
	min, max := buf.MinMax()
	offset := min + max
	if buf.IsFloat() {
		o := float32(offset)
		for i := range buf.Float32 {
			buf.Float32[i] = o - buf.Float32[i]
		}
	} else {
		o := int32(offset)
		for i := range buf.Int16 {
			buf.Int16[i] = int16(o - int32(buf.Int16[i]))
		}
	}
	return offset
}
