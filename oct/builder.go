package oct

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"image-volume-builder/models"
)

const invalidFileMessage = "Not a valid OCT file (supported formats: .fds,.fda,.e2e)"

func formatError(message string) string {
	return "OCT image builder: " + message
}

// Builder decodes Topcon (.fds/.fda) and Heidelberg (.e2e) OCT containers.
// File reading is injectable so decoding can be driven from in-memory
// fixtures.
type Builder struct {
	log      *logrus.Entry
	readFile func(path string) ([]byte, error)
}

func NewBuilder(logger *logrus.Logger) *Builder {
	return &Builder{
		log:      logger.WithField("module", "oct"),
		readFile: os.ReadFile,
	}
}

// Build decodes each file independently. A file that fails to decode gets a
// single error entry; the rest of the batch is unaffected.
func (b *Builder) Build(files []string) ([]*models.Image, models.FileErrors) {
	fileErrors := models.FileErrors{}
	var images []*models.Image

	sorted := append([]string(nil), files...)
	sort.Strings(sorted)
	for _, path := range sorted {
		decoded, err := b.buildFile(path)
		if err != nil {
			b.log.WithField("file", path).Debug(err)
			fileErrors.Add(path, formatError(invalidFileMessage))
			continue
		}
		images = append(images, decoded...)
	}
	return images, fileErrors
}

// buildFile sniffs the container type from the first bytes and dispatches.
func (b *Builder) buildFile(path string) ([]*models.Image, error) {
	data, err := b.readFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < 7 {
		return nil, fmt.Errorf("file too short")
	}
	signature := data[:7]
	switch {
	case bytes.Contains(signature, []byte("FDS")), bytes.Contains(signature, []byte("FDA")):
		return b.buildTopcon(path, data)
	case bytes.Contains(signature, []byte("CMD")):
		return b.buildHeidelberg(path, data)
	default:
		return nil, fmt.Errorf("unrecognized container signature")
	}
}

func (b *Builder) buildTopcon(path string, data []byte) ([]*models.Image, error) {
	index, err := buildChunkIndex(data)
	if err != nil {
		return nil, err
	}
	dims, err := decodeTopconDimensions(data, index)
	if err != nil {
		return nil, err
	}
	buf, err := decodeTopconVolume(data, index)
	if err != nil {
		return nil, err
	}

	volume := models.NewImage(models.KindOctVolume, filepath.Base(path))
	volume.Buffer = buf
	volume.Geometry = volumeGeometry(dims, buf.Shape[0], buf.Shape[2])
	volume.SpacingValid = true
	volume.ConsumedFiles = []string{path}
	images := []*models.Image{volume}

	fundusBuf, err := decodeTopconFundus(data, index)
	if err != nil {
		// .fda files store the fundus as an encoded photograph instead of
		// the raw @IMG_OBS chunk, so absence is normal.
		b.log.WithField("file", path).Debug(err)
		return images, nil
	}
	fundus := models.NewImage(models.KindOctFundus, fundusName(path))
	fundus.Buffer = fundusBuf
	fundus.Geometry = planarGeometry()
	fundus.ConsumedFiles = []string{path}
	return append(images, fundus), nil
}

func (b *Builder) buildHeidelberg(path string, data []byte) ([]*models.Image, error) {
	volumes, funduses, err := scanE2E(data)
	if err != nil {
		return nil, err
	}
	dims := octDimensions{
		extentXMM:     e2eExtentXMM,
		resolutionYMM: e2eResolutionYMM,
		extentZMM:     e2eExtentZMM,
	}

	var images []*models.Image
	for _, v := range volumes {
		buf, err := v.buffer()
		if err != nil {
			return nil, err
		}
		name := filepath.Base(path)
		if len(volumes) > 1 {
			// One file may hold several series (e.g. both eyes); keying the
			// name keeps their output artifacts apart.
			name = keyedName(path, v.key)
		}
		img := models.NewImage(models.KindOctVolume, name)
		img.Buffer = buf
		img.Geometry = volumeGeometry(dims, buf.Shape[0], buf.Shape[2])
		img.SpacingValid = true
		img.Eye = v.eye
		img.ConsumedFiles = []string{path}
		images = append(images, img)
	}
	for _, f := range funduses {
		buf := models.NewInt16Buffer(f.height, f.width)
		for i, px := range f.pixels {
			buf.Int16[i] = int16(px)
		}
		name := fundusName(path)
		if len(funduses) > 1 {
			name = fundusName(keyedName(path, f.key))
		}
		img := models.NewImage(models.KindOctFundus, name)
		img.Buffer = buf
		img.Geometry = planarGeometry()
		img.Eye = f.eye
		img.ConsumedFiles = []string{path}
		images = append(images, img)
	}
	return images, nil
}

// volumeGeometry spreads the physical scan extents over the voxel grid: the
// x extent over the in-plane columns and the z extent over the slices. The
// y resolution is already per sample.
func volumeGeometry(dims octDimensions, nSlices, cols int) *models.Geometry {
	return &models.Geometry{
		Origin: []float64{0, 0, 0},
		Spacing: []float64{
			dims.extentXMM / float64(cols),
			dims.resolutionYMM,
			dims.extentZMM / float64(nSlices),
		},
		Direction: identity(3),
	}
}

// planarGeometry is the unit placement of a 2D image without calibration.
func planarGeometry() *models.Geometry {
	return &models.Geometry{
		Origin:    []float64{0, 0},
		Spacing:   []float64{1, 1},
		Direction: identity(2),
	}
}

func identity(dim int) []float64 {
	out := make([]float64, dim*dim)
	for i := 0; i < dim; i++ {
		out[i*dim+i] = 1
	}
	return out
}

func fundusName(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "_fundus" + ext
}

// keyedName inserts a series key before the extension.
func keyedName(path, key string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "_" + key + ext
}
