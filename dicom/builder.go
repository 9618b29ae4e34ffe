package dicom

import (
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"image-volume-builder/models"
	"image-volume-builder/utils"
)

// Builder reconstructs volumes from loose DICOM files. Header decoding and
// pixel reading are injectable so the assembly logic can be driven from
// in-memory fixtures.
type Builder struct {
	log          *logrus.Entry
	decodeHeader func(path string) (Header, error)
	readPixels   func(path string) (*pixelSet, error)
	workers      int
}

// NewBuilder returns a Builder backed by on-disk parsing. workers bounds the
// number of groups assembled concurrently; <= 0 means one per CPU.
func NewBuilder(logger *logrus.Logger, workers int) *Builder {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Builder{
		log:          logger.WithField("module", "dicom"),
		decodeHeader: decodeHeaderFile,
		readPixels:   readPixelsFromFile,
		workers:      workers,
	}
}

// Build partitions the files into volume groups and assembles each one.
// Failures never abort the batch: every file that did not end up in an
// image has at least one entry in the returned error map.
func (b *Builder) Build(files []string) ([]*models.Image, models.FileErrors) {
	fileErrors := models.FileErrors{}
	groups := b.collectGroups(files, fileErrors)

	images := make([]*models.Image, len(groups))
	groupErrors := make([]models.FileErrors, len(groups))
	sem := make(chan struct{}, b.workers)
	var wg sync.WaitGroup
	for i, g := range groups {
		wg.Add(1)
		go func(i int, g *VolumeGroup) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			groupErrors[i] = models.FileErrors{}
			images[i] = b.buildGroup(g, groupErrors[i])
		}(i, g)
	}
	wg.Wait()

	var out []*models.Image
	for i := range groups {
		fileErrors.Merge(groupErrors[i])
		if images[i] != nil {
			out = append(out, images[i])
		}
	}
	return out, fileErrors
}

func (b *Builder) buildGroup(g *VolumeGroup, fileErrors models.FileErrors) *models.Image {
	image, err := b.assembleGroup(g)
	if err != nil {
		b.log.WithField("group", g.name).Warn(err)
		for _, path := range g.paths() {
			fileErrors.Add(path, formatError(err.Error()))
		}
		return nil
	}
	b.log.WithFields(logrus.Fields{
		"group": g.name,
		"files": len(g.files),
	}).Info("assembled volume")
	return image
}

func (b *Builder) assembleGroup(g *VolumeGroup) (*models.Image, error) {
	if err := g.sortByInstanceNumber(); err != nil {
		return nil, err
	}
	geo, err := computeGeometry(g)
	if err != nil {
		return nil, err
	}
	buf, err := b.assemblePixels(g, geo)
	if err != nil {
		return nil, err
	}

	image := models.NewImage(models.KindDicom, g.name)
	image.Buffer = buf
	image.Geometry = geo
	image.SpacingValid = true
	image.ConsumedFiles = g.paths()

	metadata, err := b.collectMetadata(g, geo, buf)
	if err != nil {
		return nil, err
	}
	nTime := g.nTime
	if nTime == 0 {
		nTime = 1
	}
	cleaned, warnings := models.CleanMetadata(metadata, nTime)
	for _, warning := range warnings {
		b.log.WithField("group", g.name).Warn(warning)
	}
	image.Metadata = cleaned
	return image, nil
}

// collectMetadata gathers auxiliary header fields from the reference file,
// applying the MONOCHROME1 inversion to the voxel buffer and the window
// centers together so the two stay consistent.
func (b *Builder) collectMetadata(g *VolumeGroup, geo *models.Geometry, buf *models.VoxelBuffer) (map[string]string, error) {
	ref := g.ref()
	metadata := map[string]string{}

	inverted := false
	offset := 0.0
	if photo, ok := lookupString(ref, "PhotometricInterpretation"); ok {
		if strings.TrimSpace(photo) == "MONOCHROME1" && !buf.IsVector {
			offset = invertMonochrome1(buf)
			inverted = true
		}
	}

	if centers, ok := lookupFloats(ref, "WindowCenter"); ok {
		if inverted {
			for i := range centers {
				centers[i] = offset - centers[i]
			}
		}
		metadata["WindowCenter"] = utils.FormatValue(centers)
	}
	if v, ok := ref.Lookup("WindowWidth"); ok {
		metadata["WindowWidth"] = utils.FormatValue(v)
	}
	if v, ok := lookupString(ref, "SliceThickness"); ok {
		metadata["SliceThickness"] = strings.TrimSpace(v)
	}
	if v, ok := lookupString(ref, "Laterality"); ok {
		metadata["Laterality"] = strings.TrimSpace(v)
	}

	if g.dimensions() == 4 {
		contentTimes, exposures, err := temporalMetadata(g, geo.SliceOrderSign)
		if err != nil {
			return nil, err
		}
		metadata["ContentTimes"] = strings.Join(contentTimes, " ")
		metadata["Exposures"] = strings.Join(exposures, " ")
	}

	for _, md := range models.ExtraMetadata {
		if v, ok := lookupString(ref, md.Keyword); ok {
			metadata[md.Keyword] = strings.TrimSpace(v)
		}
	}
	return metadata, nil
}

// temporalMetadata reads the acquisition time and exposure of the first
// slice of every timepoint. A 4D volume without them cannot be described,
// so absence is a group error.
func temporalMetadata(g *VolumeGroup, sign int) (contentTimes, exposures []string, err error) {
	for t := 0; t < g.nTime; t++ {
		h := g.timepointHeader(t)
		contentTime, ok := lookupString(h, "ContentTime")
		if !ok {
			return nil, nil, fmt.Errorf("missing ContentTime for timepoint %d", t)
		}
		exposure, ok := lookupString(h, "Exposure")
		if !ok {
			return nil, nil, fmt.Errorf("missing Exposure for timepoint %d", t)
		}
		contentTimes = append(contentTimes, strings.TrimSpace(contentTime))
		exposures = append(exposures, strings.TrimSpace(exposure))
	}
	if sign < 0 {
		reverse(contentTimes)
		reverse(exposures)
	}
	return contentTimes, exposures, nil
}

// timepointHeader returns the header of the first slice of timepoint t.
// When one file spans several timepoints the file header would repeat for
// every timepoint, so the values come from the frame's functional group
// instead.
func (g *VolumeGroup) timepointHeader(t int) Header {
	if g.nSlicesPerFile > g.nSlices {
		if frames, ok := lookupHeaders(g.ref(), "PerFrameFunctionalGroupsSequence"); ok {
			if i := t * g.nSlices; i < len(frames) {
				return frames[i]
			}
		}
	}
	return g.files[t*g.nSlices/g.nSlicesPerFile].header
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
