// Package convert orchestrates the image builders over one batch of input
// files.
package convert

import (
	"sort"

	"github.com/sirupsen/logrus"

	"image-volume-builder/dicom"
	"image-volume-builder/models"
	"image-volume-builder/oct"
)

// imageBuilder turns a set of input files into image records plus per-file
// errors for whatever it could not use.
type imageBuilder interface {
	Build(files []string) ([]*models.Image, models.FileErrors)
}

// Result is the outcome of one batch conversion. ConsumedFiles and the
// error map keys partition the input set: every input file appears in
// exactly one of the two.
type Result struct {
	Images        []*models.Image
	ConsumedFiles []string
	FileErrors    models.FileErrors
}

// Converter runs the builders in a fixed order, each over the files the
// previous builders did not consume. One Converter may be reused; batches
// share no state.
type Converter struct {
	log      *logrus.Entry
	builders []imageBuilder
}

// NewConverter wires the default builder chain. workers bounds concurrent
// volume assembly within a builder.
func NewConverter(logger *logrus.Logger, workers int) *Converter {
	return &Converter{
		log: logger.WithField("module", "convert"),
		builders: []imageBuilder{
			dicom.NewBuilder(logger, workers),
			oct.NewBuilder(logger),
		},
	}
}

// Convert processes one batch. The Result is always usable; when files are
// left over, err is a *models.UnconsumedFilesError carrying the error map
// and the partial results remain valid.
func (c *Converter) Convert(files []string) (*Result, error) {
	remaining := dedupe(files)
	collected := models.FileErrors{}
	result := &Result{FileErrors: models.FileErrors{}}

	for _, builder := range c.builders {
		if len(remaining) == 0 {
			break
		}
		images, buildErrors := builder.Build(remaining)
		collected.Merge(buildErrors)

		consumed := map[string]bool{}
		for _, image := range images {
			result.Images = append(result.Images, image)
			for _, path := range image.ConsumedFiles {
				consumed[path] = true
			}
		}

		var next []string
		for _, path := range remaining {
			if consumed[path] {
				result.ConsumedFiles = append(result.ConsumedFiles, path)
			} else {
				next = append(next, path)
			}
		}
		remaining = next
	}

	// Errors recorded against a file that a later builder consumed anyway
	// are dropped; only unconsumed files are reported.
	for _, path := range remaining {
		messages := collected[path]
		if len(messages) == 0 {
			messages = []string{"File could not be consumed by any image builder"}
		}
		result.FileErrors[path] = messages
	}

	sort.Strings(result.ConsumedFiles)
	c.log.WithFields(logrus.Fields{
		"images":   len(result.Images),
		"consumed": len(result.ConsumedFiles),
		"failed":   len(result.FileErrors),
	}).Info("batch converted")

	if len(result.FileErrors) > 0 {
		return result, &models.UnconsumedFilesError{FileErrors: result.FileErrors}
	}
	return result, nil
}

func dedupe(files []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, path := range files {
		if !seen[path] {
			seen[path] = true
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}
