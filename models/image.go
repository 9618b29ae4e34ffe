package models

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Kind tags the source format of an emitted image record.
type Kind string

const (
	KindDicom     Kind = "DICOM"
	KindOctVolume Kind = "OCT-VOLUME"
	KindOctFundus Kind = "OCT-FUNDUS"
)

// EyeChoice is the laterality of an ophthalmic scan.
type EyeChoice string

const (
	EyeUnknown EyeChoice = "U"
	EyeRight   EyeChoice = "OD"
	EyeLeft    EyeChoice = "OS"
)

// VoxelBuffer is a dense N-dimensional sample array. Samples are stored as
// int16, or as float32 when intensity rescaling was applied during assembly.
// Exactly one of Int16 and Float32 is non-nil.
type VoxelBuffer struct {
	// Shape is ordered (time?, slices, rows, cols, samples?).
	Shape    []int
	IsVector bool

	Int16   []int16
	Float32 []float32
}

// NewInt16Buffer allocates an integer buffer of the given shape.
func NewInt16Buffer(shape ...int) *VoxelBuffer {
	return &VoxelBuffer{Shape: shape, Int16: make([]int16, volume(shape))}
}

// NewFloat32Buffer allocates a float buffer of the given shape.
func NewFloat32Buffer(shape ...int) *VoxelBuffer {
	return &VoxelBuffer{Shape: shape, Float32: make([]float32, volume(shape))}
}

func volume(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// IsFloat reports whether samples are stored as float32.
func (b *VoxelBuffer) IsFloat() bool {
	return b.Float32 != nil
}

// Len returns the total number of samples.
func (b *VoxelBuffer) Len() int {
	return volume(b.Shape)
}

// At returns the sample at the given flat index as float64.
func (b *VoxelBuffer) At(i int) float64 {
	if b.IsFloat() {
		return float64(b.Float32[i])
	}
	return float64(b.Int16[i])
}

// MinMax returns the smallest and largest sample value in the buffer.
func (b *VoxelBuffer) MinMax() (min, max float64) {
	if b.Len() == 0 {
		return 0, 0
	}
	min, max = b.At(0), b.At(0)
	for i := 1; i < b.Len(); i++ {
		v := b.At(i)
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

// Geometry describes the physical placement of a volume: origin and voxel
// spacing per axis, a row-major dim x dim direction matrix, and the sign of
// the slice order (-1 reversed, 0 single slice, 1 natural).
type Geometry struct {
	Origin         []float64
	Spacing        []float64
	Direction      []float64
	SliceOrderSign int
}

// Dim returns the dimensionality of the geometry.
func (g *Geometry) Dim() int {
	return len(g.Origin)
}

// Image is one reconstructed image record: the voxel buffer together with
// its geometry, validated auxiliary metadata and the set of input files
// that were consumed to build it. Records are immutable after assembly.
type Image struct {
	ID           uuid.UUID
	Kind         Kind
	Name         string
	Buffer       *VoxelBuffer
	Geometry     *Geometry
	SpacingValid bool
	Eye          EyeChoice
	Metadata     map[string]string

	ConsumedFiles []string
}

// NewImage returns an Image with a fresh identifier and empty metadata.
func NewImage(kind Kind, name string) *Image {
	return &Image{
		ID:       uuid.New(),
		Kind:     kind,
		Name:     name,
		Eye:      EyeUnknown,
		Metadata: map[string]string{},
	}
}

// FileErrors maps an input file path to the ordered list of human-readable
// errors recorded against it.
type FileErrors map[string][]string

// Add records an error message for a file.
func (fe FileErrors) Add(path, message string) {
	fe[path] = append(fe[path], message)
}

// Merge appends all entries of other into fe.
func (fe FileErrors) Merge(other FileErrors) {
	for path, messages := range other {
		fe[path] = append(fe[path], messages...)
	}
}

// Paths returns the recorded file paths in sorted order.
func (fe FileErrors) Paths() []string {
	paths := make([]string, 0, len(fe))
	for path := range fe {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// UnconsumedFilesError signals that a batch completed with input files that
// produced no image. It carries the full per-file error map; the batch
// itself is otherwise intact and partial results remain valid.
type UnconsumedFilesError struct {
	FileErrors FileErrors
}

func (e *UnconsumedFilesError) Error() string {
	return fmt.Sprintf("%d file(s) could not be consumed by any image builder", len(e.FileErrors))
}
