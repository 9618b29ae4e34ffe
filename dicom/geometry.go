package dicom

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"image-volume-builder/models"
)

// originTolerance separates genuinely distinct slice positions from the
// repeated positions that 4D acquisitions emit once per timepoint.
const originTolerance = 1e-6

// computeGeometry derives origin, voxel spacing, direction matrix and slice
// order for a validated group. The scan axis is reconstructed from the slice
// positions; the in-plane axes come from the orientation cosines.
func computeGeometry(g *VolumeGroup) (*models.Geometry, error) {
	ref := g.ref()
	rowCos, colCos := orientationCosines(ref)
	direction3 := directionFromCosines(rowCos, colCos)

	origins, err := collectOrigins(g)
	if err != nil {
		return nil, err
	}
	distinct := dedupeOrigins(origins)

	zSpacing := 1.0
	sign := 0
	if len(distinct) < 2 {
		if s, ok := lookupFloat(ref, "SpacingBetweenSlices"); ok {
			zSpacing = s
		}
	} else {
		avg := averageOriginStep(distinct)
		zSpacing = floats.Norm(avg, 2)
		sign = sliceOrderSign(direction3, avg)
	}

	// Lookup descends into sequence items, so this finds a plain tag as
	// well as one nested in shared or per-frame pixel measures.
	inPlane := []float64{1.0, 1.0}
	if ps, ok := lookupFloats(ref, "PixelSpacing"); ok && len(ps) == 2 {
		inPlane = ps
	} else if _, enhanced := lookupHeaders(ref, "PerFrameFunctionalGroupsSequence"); enhanced {
		return nil, fmt.Errorf("no pixel spacing found")
	}

	origin := []float64{0, 0, 0}
	if len(distinct) > 0 {
		if sign >= 0 {
			origin = distinct[0]
		} else {
			origin = distinct[len(distinct)-1]
		}
	}

	dim := g.dimensions()
	spacing := []float64{inPlane[0], inPlane[1], zSpacing}
	if dim == 4 {
		origin = append(origin, 0.0)
		spacing = append(spacing, 1.0)
	}

	return &models.Geometry{
		Origin:         origin,
		Spacing:        spacing,
		Direction:      embedDirection(direction3, dim),
		SliceOrderSign: sign,
	}, nil
}

// orientationCosines returns the row and column direction cosines, defaulting
// to the identity axes when ImageOrientationPatient is absent.
func orientationCosines(ref Header) (row, col []float64) {
	row = []float64{1, 0, 0}
	col = []float64{0, 1, 0}
	if v, ok := lookupFloats(ref, "ImageOrientationPatient"); ok && len(v) == 6 {
		row = v[0:3]
		col = v[3:6]
	}
	return row, col
}

// directionFromCosines builds the row-major 3x3 direction matrix with the
// row cosines, column cosines and their cross product as columns.
func directionFromCosines(row, col []float64) []float64 {
	normal := cross(row, col)
	d := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		d.Set(i, 0, row[i])
		d.Set(i, 1, col[i])
		d.Set(i, 2, normal[i])
	}
	return append([]float64(nil), d.RawMatrix().Data...)
}

func cross(a, b []float64) []float64 {
	return []float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

// collectOrigins gathers slice positions in acquisition order: per frame for
// enhanced multi-frame files, per file otherwise. An enhanced file whose
// functional groups carry no positions cannot be placed in space at all, so
// that is a group error rather than a silent default.
func collectOrigins(g *VolumeGroup) ([][]float64, error) {
	var origins [][]float64
	for _, f := range g.files {
		if frames, ok := lookupHeaders(f.header, "PerFrameFunctionalGroupsSequence"); ok {
			found := false
			for _, frame := range frames {
				if pos, ok := lookupFloats(frame, "ImagePositionPatient"); ok && len(pos) == 3 {
					origins = append(origins, pos)
					found = true
				}
			}
			if !found {
				return nil, fmt.Errorf("no slice positions in per-frame functional groups")
			}
			continue
		}
		if pos, ok := lookupFloats(f.header, "ImagePositionPatient"); ok && len(pos) == 3 {
			origins = append(origins, pos)
		}
	}
	return origins, nil
}

// dedupeOrigins drops positions seen before, leaving one per slice. 4D
// acquisitions repeat the slice positions once per timepoint.
func dedupeOrigins(origins [][]float64) [][]float64 {
	var distinct [][]float64
	for _, o := range origins {
		if seenOrigin(distinct, o) {
			continue
		}
		distinct = append(distinct, o)
	}
	return distinct
}

func seenOrigin(seen [][]float64, origin []float64) bool {
	for _, s := range seen {
		if floats.EqualApprox(s, origin, originTolerance) {
			return true
		}
	}
	return false
}

func averageOriginStep(distinct [][]float64) []float64 {
	avg := make([]float64, 3)
	diff := make([]float64, 3)
	for i := 1; i < len(distinct); i++ {
		floats.SubTo(diff, distinct[i], distinct[i-1])
		floats.Add(avg, diff)
	}
	floats.Scale(1/float64(len(distinct)-1), avg)
	return avg
}

// sliceOrderSign reports whether the slice positions walk with (+1) or
// against (-1) the scan axis of the direction matrix.
func sliceOrderSign(direction3, step []float64) int {
	d := mat.NewDense(3, 3, direction3)
	ones := mat.NewVecDense(3, []float64{1, 1, 1})
	var axis mat.VecDense
	axis.MulVec(d, ones)
	dot := mat.Dot(mat.NewVecDense(3, step), &axis)
	switch {
	case dot > 0:
		return 1
	case dot < 0:
		return -1
	default:
		return 0
	}
}

// embedDirection places the 3x3 direction in the upper-left of a dim x dim
// identity, so a 4D volume keeps a unit time axis.
func embedDirection(d3 []float64, dim int) []float64 {
	out := make([]float64, dim*dim)
	for i := 0; i < dim; i++ {
		out[i*dim+i] = 1
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r*dim+c] = d3[r*3+c]
		}
	}
	return out
}
