package dicom

import (
	"math"
	"strings"
	"testing"
)

func positionedGroup(origins ...[]float64) *VolumeGroup {
	g := &VolumeGroup{nSlicesPerFile: 1}
	for i, origin := range origins {
		h := mapHeader{"InstanceNumber": i + 1}
		if origin != nil {
			h["ImagePositionPatient"] = origin
		}
		g.files = append(g.files, &sliceFile{path: "f", header: h})
	}
	g.nSlices = len(origins)
	return g
}

func almostEqual(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > 1e-9 {
			return false
		}
	}
	return true
}

func TestComputeGeometryNaturalOrder(t *testing.T) {
	g := positionedGroup(
		[]float64{0, 0, 0},
		[]float64{0, 0, 2.5},
		[]float64{0, 0, 5},
	)
	geo, err := computeGeometry(g)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(geo.Spacing, []float64{1, 1, 2.5}) {
		t.Errorf("spacing = %v", geo.Spacing)
	}
	if geo.SliceOrderSign != 1 {
		t.Errorf("sign = %d, want 1", geo.SliceOrderSign)
	}
	if !almostEqual(geo.Origin, []float64{0, 0, 0}) {
		t.Errorf("origin = %v", geo.Origin)
	}
	identity := []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}
	if !almostEqual(geo.Direction, identity) {
		t.Errorf("direction = %v", geo.Direction)
	}
}

func TestComputeGeometryReversedOrder(t *testing.T) {
	g := positionedGroup(
		[]float64{0, 0, 5},
		[]float64{0, 0, 2.5},
		[]float64{0, 0, 0},
	)
	geo, err := computeGeometry(g)
	if err != nil {
		t.Fatal(err)
	}
	if geo.SliceOrderSign != -1 {
		t.Errorf("sign = %d, want -1", geo.SliceOrderSign)
	}
	if !almostEqual(geo.Origin, []float64{0, 0, 0}) {
		t.Errorf("origin = %v, want last position", geo.Origin)
	}
	if math.Abs(geo.Spacing[2]-2.5) > 1e-9 {
		t.Errorf("z spacing = %v, want 2.5", geo.Spacing[2])
	}
}

func TestComputeGeometrySingleSliceFallsBackToDeclaredSpacing(t *testing.T) {
	g := positionedGroup([]float64{1, 2, 3})
	g.files[0].header.(mapHeader)["SpacingBetweenSlices"] = "3.5"

	geo, err := computeGeometry(g)
	if err != nil {
		t.Fatal(err)
	}
	if geo.SliceOrderSign != 0 {
		t.Errorf("sign = %d, want 0", geo.SliceOrderSign)
	}
	if !almostEqual(geo.Spacing, []float64{1, 1, 3.5}) {
		t.Errorf("spacing = %v", geo.Spacing)
	}
	if !almostEqual(geo.Origin, []float64{1, 2, 3}) {
		t.Errorf("origin = %v", geo.Origin)
	}
}

func TestComputeGeometryNoPositions(t *testing.T) {
	g := positionedGroup(nil, nil)
	geo, err := computeGeometry(g)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(geo.Origin, []float64{0, 0, 0}) {
		t.Errorf("origin = %v, want zeros", geo.Origin)
	}
	if !almostEqual(geo.Spacing, []float64{1, 1, 1}) {
		t.Errorf("spacing = %v, want unit", geo.Spacing)
	}
}

func TestComputeGeometryDeduplicatesRepeatedPositions(t *testing.T) {
	// Timepoint-major 4D ordering repeats the slice positions per timepoint.
	g := positionedGroup(
		[]float64{0, 0, 0},
		[]float64{0, 0, 3},
		[]float64{0, 0, 0},
		[]float64{0, 0, 3},
	)
	g.nTime = 2
	g.nSlices = 2

	geo, err := computeGeometry(g)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(geo.Spacing[2]-3) > 1e-9 {
		t.Errorf("z spacing = %v, want 3", geo.Spacing[2])
	}
	if geo.SliceOrderSign != 1 {
		t.Errorf("sign = %d, want 1", geo.SliceOrderSign)
	}
}

func TestComputeGeometry4DPadding(t *testing.T) {
	g := positionedGroup(
		[]float64{0, 0, 0},
		[]float64{0, 0, 2},
	)
	g.nTime = 2
	g.nSlices = 1

	geo, err := computeGeometry(g)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(geo.Origin, []float64{0, 0, 0, 0}) {
		t.Errorf("origin = %v", geo.Origin)
	}
	if !almostEqual(geo.Spacing, []float64{1, 1, 2, 1}) {
		t.Errorf("spacing = %v", geo.Spacing)
	}
	if len(geo.Direction) != 16 {
		t.Fatalf("direction has %d entries, want 16", len(geo.Direction))
	}
	if geo.Direction[15] != 1 {
		t.Errorf("time axis of direction = %v, want 1", geo.Direction[15])
	}
}

func TestComputeGeometryUsesOrientationCosines(t *testing.T) {
	g := positionedGroup([]float64{0, 0, 0}, []float64{0, 0, 2})
	for _, f := range g.files {
		// Rows run along -y, columns along x.
		f.header.(mapHeader)["ImageOrientationPatient"] = []float64{0, -1, 0, 1, 0, 0}
	}
	geo, err := computeGeometry(g)
	if err != nil {
		t.Fatal(err)
	}
	// Columns of the matrix: row cosines, column cosines, their cross product.
	want := []float64{0, 1, 0, -1, 0, 0, 0, 0, 1}
	if !almostEqual(geo.Direction, want) {
		t.Errorf("direction = %v, want %v", geo.Direction, want)
	}
}

func TestComputeGeometryEnhancedFrames(t *testing.T) {
	frames := []Header{
		mapHeader{"ImagePositionPatient": []float64{0, 0, 0}},
		mapHeader{"ImagePositionPatient": []float64{0, 0, 1.5}},
	}
	g := &VolumeGroup{
		files: []*sliceFile{{path: "enhanced.dcm", header: mapHeader{
			"PerFrameFunctionalGroupsSequence": frames,
			"PixelSpacing":                     []float64{0.5, 0.5},
		}}},
		nSlices:        2,
		nSlicesPerFile: 2,
	}
	geo, err := computeGeometry(g)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(geo.Spacing, []float64{0.5, 0.5, 1.5}) {
		t.Errorf("spacing = %v", geo.Spacing)
	}
}

func TestComputeGeometryEnhancedWithoutPositions(t *testing.T) {
	g := &VolumeGroup{
		files: []*sliceFile{{path: "enhanced.dcm", header: mapHeader{
			"PerFrameFunctionalGroupsSequence": []Header{mapHeader{}},
		}}},
		nSlices:        1,
		nSlicesPerFile: 1,
	}
	_, err := computeGeometry(g)
	if err == nil || !strings.Contains(err.Error(), "positions") {
		t.Errorf("err = %v, want missing positions error", err)
	}
}

func TestComputeGeometryEnhancedWithoutPixelSpacing(t *testing.T) {
	g := &VolumeGroup{
		files: []*sliceFile{{path: "enhanced.dcm", header: mapHeader{
			"PerFrameFunctionalGroupsSequence": []Header{
				mapHeader{"ImagePositionPatient": []float64{0, 0, 0}},
			},
		}}},
		nSlices:        1,
		nSlicesPerFile: 1,
	}
	_, err := computeGeometry(g)
	if err == nil || !strings.Contains(err.Error(), "pixel spacing") {
		t.Errorf("err = %v, want missing pixel spacing error", err)
	}
}
