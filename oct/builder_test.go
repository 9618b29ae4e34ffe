package oct

import (
	"math"
	"testing"

	"image-volume-builder/models"
)

func TestBuildTopconEmitsVolumeAndFundus(t *testing.T) {
	b := newTestOCTBuilder(map[string][]byte{"scan.fds": testTopconFile()})

	images, fileErrors := b.Build([]string{"scan.fds"})
	if len(fileErrors) != 0 {
		t.Fatalf("unexpected file errors %v", fileErrors)
	}
	if len(images) != 2 {
		t.Fatalf("got %d images, want volume and fundus", len(images))
	}

	volume := images[0]
	if volume.Kind != models.KindOctVolume || volume.Name != "scan.fds" {
		t.Errorf("volume = %s %s", volume.Kind, volume.Name)
	}
	wantSpacing := []float64{3, 0.0039, 2.25}
	for i, w := range wantSpacing {
		if math.Abs(volume.Geometry.Spacing[i]-w) > 1e-12 {
			t.Errorf("spacing = %v, want %v", volume.Geometry.Spacing, wantSpacing)
		}
	}
	if !volume.SpacingValid {
		t.Error("volume spacing should be valid")
	}

	fundus := images[1]
	if fundus.Kind != models.KindOctFundus || fundus.Name != "scan_fundus.fds" {
		t.Errorf("fundus = %s %s", fundus.Kind, fundus.Name)
	}
	if fundus.SpacingValid {
		t.Error("fundus spacing should not be valid")
	}
}

func TestBuildTopconWithoutFundusChunk(t *testing.T) {
	data := topconContainer(map[string][]byte{
		topconVolumeChunk: topconVolumeBody(2, 2, 2, 1, 2, 3, 4, 5, 6, 7, 8),
		topconParamChunk:  topconParamBody(6.0, 4.5, 3.9),
	}, topconVolumeChunk, topconParamChunk)
	b := newTestOCTBuilder(map[string][]byte{"scan.fda": data})

	images, fileErrors := b.Build([]string{"scan.fda"})
	if len(fileErrors) != 0 {
		t.Fatalf("unexpected file errors %v", fileErrors)
	}
	if len(images) != 1 || images[0].Kind != models.KindOctVolume {
		t.Fatalf("got %d images, want just the volume", len(images))
	}
}

func TestBuildHeidelberg(t *testing.T) {
	b := newTestOCTBuilder(map[string][]byte{"scan.e2e": testHeidelbergFile()})

	images, fileErrors := b.Build([]string{"scan.e2e"})
	if len(fileErrors) != 0 {
		t.Fatalf("unexpected file errors %v", fileErrors)
	}
	if len(images) != 2 {
		t.Fatalf("got %d images, want volume and fundus", len(images))
	}

	volume := images[0]
	if volume.Name != "scan.e2e" || volume.Eye != models.EyeRight {
		t.Errorf("volume = %s eye %s", volume.Name, volume.Eye)
	}
	wantSpacing := []float64{3, 0.0039, 2.25}
	for i, w := range wantSpacing {
		if math.Abs(volume.Geometry.Spacing[i]-w) > 1e-12 {
			t.Errorf("spacing = %v, want %v", volume.Geometry.Spacing, wantSpacing)
		}
	}

	fundus := images[1]
	if fundus.Name != "scan_fundus.e2e" || fundus.Eye != models.EyeRight {
		t.Errorf("fundus = %s eye %s", fundus.Name, fundus.Eye)
	}
	want := []int16{10, 20, 30, 40}
	for i, w := range want {
		if fundus.Buffer.Int16[i] != w {
			t.Errorf("fundus value[%d] = %d, want %d", i, fundus.Buffer.Int16[i], w)
		}
	}
}

func TestBuildHeidelbergTwoSeriesGetDistinctNames(t *testing.T) {
	data := []byte("CMDb\x00\x00\x00\x00")
	data = append(data, e2eRecord(1, 2, 3, 0, 0, e2eTypeLaterality, e2eLateralityPayload('R'))...)
	data = append(data, e2eRecord(1, 2, 3, 2, e2eIndOct, e2eTypeImage,
		e2eImagePayload(1, 1, e2eWords(0xFC00)))...)
	data = append(data, e2eRecord(1, 2, 3, 0, e2eIndFundus, e2eTypeImage,
		e2eImagePayload(1, 1, []byte{10}))...)
	data = append(data, e2eRecord(1, 2, 4, 0, 0, e2eTypeLaterality, e2eLateralityPayload('L'))...)
	data = append(data, e2eRecord(1, 2, 4, 2, e2eIndOct, e2eTypeImage,
		e2eImagePayload(1, 1, e2eWords(0xFC00)))...)
	data = append(data, e2eRecord(1, 2, 4, 0, e2eIndFundus, e2eTypeImage,
		e2eImagePayload(1, 1, []byte{20}))...)
	b := newTestOCTBuilder(map[string][]byte{"scan.e2e": data})

	images, fileErrors := b.Build([]string{"scan.e2e"})
	if len(fileErrors) != 0 {
		t.Fatalf("unexpected file errors %v", fileErrors)
	}
	if len(images) != 4 {
		t.Fatalf("got %d images, want 2 volumes and 2 funduses", len(images))
	}

	names := map[string]bool{}
	for _, img := range images {
		if names[img.Name] {
			t.Errorf("name %s is used twice", img.Name)
		}
		names[img.Name] = true
	}
	for _, want := range []string{
		"scan_1_2_3.e2e",
		"scan_1_2_4.e2e",
		"scan_1_2_3_fundus.e2e",
		"scan_1_2_4_fundus.e2e",
	} {
		if !names[want] {
			t.Errorf("missing name %s in %v", want, names)
		}
	}
	if images[0].Eye != models.EyeRight || images[1].Eye != models.EyeLeft {
		t.Errorf("volume eyes = %s, %s, want OD then OS", images[0].Eye, images[1].Eye)
	}
}

func TestBuildRejectsUnrecognizedFile(t *testing.T) {
	b := newTestOCTBuilder(map[string][]byte{"notes.txt": []byte("plain text, no container here")})

	images, fileErrors := b.Build([]string{"notes.txt"})
	if len(images) != 0 {
		t.Fatalf("got %d images, want 0", len(images))
	}
	want := "OCT image builder: Not a valid OCT file (supported formats: .fds,.fda,.e2e)"
	if got := fileErrors["notes.txt"]; len(got) != 1 || got[0] != want {
		t.Errorf("errors = %v, want [%s]", got, want)
	}
}

func TestBuildIsolatesFailures(t *testing.T) {
	b := newTestOCTBuilder(map[string][]byte{
		"good.fds": testTopconFile(),
		"bad.fds":  []byte("FOCTFDS but then garbage"),
	})

	images, fileErrors := b.Build([]string{"good.fds", "bad.fds"})
	if len(images) != 2 {
		t.Errorf("got %d images, want 2 from the good file", len(images))
	}
	if len(fileErrors["bad.fds"]) != 1 {
		t.Errorf("bad.fds errors = %v, want one entry", fileErrors["bad.fds"])
	}
	if len(fileErrors["good.fds"]) != 0 {
		t.Errorf("good.fds errors = %v, want none", fileErrors["good.fds"])
	}
}

func TestFundusName(t *testing.T) {
	if got := fundusName("/data/scan.fds"); got != "scan_fundus.fds" {
		t.Errorf("fundusName = %s", got)
	}
}
