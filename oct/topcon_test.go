package oct

import (
	"encoding/binary"
	"io"
	"math"
	"testing"

	"github.com/sirupsen/logrus"
)

func newTestOCTBuilder(files map[string][]byte) *Builder {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	b := NewBuilder(logger)
	b.readFile = func(path string) ([]byte, error) {
		data, ok := files[path]
		if !ok {
			return nil, io.ErrUnexpectedEOF
		}
		return data, nil
	}
	return b
}

// topconContainer assembles a synthetic FDS file: the 15-byte header, then a
// chunk per entry, then the zero terminator.
func topconContainer(chunks map[string][]byte, names ...string) []byte {
	data := []byte("FOCTFDS\x00\x00\x00\x00\x00\x00\x00\x00")
	for _, name := range names {
		body := chunks[name]
		data = append(data, byte(len(name)))
		data = append(data, name...)
		data = binary.LittleEndian.AppendUint32(data, uint32(len(body)))
		data = append(data, body...)
	}
	return append(data, 0)
}

func topconVolumeBody(width, height, slices int, values ...uint16) []byte {
	body := make([]byte, 22)
	binary.LittleEndian.PutUint32(body[1:], uint32(width))
	binary.LittleEndian.PutUint32(body[5:], uint32(height))
	binary.LittleEndian.PutUint32(body[9:], 16)
	binary.LittleEndian.PutUint32(body[13:], uint32(slices))
	for _, v := range values {
		body = binary.LittleEndian.AppendUint16(body, v)
	}
	return body
}

func topconFundusBody(width, height int, bgr ...byte) []byte {
	body := make([]byte, 21)
	binary.LittleEndian.PutUint32(body[0:], uint32(width))
	binary.LittleEndian.PutUint32(body[4:], uint32(height))
	return append(body, bgr...)
}

func topconParamBody(extentX, extentZ, resolutionYMicro float64) []byte {
	body := make([]byte, 12)
	body = binary.LittleEndian.AppendUint64(body, math.Float64bits(extentX))
	body = binary.LittleEndian.AppendUint64(body, math.Float64bits(extentZ))
	body = binary.LittleEndian.AppendUint64(body, math.Float64bits(resolutionYMicro))
	return body
}

func testTopconFile() []byte {
	return topconContainer(map[string][]byte{
		topconVolumeChunk: topconVolumeBody(2, 2, 2, 1, 2, 3, 4, 5, 6, 7, 8),
		topconParamChunk:  topconParamBody(6.0, 4.5, 3.9),
		topconFundusChunk: topconFundusBody(2, 1, 1, 2, 3, 4, 5, 6),
	}, topconVolumeChunk, topconParamChunk, topconFundusChunk)
}

func TestBuildChunkIndex(t *testing.T) {
	data := testTopconFile()
	index, err := buildChunkIndex(data)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{topconVolumeChunk, topconParamChunk, topconFundusChunk} {
		if _, ok := index[name]; !ok {
			t.Errorf("chunk %s missing from index", name)
		}
	}
	if _, err := index.body(data, "@NOPE"); err == nil {
		t.Error("expected error for unknown chunk")
	}
}

func TestBuildChunkIndexUnterminated(t *testing.T) {
	data := testTopconFile()
	if _, err := buildChunkIndex(data[:len(data)-1]); err == nil {
		t.Error("expected error for missing table terminator")
	}
}

func TestDecodeTopconVolume(t *testing.T) {
	data := testTopconFile()
	index, err := buildChunkIndex(data)
	if err != nil {
		t.Fatal(err)
	}
	buf, err := decodeTopconVolume(data, index)
	if err != nil {
		t.Fatal(err)
	}
	wantShape := []int{2, 2, 2}
	for i, w := range wantShape {
		if buf.Shape[i] != w {
			t.Fatalf("shape = %v, want %v", buf.Shape, wantShape)
		}
	}
	if !buf.IsFloat() {
		t.Fatal("volume buffer should be float")
	}
	for i := 0; i < 8; i++ {
		if buf.Float32[i] != float32(i+1) {
			t.Errorf("value[%d] = %v, want %d", i, buf.Float32[i], i+1)
		}
	}
}

func TestDecodeTopconFundusSwapsChannels(t *testing.T) {
	data := testTopconFile()
	index, err := buildChunkIndex(data)
	if err != nil {
		t.Fatal(err)
	}
	buf, err := decodeTopconFundus(data, index)
	if err != nil {
		t.Fatal(err)
	}
	if !buf.IsVector {
		t.Fatal("fundus buffer should be vector")
	}
	want := []int16{3, 2, 1, 6, 5, 4}
	for i, w := range want {
		if buf.Int16[i] != w {
			t.Errorf("value[%d] = %d, want %d", i, buf.Int16[i], w)
		}
	}
}

func TestDecodeTopconDimensions(t *testing.T) {
	data := testTopconFile()
	index, err := buildChunkIndex(data)
	if err != nil {
		t.Fatal(err)
	}
	dims, err := decodeTopconDimensions(data, index)
	if err != nil {
		t.Fatal(err)
	}
	if dims.extentXMM != 6.0 || dims.extentZMM != 4.5 {
		t.Errorf("extents = %v / %v, want 6 / 4.5", dims.extentXMM, dims.extentZMM)
	}
	if math.Abs(dims.resolutionYMM-0.0039) > 1e-12 {
		t.Errorf("y resolution = %v, want 0.0039", dims.resolutionYMM)
	}
}
