package oct

import (
	"encoding/binary"
	"fmt"
	"math"

	"image-volume-builder/models"
)

const (
	topconVolumeChunk = "@IMG_SCAN_03"
	topconFundusChunk = "@IMG_OBS"
	topconParamChunk  = "@PARAM_SCAN_04"
)

// octDimensions is the physical extent of one scan: full x and z extents in
// mm and the y resolution per depth sample.
type octDimensions struct {
	extentXMM     float64
	resolutionYMM float64
	extentZMM     float64
}

// decodeTopconVolume reads @IMG_SCAN_03: a 22-byte header carrying width,
// height, bits per pixel and slice count, then width*height*slices
// little-endian uint16 samples, one row-major height x width block per
// slice. Values exceed the int16 range, so the buffer is float.
func decodeTopconVolume(data []byte, index chunkIndex) (*models.VoxelBuffer, error) {
	body, err := index.body(data, topconVolumeChunk)
	if err != nil {
		return nil, err
	}
	if len(body) < 22 {
		return nil, fmt.Errorf("truncated %s header", topconVolumeChunk)
	}
	width := int(binary.LittleEndian.Uint32(body[1:5]))
	height := int(binary.LittleEndian.Uint32(body[5:9]))
	slices := int(binary.LittleEndian.Uint32(body[13:17]))
	n := width * height * slices
	if n <= 0 {
		return nil, fmt.Errorf("empty %s volume", topconVolumeChunk)
	}
	pixels := body[22:]
	if len(pixels) < 2*n {
		return nil, fmt.Errorf("truncated %s pixel data", topconVolumeChunk)
	}

	buf := models.NewFloat32Buffer(slices, height, width)
	for i := 0; i < n; i++ {
		buf.Float32[i] = float32(binary.LittleEndian.Uint16(pixels[2*i:]))
	}
	return buf, nil
}

// decodeTopconFundus reads @IMG_OBS: a 21-byte header, then byte samples
// interleaved blue-first over a height x width grid, emitted as RGB.
func decodeTopconFundus(data []byte, index chunkIndex) (*models.VoxelBuffer, error) {
	body, err := index.body(data, topconFundusChunk)
	if err != nil {
		return nil, err
	}
	if len(body) < 21 {
		return nil, fmt.Errorf("truncated %s header", topconFundusChunk)
	}
	width := int(binary.LittleEndian.Uint32(body[0:4]))
	height := int(binary.LittleEndian.Uint32(body[4:8]))
	n := width * height
	if n <= 0 {
		return nil, fmt.Errorf("empty %s image", topconFundusChunk)
	}
	pixels := body[21:]
	if len(pixels) < 3*n {
		return nil, fmt.Errorf("truncated %s pixel data", topconFundusChunk)
	}

	buf := models.NewInt16Buffer(height, width, 3)
	buf.IsVector = true
	for p := 0; p < n; p++ {
		buf.Int16[3*p+0] = int16(pixels[3*p+2])
		buf.Int16[3*p+1] = int16(pixels[3*p+1])
		buf.Int16[3*p+2] = int16(pixels[3*p+0])
	}
	return buf, nil
}

// decodeTopconDimensions reads @PARAM_SCAN_04: a 12-byte label, then three
// little-endian float64 values, the x extent in mm, the z extent in mm and
// the y step in micrometers.
func decodeTopconDimensions(data []byte, index chunkIndex) (octDimensions, error) {
	body, err := index.body(data, topconParamChunk)
	if err != nil {
		return octDimensions{}, err
	}
	if len(body) < 36 {
		return octDimensions{}, fmt.Errorf("truncated %s chunk", topconParamChunk)
	}
	readF64 := func(off int) float64 {
		return math.Float64frombits(binary.LittleEndian.Uint64(body[off : off+8]))
	}
	return octDimensions{
		extentXMM:     readF64(12),
		extentZMM:     readF64(20),
		resolutionYMM: readF64(28) / 1000.0,
	}, nil
}
