// Package fs writes image records to disk as MetaIO header/raw pairs.
package fs

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"image-volume-builder/models"
	"image-volume-builder/utils"
)

const (
	mhdFileName = "image.mhd"
	rawFileName = "image.raw"
)

// Save writes data to path, creating parent directories as needed.
func Save(path string, data []byte) error {
	dirpath := filepath.Dir(path)
	if _, err := os.Stat(dirpath); os.IsNotExist(err) {
		err := os.MkdirAll(dirpath, os.ModePerm)
		if err != nil {
			return err
		}
	}

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()

	r := bytes.NewReader(data)
	_, err = io.Copy(out, r)
	return err
}

// ImagePath returns the destination directory for a record. Names may hold
// arbitrary UID characters, so the directory is keyed by the sha1 of the
// name.
func ImagePath(root string, image *models.Image) string {
	hash := sha1.New()
	hash.Write([]byte(image.Name))
	return filepath.Join(root, hex.EncodeToString(hash.Sum(nil)))
}

// WriteMetaIO serializes a record under ImagePath(root, image) as image.mhd
// plus little-endian image.raw.
func WriteMetaIO(root string, image *models.Image) error {
	header, err := metaIOHeader(image)
	if err != nil {
		return err
	}
	dir := ImagePath(root, image)
	if err := Save(filepath.Join(dir, mhdFileName), header); err != nil {
		return err
	}
	return Save(filepath.Join(dir, rawFileName), rawBytes(image.Buffer))
}

func metaIOHeader(image *models.Image) ([]byte, error) {
	buf := image.Buffer
	geo := image.Geometry
	if buf == nil || geo == nil {
		return nil, fmt.Errorf("image %s has no pixel data", image.Name)
	}
	dims := spatialDims(buf)
	if len(dims) != geo.Dim() {
		return nil, fmt.Errorf("image %s has %d spatial dims but a %dD geometry", image.Name, len(dims), geo.Dim())
	}

	elementType := "MET_SHORT"
	if buf.IsFloat() {
		elementType = "MET_FLOAT"
	}
	channels := 1
	if buf.IsVector {
		channels = buf.Shape[len(buf.Shape)-1]
	}

	var b strings.Builder
	write := func(key, value string) {
		b.WriteString(key)
		b.WriteString(" = ")
		b.WriteString(value)
		b.WriteString("\n")
	}
	write("ObjectType", "Image")
	write("NDims", strconv.Itoa(len(dims)))
	write("BinaryData", "True")
	write("BinaryDataByteOrderMSB", "False")
	write("DimSize", joinInts(dims))
	write("TransformMatrix", joinFloats(geo.Direction))
	write("Offset", joinFloats(geo.Origin))
	write("ElementSpacing", joinFloats(geo.Spacing))
	write("ElementNumberOfChannels", strconv.Itoa(channels))
	write("ElementType", elementType)
	if image.Eye != models.EyeUnknown {
		write("eye_choice", string(image.Eye))
	}
	for _, key := range sortedKeys(image.Metadata) {
		write(metadataFieldName(key), image.Metadata[key])
	}
	// ElementDataFile terminates the header and must come last.
	write("ElementDataFile", rawFileName)
	return []byte(b.String()), nil
}

// spatialDims returns the buffer shape without the channel axis, fastest
// moving axis first as MetaIO expects.
func spatialDims(buf *models.VoxelBuffer) []int {
	shape := buf.Shape
	if buf.IsVector {
		shape = shape[:len(shape)-1]
	}
	dims := make([]int, len(shape))
	for i, s := range shape {
		dims[len(shape)-1-i] = s
	}
	return dims
}

func rawBytes(buf *models.VoxelBuffer) []byte {
	out := new(bytes.Buffer)
	if buf.IsFloat() {
		binary.Write(out, binary.LittleEndian, buf.Float32)
	} else {
		binary.Write(out, binary.LittleEndian, buf.Int16)
	}
	return out.Bytes()
}

// metadataFieldName maps a metadata keyword to its header key: the
// whitelist field name when defined, a snake-cased keyword otherwise.
func metadataFieldName(keyword string) string {
	for _, md := range models.ExtraMetadata {
		if md.Keyword == keyword {
			return md.FieldName
		}
	}
	return utils.ToSnakeCase(keyword)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, " ")
}

func joinFloats(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, " ")
}
