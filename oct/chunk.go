package oct

import (
	"encoding/binary"
	"fmt"
)

// topconHeaderSize covers the FOCT signature, the FDS/FDA type string and
// two version words.
const topconHeaderSize = 15

// chunkSpan locates one chunk body inside a Topcon container.
type chunkSpan struct {
	offset int
	size   int
}

// chunkIndex maps chunk names to their body spans.
type chunkIndex map[string]chunkSpan

// buildChunkIndex walks the chunk table that follows the container header:
// a one-byte name length (zero terminates the table), the name, a 4-byte
// little-endian body size, then the body.
func buildChunkIndex(data []byte) (chunkIndex, error) {
	index := chunkIndex{}
	pos := topconHeaderSize
	for pos < len(data) {
		nameLen := int(data[pos])
		pos++
		if nameLen == 0 {
			return index, nil
		}
		if pos+nameLen+4 > len(data) {
			return nil, fmt.Errorf("truncated chunk table")
		}
		name := string(data[pos : pos+nameLen])
		pos += nameLen
		size := int(binary.LittleEndian.Uint32(data[pos : pos+4]))
		pos += 4
		if pos+size > len(data) {
			return nil, fmt.Errorf("chunk %s overruns the file", name)
		}
		index[name] = chunkSpan{offset: pos, size: size}
		pos += size
	}
	return nil, fmt.Errorf("unterminated chunk table")
}

func (c chunkIndex) body(data []byte, name string) ([]byte, error) {
	span, ok := c[name]
	if !ok {
		return nil, fmt.Errorf("could not find chunk %s in chunk list", name)
	}
	return data[span.offset : span.offset+span.size], nil
}
