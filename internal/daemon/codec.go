package daemon

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/snappy"
	"github.com/pierrec/lz4/v4"

	"github.com/driftcms/revalidator/internal/common/configtypes"
)

// Stored history blobs carry a one-byte algorithm marker so the reader does
// not depend on the writer's configuration.
const (
	markerNone   byte = 'N'
	markerSnappy byte = 'S'
	markerLZ4    byte = 'L'
)

// ErrDecompression is returned when a history blob cannot be decoded.
// Use errors.Is(err, ErrDecompression) to check for decompression errors.
var ErrDecompression = errors.New("decompression failed")

// encodeBlob compresses a history payload with the configured algorithm and
// prefixes the algorithm marker.
func encodeBlob(payload []byte, algorithm string) ([]byte, error) {
	switch algorithm {
	case configtypes.CompressionSnappy:
		compressed := snappy.Encode(nil, payload)
		return append([]byte{markerSnappy}, compressed...), nil

	case configtypes.CompressionLZ4:
		// LZ4 stream format embeds size information
		var buf bytes.Buffer
		buf.WriteByte(markerLZ4)
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			w.Close()
			return nil, fmt.Errorf("lz4 compression failed: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compression close failed: %w", err)
		}
		return buf.Bytes(), nil

	case configtypes.CompressionNone, "":
		return append([]byte{markerNone}, payload...), nil

	default:
		return nil, fmt.Errorf("unknown compression algorithm %q", algorithm)
	}
}

// decodeBlob decompresses a history payload based on its marker byte.
// Blobs written before markers were introduced have none; they are returned
// as-is.
func decodeBlob(blob []byte) ([]byte, error) {
	if len(blob) == 0 {
		return nil, nil
	}

	switch blob[0] {
	case markerNone:
		return blob[1:], nil

	case markerSnappy:
		decompressed, err := snappy.Decode(nil, blob[1:])
		if err != nil {
			return nil, fmt.Errorf("%w: snappy: %v", ErrDecompression, err)
		}
		return decompressed, nil

	case markerLZ4:
		r := lz4.NewReader(bytes.NewReader(blob[1:]))
		decompressed, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrDecompression, err)
		}
		return decompressed, nil

	default:
		return blob, nil
	}
}
