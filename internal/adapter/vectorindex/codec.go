package vectorindex

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"agent-market/internal/domain"
)

// formatVersion is bumped whenever the snapshot layout changes.
const formatVersion = 1

// checksumKey separates index checksums from any other BLAKE3 use.
var checksumKey = [32]byte{
	'a', 'g', 'e', 'n', 't', '-', 'm', 'a', 'r', 'k', 'e', 't', '.',
	'v', 'e', 'c', 't', 'o', 'r', 'i', 'n', 'd', 'e', 'x', 0, 0, 0, 0, 0, 0, 0, 0,
}

// snapshot is the CBOR body of a saved index.
type snapshot struct {
	Dim     int         `cbor:"1,keyasint"`
	Vectors [][]float32 `cbor:"2,keyasint"`
}

// envelope wraps the snapshot with a format version and checksum.
type envelope struct {
	Version  int             `cbor:"1,keyasint"`
	Body     cbor.RawMessage `cbor:"2,keyasint"`
	Checksum []byte          `cbor:"3,keyasint"`
}

var (
	encMode    cbor.EncMode
	decMode    cbor.DecMode
	zstdWriter *zstd.Encoder
	zstdReader *zstd.Decoder
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("vectorindex: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("vectorindex: CBOR decoder initialization failed: " + err.Error())
	}
	zstdWriter, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("vectorindex: zstd encoder initialization failed: " + err.Error())
	}
	zstdReader, err = zstd.NewReader(nil)
	if err != nil {
		panic("vectorindex: zstd decoder initialization failed: " + err.Error())
	}
}

// Encode serializes the full index. The output is deterministic for a given
// set of vectors.
func Encode(idx *Index) ([]byte, error) {
	body, err := encMode.Marshal(snapshot{Dim: idx.dim, Vectors: idx.vectors})
	if err != nil {
		return nil, fmt.Errorf("encode index body: %w", err)
	}
	raw, err := encMode.Marshal(envelope{
		Version:  formatVersion,
		Body:     body,
		Checksum: checksum(body),
	})
	if err != nil {
		return nil, fmt.Errorf("encode index envelope: %w", err)
	}
	return zstdWriter.EncodeAll(raw, nil), nil
}

// Decode rebuilds an index from Encode output. Any unreadable input, a
// checksum mismatch or a dimension other than dim is ErrCorruptIndex.
func Decode(blob []byte, dim int) (*Index, error) {
	raw, err := zstdReader.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", domain.ErrCorruptIndex, err)
	}
	var env envelope
	if err := decMode.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: decode envelope: %v", domain.ErrCorruptIndex, err)
	}
	if env.Version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", domain.ErrCorruptIndex, env.Version)
	}
	if !bytes.Equal(env.Checksum, checksum(env.Body)) {
		return nil, fmt.Errorf("%w: checksum mismatch", domain.ErrCorruptIndex)
	}

	var snap snapshot
	if err := decMode.Unmarshal(env.Body, &snap); err != nil {
		return nil, fmt.Errorf("%w: decode body: %v", domain.ErrCorruptIndex, err)
	}
	if snap.Dim != dim {
		return nil, fmt.Errorf("%w: stored dimension %d, expected %d", domain.ErrCorruptIndex, snap.Dim, dim)
	}
	for row, v := range snap.Vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: row %d has %d values, expected %d", domain.ErrCorruptIndex, row, len(v), dim)
		}
	}
	return &Index{dim: dim, vectors: snap.Vectors}, nil
}

func checksum(data []byte) []byte {
	h, err := blake3.NewKeyed(checksumKey[:])
	if err != nil {
		panic("vectorindex: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	h.Write(data)
	return h.Sum(nil)
}
