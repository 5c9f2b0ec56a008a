package cluster

import (
	"bytes"
	"io"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

// Algorithm tags which codec compressed a frame, stored as the first
// byte of the frame so a reader never has to guess (spec §7:
// decompression failure at the frame level is a corrupted-slot error,
// not an algorithm mismatch).
type Algorithm byte

const (
	AlgorithmLZ4    Algorithm = 1
	AlgorithmSnappy Algorithm = 2
)

// Codec compresses/decompresses one frame's worth of bytes.
type Codec interface {
	Algorithm() Algorithm
	Compress(plain []byte) ([]byte, error)
	Decompress(compressed []byte, originalSize int) ([]byte, error)
}

// CodecFor resolves an Algorithm tag to its Codec, used when decoding
// a frame whose header names the algorithm it was written with.
func CodecFor(a Algorithm) (Codec, error) {
	switch a {
	case AlgorithmLZ4:
		return lz4Codec{}, nil
	case AlgorithmSnappy:
		return snappyCodec{}, nil
	default:
		return nil, errors.Errorf("cluster: unsupported compression algorithm %d", a)
	}
}

type lz4Codec struct{}

func (lz4Codec) Algorithm() Algorithm { return AlgorithmLZ4 }

func (lz4Codec) Compress(plain []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(plain); err != nil {
		return nil, errors.Wrap(err, "cluster: lz4 compress")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "cluster: lz4 close")
	}
	return buf.Bytes(), nil
}

func (lz4Codec) Decompress(compressed []byte, originalSize int) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(compressed))
	out := make([]byte, originalSize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, errors.Wrap(err, "cluster: lz4 decompress")
	}
	return out, nil
}

type snappyCodec struct{}

func (snappyCodec) Algorithm() Algorithm { return AlgorithmSnappy }

func (snappyCodec) Compress(plain []byte) ([]byte, error) {
	return snappy.Encode(nil, plain), nil
}

func (snappyCodec) Decompress(compressed []byte, originalSize int) ([]byte, error) {
	out, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, errors.Wrap(err, "cluster: snappy decompress")
	}
	return out, nil
}
