package util

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CodecTag identifies the codec that produced a compressed chunk image.
// The tag is the first byte of every compressed sibling file, so the
// values are part of the on-disk format.
type CodecTag uint8

const (
	CodecZstd CodecTag = 1
	CodecLZ4  CodecTag = 2
)

// Codec is a whole-buffer lossless block codec. Implementations are
// stateless from the caller's point of view and safe for concurrent use.
type Codec interface {
	Name() string
	Tag() CodecTag
	// Encode returns ErrIncompressible when the output would not be
	// smaller than src.
	Encode(src []byte) ([]byte, error)
	// Decode returns exactly size bytes or an error.
	Decode(src []byte, size int) ([]byte, error)
}

// ParseCodec returns the codec registered under name.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "zstd", "":
		return zstdCodec{}, nil
	case "lz4":
		return lz4Codec{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// CodecByTag returns the codec that writes images with the given tag.
func CodecByTag(tag CodecTag) (Codec, error) {
	switch tag {
	case CodecZstd:
		return zstdCodec{}, nil
	case CodecLZ4:
		return lz4Codec{}, nil
	default:
		return nil, fmt.Errorf("%w: tag %d", ErrUnknownCodec, tag)
	}
}

// zstd encoder and decoder are safe for concurrent use and expensive to
// build, so one of each is shared by the whole process.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("chunkfs: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("chunkfs: zstd decoder initialization failed: " + err.Error())
	}
}

type zstdCodec struct{}

func (zstdCodec) Name() string  { return "zstd" }
func (zstdCodec) Tag() CodecTag { return CodecZstd }

func (zstdCodec) Encode(src []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(src, make([]byte, 0, len(src)/2))
	if len(compressed) >= len(src) {
		return nil, ErrIncompressible
	}
	return compressed, nil
}

func (zstdCodec) Decode(src []byte, size int) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(src, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	if len(out) != size {
		return nil, fmt.Errorf("zstd decode: got %d bytes, want %d: %w", len(out), size, ErrSizeMismatch)
	}
	return out, nil
}

type lz4Codec struct{}

func (lz4Codec) Name() string  { return "lz4" }
func (lz4Codec) Tag() CodecTag { return CodecLZ4 }

func (lz4Codec) Encode(src []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 encode: %w", err)
	}
	// CompressBlock reports 0 for data it considers incompressible.
	if n == 0 || n >= len(src) {
		return nil, ErrIncompressible
	}
	return dst[:n], nil
}

func (lz4Codec) Decode(src []byte, size int) ([]byte, error) {
	dst := make([]byte, size)
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decode: %w", err)
	}
	if n != size {
		return nil, fmt.Errorf("lz4 decode: got %d bytes, want %d: %w", n, size, ErrSizeMismatch)
	}
	return dst, nil
}

// EncodeImage compresses src with codec and prefixes the codec tag.
func EncodeImage(codec Codec, src []byte) ([]byte, error) {
	payload, err := codec.Encode(src)
	if err != nil {
		return nil, err
	}
	image := make([]byte, 0, len(payload)+1)
	image = append(image, byte(codec.Tag()))
	return append(image, payload...), nil
}

// DecodeImage reverses EncodeImage. The codec is picked from the image's
// tag byte, not from the current configuration.
func DecodeImage(image []byte, size int) ([]byte, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("empty compressed image: %w", ErrSizeMismatch)
	}
	codec, err := CodecByTag(CodecTag(image[0]))
	if err != nil {
		return nil, err
	}
	return codec.Decode(image[1:], size)
}
