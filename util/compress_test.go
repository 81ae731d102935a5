package util

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCodec(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{name: "", want: "zstd"},
		{name: "zstd", want: "zstd"},
		{name: "lz4", want: "lz4"},
		{name: "gzip", wantErr: true},
		{name: "ZSTD", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec, err := ParseCodec(tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownCodec)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, codec.Name())
		})
	}
}

func TestCodecByTag(t *testing.T) {
	for _, name := range []string{"zstd", "lz4"} {
		codec, err := ParseCodec(name)
		require.NoError(t, err)
		got, err := CodecByTag(codec.Tag())
		require.NoError(t, err)
		assert.Equal(t, name, got.Name())
	}

	_, err := CodecByTag(0)
	assert.ErrorIs(t, err, ErrUnknownCodec)
	_, err = CodecByTag(99)
	assert.ErrorIs(t, err, ErrUnknownCodec)
}

func TestEncodeDecodeImage(t *testing.T) {
	src := bytes.Repeat([]byte("chunkfs keeps every file in 1 MiB pieces\n"), 25000)

	for _, name := range []string{"zstd", "lz4"} {
		t.Run(name, func(t *testing.T) {
			codec, err := ParseCodec(name)
			require.NoError(t, err)

			image, err := EncodeImage(codec, src)
			require.NoError(t, err)
			assert.Equal(t, byte(codec.Tag()), image[0], "image must start with the codec tag")
			assert.Less(t, len(image), len(src))

			out, err := DecodeImage(image, len(src))
			require.NoError(t, err)
			assert.True(t, bytes.Equal(src, out), "decoded data differs from input")
		})
	}
}

func TestDecodeImage_UsesTagNotConfiguredCodec(t *testing.T) {
	src := bytes.Repeat([]byte{0xAB}, 64*1024)
	lz4Codec, err := ParseCodec("lz4")
	require.NoError(t, err)

	image, err := EncodeImage(lz4Codec, src)
	require.NoError(t, err)

	// Whatever codec is configured now, the image decodes with lz4.
	out, err := DecodeImage(image, len(src))
	require.NoError(t, err)
	assert.Equal(t, src, out)
}

func TestEncode_Incompressible(t *testing.T) {
	src := make([]byte, 256*1024)
	_, err := rand.Read(src)
	require.NoError(t, err)

	for _, name := range []string{"zstd", "lz4"} {
		t.Run(name, func(t *testing.T) {
			codec, err := ParseCodec(name)
			require.NoError(t, err)
			_, err = EncodeImage(codec, src)
			assert.ErrorIs(t, err, ErrIncompressible)
		})
	}
}

func TestDecodeImage_SizeMismatch(t *testing.T) {
	src := bytes.Repeat([]byte("abc"), 10000)
	for _, name := range []string{"zstd", "lz4"} {
		t.Run(name, func(t *testing.T) {
			codec, err := ParseCodec(name)
			require.NoError(t, err)
			image, err := EncodeImage(codec, src)
			require.NoError(t, err)

			_, err = DecodeImage(image, len(src)+1)
			assert.Error(t, err)
		})
	}
}

func TestDecodeImage_Empty(t *testing.T) {
	_, err := DecodeImage(nil, 10)
	assert.ErrorIs(t, err, ErrSizeMismatch)
}
