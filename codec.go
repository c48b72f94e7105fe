// Zstd compression sessions.
//
// Encoder and decoder construction is expensive (internal state tables,
// dictionary parsing), so a Codec is built once per dictionary and reused
// by every archive that names the same dictionary. The CodecPool that
// holds them is owned by the caller rather than being package state: its
// lifetime is explicit and it must not be shared between goroutines
// without external synchronisation.
package quire

import (
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"
)

// Codec is a compress/decompress session bound to at most one dictionary.
type Codec struct {
	enc     *zstd.Encoder
	dec     *zstd.Decoder
	dict    string
	scratch []byte // reused decompression buffer
}

// NewCodec builds a codec. dict may be nil for no dictionary; otherwise it
// must be a zstd dictionary (as produced by `zstd --train`).
func NewCodec(dict []byte, level zstd.EncoderLevel) (*Codec, error) {
	if level == 0 {
		level = zstd.SpeedDefault
	}
	encOpts := []zstd.EOption{
		zstd.WithEncoderLevel(level),
		zstd.WithEncoderConcurrency(1),
		// Empty content still needs a real frame so that every record
		// has a payload frame recovery can measure.
		zstd.WithZeroFrames(true),
		// Single-segment frames always carry their content size, which
		// GetFileSize and GetFileTo read from the header.
		zstd.WithSingleSegment(true),
	}
	decOpts := []zstd.DOption{
		zstd.WithDecoderConcurrency(1),
	}
	if len(dict) > 0 {
		encOpts = append(encOpts, zstd.WithEncoderDict(dict))
		decOpts = append(decOpts, zstd.WithDecoderDicts(dict))
	}

	enc, err := zstd.NewWriter(nil, encOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDictionary, err)
	}
	dec, err := zstd.NewReader(nil, decOpts...)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("%w: %w", ErrDictionary, err)
	}
	return &Codec{enc: enc, dec: dec}, nil
}

// Compress compresses src into dst and returns the number of bytes used.
// If the frame does not fit, it returns ErrShortBuffer together with the
// number of bytes the frame needs; dst may then hold partial output.
func (c *Codec) Compress(dst, src []byte) (int, error) {
	out := c.enc.EncodeAll(src, dst[:0:len(dst)])
	if len(out) == 0 {
		return 0, ErrCompress
	}
	if len(out) > len(dst) {
		return len(out), ErrShortBuffer
	}
	if &out[0] != &dst[0] {
		copy(dst, out)
	}
	return len(out), nil
}

// Decompress decompresses one frame into dst and returns the number of
// bytes written. dst is only written if the whole frame decodes and fits.
func (c *Codec) Decompress(dst, frame []byte) (int, error) {
	out, err := c.dec.DecodeAll(frame, c.scratch[:0])
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrDecompress, err)
	}
	c.scratch = out[:0]
	if len(out) > len(dst) {
		return 0, ErrShortBuffer
	}
	return copy(dst, out), nil
}

// Close releases the encoder and decoder.
func (c *Codec) Close() {
	c.enc.Close()
	c.dec.Close()
}

// compressBound is the worst-case zstd frame size for n input bytes.
func compressBound(n int) int {
	margin := 0
	if n < 128<<10 {
		margin = ((128 << 10) - n) >> 11
	}
	return n + n>>8 + margin + 64
}

// contentSize returns the decompressed size recorded in a payload frame header.
func contentSize(frame []byte) (int64, error) {
	var h zstd.Header
	if err := h.Decode(frame); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}
	if !h.HasFCS {
		return 0, fmt.Errorf("%w: frame has no content size", ErrCorruptRecord)
	}
	return int64(h.FrameContentSize), nil
}

// CodecPool caches one Codec per dictionary path. The empty path means no
// dictionary. A CodecPool is not safe for concurrent use.
type CodecPool struct {
	level  zstd.EncoderLevel
	codecs map[string]*Codec
}

// NewCodecPool returns an empty pool whose codecs compress at level.
func NewCodecPool(level zstd.EncoderLevel) *CodecPool {
	if level == 0 {
		level = zstd.SpeedDefault
	}
	return &CodecPool{level: level, codecs: map[string]*Codec{}}
}

// Get returns the codec for dictPath, loading the dictionary on first use.
func (p *CodecPool) Get(dictPath string) (*Codec, error) {
	if c, ok := p.codecs[dictPath]; ok {
		return c, nil
	}

	var dict []byte
	if dictPath != "" {
		var err error
		dict, err = os.ReadFile(dictPath)
		if err != nil {
			return nil, fmt.Errorf("load dictionary: %w", err)
		}
	}

	c, err := NewCodec(dict, p.level)
	if err != nil {
		return nil, err
	}
	c.dict = dictPath
	p.codecs[dictPath] = c
	return c, nil
}

// Len reports how many codecs the pool holds.
func (p *CodecPool) Len() int {
	return len(p.codecs)
}

// Close releases every codec in the pool.
func (p *CodecPool) Close() {
	for k, c := range p.codecs {
		c.Close()
		delete(p.codecs, k)
	}
}
