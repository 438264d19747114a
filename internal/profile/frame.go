package profile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pierrec/lz4/v4"
)

// Frame header values. A frame is one header byte followed by the body.
const (
	frameRaw byte = 0x00
	frameLZ4 byte = 0x01
)

// Bodies below this size are never worth compressing.
const minCompressSize = 512

var errEmptyFrame = errors.New("empty frame")

var compressorPool = sync.Pool{
	New: func() any {
		return lz4.NewWriter(nil)
	},
}

var decompressorPool = sync.Pool{
	New: func() any {
		return lz4.NewReader(nil)
	},
}

func wrapFrame(body []byte) ([]byte, error) {
	if len(body) >= minCompressSize {
		compressed, err := compress(body)
		if err != nil {
			return nil, err
		}
		if len(compressed) < len(body) {
			return append([]byte{frameLZ4}, compressed...), nil
		}
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, frameRaw)
	return append(out, body...), nil
}

func unwrapFrame(frame []byte, maxBody int) ([]byte, error) {
	if len(frame) == 0 {
		return nil, errEmptyFrame
	}
	switch frame[0] {
	case frameRaw:
		return frame[1:], nil
	case frameLZ4:
		return decompress(frame[1:], maxBody)
	default:
		return nil, fmt.Errorf("unknown frame type 0x%02x", frame[0])
	}
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := compressorPool.Get().(*lz4.Writer)
	defer compressorPool.Put(w)

	w.Reset(&buf)
	_ = w.Apply(lz4.CompressionLevelOption(lz4.Fast))

	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("lz4 write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 close: %w", err)
	}
	return buf.Bytes(), nil
}

func decompress(data []byte, maxBody int) ([]byte, error) {
	r := decompressorPool.Get().(*lz4.Reader)
	defer decompressorPool.Put(r)

	r.Reset(bytes.NewReader(data))

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, int64(maxBody)+1))
	if err != nil {
		return nil, fmt.Errorf("lz4 read: %w", err)
	}
	if n > int64(maxBody) {
		return nil, fmt.Errorf("decompressed body exceeds %d bytes", maxBody)
	}
	return buf.Bytes(), nil
}
