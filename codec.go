package asyncq

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
)

// Codec turns typed payloads into message bodies and back.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

var (
	// JSON encodes payloads with encoding/json. It is the default codec.
	JSON Codec = jsonCodec{}

	// XML encodes payloads as XML documents, the body format written by
	// XML message formatters.
	XML Codec = xmlCodec{}
)

type jsonCodec struct{}

func (jsonCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s", ErrDecode, err)
	}
	return nil
}

type xmlCodec struct{}

func (xmlCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (xmlCodec) Decode(data []byte, v any) error {
	if err := xml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s", ErrDecode, err)
	}
	return nil
}

// Compression selects the algorithm used by Compressed.
type Compression int8

const (
	Snappy Compression = iota + 1
	LZ4
)

func (c Compression) String() string {
	switch c {
	case Snappy:
		return "snappy"
	case LZ4:
		return "lz4"
	default:
		return fmt.Sprintf("Compression(%d)", int8(c))
	}
}

// Compressed wraps c so that encoded bodies are compressed with alg.
func Compressed(c Codec, alg Compression) Codec {
	return compressedCodec{inner: c, alg: alg}
}

type compressedCodec struct {
	inner Codec
	alg   Compression
}

func (c compressedCodec) Encode(v any) ([]byte, error) {
	data, err := c.inner.Encode(v)
	if err != nil {
		return nil, err
	}
	switch c.alg {
	case Snappy:
		return snappy.Encode(nil, data), nil
	case LZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			_ = w.Close()
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("asyncq: unknown compression %s", c.alg)
	}
}

func (c compressedCodec) Decode(data []byte, v any) error {
	var (
		raw []byte
		err error
	)
	switch c.alg {
	case Snappy:
		raw, err = snappy.Decode(nil, data)
	case LZ4:
		raw, err = io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	default:
		err = fmt.Errorf("unknown compression %s", c.alg)
	}
	if err != nil {
		return fmt.Errorf("%w: %s", ErrDecode, err)
	}
	return c.inner.Decode(raw, v)
}
