// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"gopkg.in/yaml.v3"
)

// Format is a serialization format.
type Format string

const (
	JSON Format = "json"
	YAML Format = "yaml"
	CBOR Format = "cbor"
)

// Compression is the stream compression applied around a format.
type Compression string

const (
	Uncompressed Compression = ""
	Zstd         Compression = "zstd"
	LZ4          Compression = "lz4"
)

var compressionExtensions = map[string]Compression{
	".zst": Zstd,
	".lz4": LZ4,
}

// FormatFor returns the format and compression implied by path:
// report.json, report.yaml, report.yml or report.cbor, each optionally
// followed by .zst or .lz4.
func FormatFor(path string) (Format, Compression, error) {
	name := strings.ToLower(filepath.Base(path))
	compression := Uncompressed
	if found, ok := compressionExtensions[filepath.Ext(name)]; ok {
		compression = found
		name = strings.TrimSuffix(name, filepath.Ext(name))
	}

	switch filepath.Ext(name) {
	case ".json":
		return JSON, compression, nil
	case ".yaml", ".yml":
		return YAML, compression, nil
	case ".cbor":
		return CBOR, compression, nil
	default:
		return "", Uncompressed, fmt.Errorf("cannot infer format of %q: use .json, .yaml, or .cbor, optionally followed by .zst or .lz4", path)
	}
}

// Encode writes v to w in format.
func Encode(w io.Writer, format Format, v any) error {
	switch format {
	case JSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(v)
	case YAML:
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(v); err != nil {
			return err
		}
		return encoder.Close()
	case CBOR:
		return NewCBOREncoder(w).Encode(v)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

// Decode reads one value of format from r into v.
func Decode(r io.Reader, format Format, v any) error {
	switch format {
	case JSON:
		return json.NewDecoder(r).Decode(v)
	case YAML:
		return yaml.NewDecoder(r).Decode(v)
	case CBOR:
		return NewCBORDecoder(r).Decode(v)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

// WriteFile encodes v into path, choosing the format from the name.
// The file is written to a temporary sibling and renamed into place,
// so readers never observe a partial report.
func WriteFile(path string, v any) (err error) {
	format, compression, err := FormatFor(path)
	if err != nil {
		return err
	}

	temporary, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating report file: %w", err)
	}
	defer func() {
		if err != nil {
			temporary.Close()
			os.Remove(temporary.Name())
		}
	}()

	buffered := bufio.NewWriter(temporary)
	writer, err := compress(buffered, compression)
	if err != nil {
		return err
	}
	if err := Encode(writer, format, v); err != nil {
		return fmt.Errorf("encoding %s report: %w", format, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finishing %s stream: %w", compression, err)
	}
	if err := buffered.Flush(); err != nil {
		return fmt.Errorf("writing report file: %w", err)
	}
	if err := temporary.Chmod(0o644); err != nil {
		return fmt.Errorf("setting report file mode: %w", err)
	}
	if err := temporary.Close(); err != nil {
		return fmt.Errorf("closing report file: %w", err)
	}
	if err := os.Rename(temporary.Name(), path); err != nil {
		return fmt.Errorf("installing report file: %w", err)
	}
	return nil
}

// ReadFile decodes path into v, choosing the format from the name.
func ReadFile(path string, v any) error {
	format, compression, err := FormatFor(path)
	if err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	reader, err := decompress(bufio.NewReader(file), compression)
	if err != nil {
		return err
	}
	defer reader.Close()

	if err := Decode(reader, format, v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%s: empty report", path)
		}
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// compress wraps w in an encoder for compression. Close finishes the
// compressed stream but does not close w.
func compress(w io.Writer, compression Compression) (io.WriteCloser, error) {
	switch compression {
	case Zstd:
		encoder, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		return encoder, nil
	case LZ4:
		return lz4.NewWriter(w), nil
	default:
		return nopWriteCloser{w}, nil
	}
}

// decompress wraps r in a decoder for compression.
func decompress(r io.Reader, compression Compression) (io.ReadCloser, error) {
	switch compression {
	case Zstd:
		decoder, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("opening zstd stream: %w", err)
		}
		return decoder.IOReadCloser(), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return io.NopCloser(r), nil
	}
}
