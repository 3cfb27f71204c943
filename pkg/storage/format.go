package storage

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	// Magic bytes to identify our file format
	MagicBytes = "GODB"
	// Current version
	FormatVersion = 2
	// File extension for our optimized format
	FileExtension = ".godb"

	// FlagCompressed marks a body wrapped in an lz4 frame
	FlagCompressed uint8 = 1 << 0
)

// FileHeader represents the header of our storage file
type FileHeader struct {
	Magic    [4]byte // "GODB"
	Version  uint8   // Format version
	Flags    uint8   // FlagCompressed
	Reserved [2]byte // Reserved for future use
}

// WriteHeader writes the file header to the given writer
func WriteHeader(w io.Writer, flags uint8) error {
	header := FileHeader{
		Magic:   [4]byte{'G', 'O', 'D', 'B'},
		Version: FormatVersion,
		Flags:   flags,
	}

	return binary.Write(w, binary.LittleEndian, header)
}

// ReadHeader reads and validates the file header
func ReadHeader(r io.Reader) (*FileHeader, error) {
	var header FileHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	if string(header.Magic[:]) != MagicBytes {
		return nil, fmt.Errorf("invalid file format: expected %s, got %s", MagicBytes, string(header.Magic[:]))
	}

	if header.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported file version: %d", header.Version)
	}

	return &header, nil
}

// EncodeFile writes a compressed GODB file holding v as MessagePack
func EncodeFile(w io.Writer, v interface{}) error {
	if err := WriteHeader(w, FlagCompressed); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	zw := lz4.NewWriter(w)
	enc := msgpack.NewEncoder(zw)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode MessagePack: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to compress data: %w", err)
	}
	return nil
}

// DecodeFile reads a GODB file written by EncodeFile into v
func DecodeFile(r io.Reader, v interface{}) error {
	header, err := ReadHeader(r)
	if err != nil {
		return fmt.Errorf("invalid file header: %w", err)
	}

	body := r
	if header.Flags&FlagCompressed != 0 {
		body = lz4.NewReader(r)
	}

	dec := msgpack.NewDecoder(body)
	dec.SetCustomStructTag("json")
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("failed to decode MessagePack: %w", err)
	}
	return nil
}
