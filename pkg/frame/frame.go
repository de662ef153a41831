// Copyright (c) 2025 A Bit of Help, Inc.

// Package frame builds and parses the self-describing container.
//
// Layout, all integers big-endian:
//
//	magic            4 bytes  BE 5F BA 11
//	format_version   u16
//	descriptor_count u16
//	descriptors      kind u8, algorithm_id u16, algorithm_version u16, param_len u32, params
//	payload_len      u64
//	payload
//	tag_len u16, tag            only when a seal descriptor is present
//
// The header is everything from the magic through the last descriptor. Seal stages
// authenticate it as associated data, so rewriting a descriptor breaks the tag.
package frame

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/stage"
)

// Magic marks the start of every container.
var Magic = [4]byte{0xBE, 0x5F, 0xBA, 0x11}

// FormatVersion is the only container layout this build writes and reads.
const FormatVersion uint16 = 1

const (
	fixedHeaderSize = 4 + 2 + 2
	descriptorSize  = 1 + 2 + 2 + 4
	payloadLenSize  = 8
	tagLenSize      = 2

	// MaxTagSize is the largest tag the u16 length prefix can carry.
	MaxTagSize = math.MaxUint16
)

// Container is a parsed container.
type Container struct {
	FormatVersion uint16
	Descriptors   []stage.Descriptor
	Payload       []byte
	Tag           []byte

	// Header holds the raw bytes from the magic through the last descriptor.
	Header []byte
}

// Sealed reports whether the container carries a seal descriptor.
func (c *Container) Sealed() bool {
	return hasSeal(c.Descriptors)
}

// Descriptor returns the descriptor of the given kind, if present.
func (c *Container) Descriptor(kind stage.Kind) (stage.Descriptor, bool) {
	for _, d := range c.Descriptors {
		if d.Kind == kind {
			return d, true
		}
	}
	return stage.Descriptor{}, false
}

// IsContainer reports whether data starts with the container magic.
func IsContainer(data []byte) bool {
	return len(data) >= len(Magic) && bytes.Equal(data[:len(Magic)], Magic[:])
}

// ValidateOrder enforces the fixed stage order: exactly one serialize descriptor first,
// then at most one compress descriptor, then at most one seal descriptor.
func ValidateOrder(descs []stage.Descriptor) error {
	if len(descs) == 0 {
		return fmt.Errorf("%w: no descriptors", perrors.ErrStageOrder)
	}
	if descs[0].Kind != stage.KindSerialize {
		return fmt.Errorf("%w: first stage is %s, expected serialize", perrors.ErrStageOrder, descs[0].Kind)
	}
	prev := descs[0].Kind
	for _, d := range descs[1:] {
		if !d.Kind.Valid() {
			return fmt.Errorf("%w: unknown stage kind %d", perrors.ErrStageOrder, uint8(d.Kind))
		}
		if d.Kind <= prev {
			return fmt.Errorf("%w: %s after %s", perrors.ErrStageOrder, d.Kind, prev)
		}
		prev = d.Kind
	}
	return nil
}

func hasSeal(descs []stage.Descriptor) bool {
	for _, d := range descs {
		if d.Kind == stage.KindSeal {
			return true
		}
	}
	return false
}

// EncodeHeader writes the header for descs. It is the associated data a seal stage
// must authenticate before Build is called with the resulting tag.
func EncodeHeader(descs []stage.Descriptor) ([]byte, error) {
	if err := ValidateOrder(descs); err != nil {
		return nil, err
	}
	if len(descs) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d descriptors", perrors.ErrStageOrder, len(descs))
	}

	size := fixedHeaderSize
	for _, d := range descs {
		if uint64(len(d.Params)) > math.MaxUint32 {
			return nil, fmt.Errorf("%w: %s params are %d bytes", perrors.ErrUnsupportedParameter, d.Kind, len(d.Params))
		}
		size += descriptorSize + len(d.Params)
	}

	buf := make([]byte, 0, size)
	buf = append(buf, Magic[:]...)
	buf = binary.BigEndian.AppendUint16(buf, FormatVersion)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(descs)))
	for _, d := range descs {
		buf = append(buf, byte(d.Kind))
		buf = binary.BigEndian.AppendUint16(buf, uint16(d.Algorithm))
		buf = binary.BigEndian.AppendUint16(buf, d.Version)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(d.Params)))
		buf = append(buf, d.Params...)
	}
	return buf, nil
}

// Build assembles a container. tag must be non-empty exactly when descs include a seal.
func Build(payload []byte, descs []stage.Descriptor, tag []byte) ([]byte, error) {
	header, err := EncodeHeader(descs)
	if err != nil {
		return nil, err
	}
	return BuildWithHeader(header, payload, descs, tag)
}

// BuildWithHeader assembles a container from a header previously returned by
// EncodeHeader for the same descriptors.
func BuildWithHeader(header, payload []byte, descs []stage.Descriptor, tag []byte) ([]byte, error) {
	sealed := hasSeal(descs)
	switch {
	case sealed && len(tag) == 0:
		return nil, fmt.Errorf("%w: seal descriptor without a tag", perrors.ErrStageOrder)
	case !sealed && len(tag) != 0:
		return nil, fmt.Errorf("%w: tag without a seal descriptor", perrors.ErrStageOrder)
	case len(tag) > MaxTagSize:
		return nil, fmt.Errorf("%w: tag is %d bytes", perrors.ErrUnsupportedParameter, len(tag))
	}

	size := len(header) + payloadLenSize + len(payload)
	if sealed {
		size += tagLenSize + len(tag)
	}
	out := make([]byte, 0, size)
	out = append(out, header...)
	out = binary.BigEndian.AppendUint64(out, uint64(len(payload)))
	out = append(out, payload...)
	if sealed {
		out = binary.BigEndian.AppendUint16(out, uint16(len(tag)))
		out = append(out, tag...)
	}
	return out, nil
}

// reader walks the container, failing with ErrTruncatedContainer on short input.
type reader struct {
	data []byte
	off  int
}

func (r *reader) take(n uint64, what string) ([]byte, error) {
	if n > uint64(len(r.data)-r.off) {
		return nil, fmt.Errorf("%w: %s needs %d bytes, %d remain", perrors.ErrTruncatedContainer, what, n, len(r.data)-r.off)
	}
	b := r.data[r.off : r.off+int(n)]
	r.off += int(n)
	return b, nil
}

func (r *reader) u16(what string) (uint16, error) {
	b, err := r.take(2, what)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) u32(what string) (uint32, error) {
	b, err := r.take(4, what)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) u64(what string) (uint64, error) {
	b, err := r.take(8, what)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// Parse validates and splits a container. The magic is checked first so that foreign
// data is reported as ErrNotAContainer rather than as corruption. The returned
// container copies nothing but descriptors; Payload, Tag and Header alias data.
func Parse(data []byte) (*Container, error) {
	if !IsContainer(data) {
		return nil, fmt.Errorf("%w: magic mismatch", perrors.ErrNotAContainer)
	}
	r := &reader{data: data, off: len(Magic)}

	version, err := r.u16("format version")
	if err != nil {
		return nil, err
	}
	if version != FormatVersion {
		return nil, fmt.Errorf("%w: %d", perrors.ErrUnknownFormatVersion, version)
	}

	count, err := r.u16("descriptor count")
	if err != nil {
		return nil, err
	}
	descs := make([]stage.Descriptor, 0, count)
	for i := 0; i < int(count); i++ {
		fixed, err := r.take(descriptorSize, "descriptor")
		if err != nil {
			return nil, err
		}
		plen := binary.BigEndian.Uint32(fixed[5:9])
		params, err := r.take(uint64(plen), "descriptor params")
		if err != nil {
			return nil, err
		}
		d := stage.Descriptor{
			Kind:      stage.Kind(fixed[0]),
			Algorithm: stage.AlgorithmID(binary.BigEndian.Uint16(fixed[1:3])),
			Version:   binary.BigEndian.Uint16(fixed[3:5]),
		}
		if plen > 0 {
			d.Params = append([]byte(nil), params...)
		}
		descs = append(descs, d)
	}
	header := data[:r.off]

	if err := ValidateOrder(descs); err != nil {
		return nil, err
	}

	plen, err := r.u64("payload length")
	if err != nil {
		return nil, err
	}
	payload, err := r.take(plen, "payload")
	if err != nil {
		return nil, err
	}

	var tag []byte
	if hasSeal(descs) {
		tlen, err := r.u16("tag length")
		if err != nil {
			return nil, err
		}
		if tag, err = r.take(uint64(tlen), "tag"); err != nil {
			return nil, err
		}
	}

	if r.off != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", perrors.ErrTruncatedContainer, len(data)-r.off)
	}

	return &Container{
		FormatVersion: version,
		Descriptors:   descs,
		Payload:       payload,
		Tag:           tag,
		Header:        header,
	}, nil
}
