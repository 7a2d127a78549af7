/*
Copyright © 2021 the Krogh authors.
This file is part of Krogh.

Krogh is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Krogh is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Krogh.  If not, see <http://www.gnu.org/licenses/>.
*/

package krogh

import (
	"bufio"
	"encoding"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/ctessum/unit"
	"google.golang.org/protobuf/encoding/protowire"
)

// CodecVersion is the version of the binary format written by
// MarshalBinary. The message layouts are documented in krogh.proto.
const CodecVersion = 1

const versionField protowire.Number = 1

// A wireQuantity is a dimensioned field stored as an SI double.
type wireQuantity struct {
	num   protowire.Number
	units string
}

type paramQuantity struct {
	wireQuantity
	field func(*Parameters) **unit.Unit
}

type paramInt struct {
	num   protowire.Number
	field func(*Parameters) *int
}

type paramBool struct {
	num   protowire.Number
	field func(*Parameters) *bool
}

var (
	paramQuantities = []paramQuantity{
		{wireQuantity{2, MlO2Per100gPerMin}, func(p *Parameters) **unit.Unit { return &p.CMRO2 }},
		{wireQuantity{3, Micrometer}, func(p *Parameters) **unit.Unit { return &p.ZCapillary }},
		{wireQuantity{4, MillimeterPerSec}, func(p *Parameters) **unit.Unit { return &p.Velocity }},
		{wireQuantity{5, Cm2PerSec}, func(p *Parameters) **unit.Unit { return &p.D }},
		{wireQuantity{6, Micrometer}, func(p *Parameters) **unit.Unit { return &p.RKrogh }},
		{wireQuantity{7, Micrometer}, func(p *Parameters) **unit.Unit { return &p.RCapillary }},
		{wireQuantity{8, MMHg}, func(p *Parameters) **unit.Unit { return &p.PaO2 }},
		{wireQuantity{9, GramPerDeciliter}, func(p *Parameters) **unit.Unit { return &p.Hb }},
		{wireQuantity{10, MlO2PerDLPerMMHg}, func(p *Parameters) **unit.Unit { return &p.Sigma }},
	}
	paramInts = []paramInt{
		{11, func(p *Parameters) *int { return &p.RSteps }},
		{12, func(p *Parameters) *int { return &p.ZSteps }},
		{15, func(p *Parameters) *int { return &p.ReportInterval }},
		{16, func(p *Parameters) *int { return &p.JobNumber }},
	}
	paramBools = []paramBool{
		{13, func(p *Parameters) *bool { return &p.Test }},
		{14, func(p *Parameters) *bool { return &p.Verbose }},
	}
)

type resultQuantity struct {
	wireQuantity
	field func(*Result) **unit.Unit
}

type resultFloat struct {
	num   protowire.Number
	field func(*Result) *float64
}

var (
	resultQuantities = []resultQuantity{
		{wireQuantity{2, MMHg}, func(r *Result) **unit.Unit { return &r.PaO2 }},
		{wireQuantity{3, MMHg}, func(r *Result) **unit.Unit { return &r.PbO2 }},
		{wireQuantity{4, MlO2PerDeciliter}, func(r *Result) **unit.Unit { return &r.AVO2Difference }},
		{wireQuantity{7, MMHg}, func(r *Result) **unit.Unit { return &r.PavO2 }},
	}
	resultFloats = []resultFloat{
		{5, func(r *Result) *float64 { return &r.JugularVenousO2Sat }},
		{6, func(r *Result) *float64 { return &r.O2ExtractionFraction }},
		{8, func(r *Result) *float64 { return &r.HypoxicFraction }},
	}
)

const (
	fieldRowsField protowire.Number = 9
	fieldColsField protowire.Number = 10
	fieldDataField protowire.Number = 11
)

// MarshalBinary encodes p in the versioned binary format.
func (p *Parameters) MarshalBinary() ([]byte, error) {
	b := appendVersion(nil)
	for _, q := range paramQuantities {
		b = q.appendTo(b, *q.field(p))
	}
	for _, f := range paramInts {
		b = protowire.AppendTag(b, f.num, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(*f.field(p))))
	}
	for _, f := range paramBools {
		b = protowire.AppendTag(b, f.num, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(*f.field(p)))
	}
	return b, nil
}

// UnmarshalBinary decodes data written by MarshalBinary into p.
func (p *Parameters) UnmarshalBinary(data []byte) error {
	*p = Parameters{}
	err := decodeMessage(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		for _, q := range paramQuantities {
			if q.num == num {
				return q.consume(typ, b, q.field(p))
			}
		}
		for _, f := range paramInts {
			if f.num == num {
				v, n, err := consumeVarint(num, typ, b)
				*f.field(p) = int(protowire.DecodeZigZag(v))
				return n, err
			}
		}
		for _, f := range paramBools {
			if f.num == num {
				v, n, err := consumeVarint(num, typ, b)
				*f.field(p) = protowire.DecodeBool(v)
				return n, err
			}
		}
		return 0, nil
	})
	if err != nil {
		return fmt.Errorf("krogh: decoding parameters: %v", err)
	}
	return nil
}

// MarshalBinary encodes r, including its pressure field, in the
// versioned binary format.
func (r *Result) MarshalBinary() ([]byte, error) {
	b := appendVersion(nil)
	for _, q := range resultQuantities {
		b = q.appendTo(b, *q.field(r))
	}
	for _, f := range resultFloats {
		b = protowire.AppendTag(b, f.num, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(*f.field(r)))
	}
	if r.P != nil {
		nz, nr := r.P.Shape()
		b = protowire.AppendTag(b, fieldRowsField, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(nz))
		b = protowire.AppendTag(b, fieldColsField, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(nr))
		data := r.P.Values()
		b = protowire.AppendTag(b, fieldDataField, protowire.BytesType)
		b = protowire.AppendVarint(b, uint64(len(data)*protowire.SizeFixed64()))
		for _, v := range data {
			b = protowire.AppendFixed64(b, math.Float64bits(v))
		}
	}
	return b, nil
}

// UnmarshalBinary decodes data written by MarshalBinary into r.
func (r *Result) UnmarshalBinary(data []byte) error {
	*r = Result{}
	var nz, nr uint64
	var values []float64
	err := decodeMessage(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		for _, q := range resultQuantities {
			if q.num == num {
				return q.consume(typ, b, q.field(r))
			}
		}
		for _, f := range resultFloats {
			if f.num == num {
				v, n, err := consumeFixed64(num, typ, b)
				*f.field(r) = math.Float64frombits(v)
				return n, err
			}
		}
		switch num {
		case fieldRowsField:
			v, n, err := consumeVarint(num, typ, b)
			nz = v
			return n, err
		case fieldColsField:
			v, n, err := consumeVarint(num, typ, b)
			nr = v
			return n, err
		case fieldDataField:
			if typ != protowire.BytesType {
				return 0, wireTypeError(num, typ)
			}
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			if len(packed)%protowire.SizeFixed64() != 0 {
				return 0, fmt.Errorf("field data has %d bytes", len(packed))
			}
			values = make([]float64, 0, len(packed)/protowire.SizeFixed64())
			for len(packed) > 0 {
				v, m := protowire.ConsumeFixed64(packed)
				values = append(values, math.Float64frombits(v))
				packed = packed[m:]
			}
			return n, nil
		}
		return 0, nil
	})
	if err != nil {
		return fmt.Errorf("krogh: decoding result: %v", err)
	}
	if nz == 0 && nr == 0 && values == nil {
		return nil
	}
	const maxSamples = maxMessageSize / 8
	if nz > maxSamples || nr > maxSamples {
		return fmt.Errorf("krogh: decoding result: field of %d×%d is too large", nz, nr)
	}
	if uint64(len(values)) != nz*nr || nz == 0 || nr == 0 {
		return fmt.Errorf("krogh: decoding result: %d field values do not fit %d×%d", len(values), nz, nr)
	}
	r.P = NewPressureField(int(nz), int(nr))
	copy(r.P.Values(), values)
	return nil
}

func appendVersion(b []byte) []byte {
	b = protowire.AppendTag(b, versionField, protowire.VarintType)
	return protowire.AppendVarint(b, CodecVersion)
}

// appendTo writes u as its SI value. Missing quantities are omitted.
func (q wireQuantity) appendTo(b []byte, u *unit.Unit) []byte {
	if u == nil {
		return b
	}
	b = protowire.AppendTag(b, q.num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(u.Value()))
}

func (q wireQuantity) consume(typ protowire.Type, b []byte, dst **unit.Unit) (int, error) {
	v, n, err := consumeFixed64(q.num, typ, b)
	if err != nil {
		return 0, err
	}
	*dst = unit.New(math.Float64frombits(v), lookupUnits(q.units).dims)
	return n, nil
}

// decodeMessage checks the version of message data and calls f for every
// other field. f returns the number of bytes of the field value it
// consumed, or 0 to skip an unknown field.
func decodeMessage(data []byte, f func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	var version uint64
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		var err error
		if num == versionField {
			version, n, err = consumeVarint(num, typ, data)
			if err == nil && version != CodecVersion {
				err = fmt.Errorf("unsupported version %d (want %d)", version, CodecVersion)
			}
		} else {
			n, err = f(num, typ, data)
		}
		if err != nil {
			return err
		}
		if n == 0 {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
		}
		data = data[n:]
	}
	if version == 0 {
		return fmt.Errorf("missing version")
	}
	return nil
}

func consumeVarint(num protowire.Number, typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, wireTypeError(num, typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeFixed64(num protowire.Number, typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.Fixed64Type {
		return 0, 0, wireTypeError(num, typ)
	}
	v, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func wireTypeError(num protowire.Number, typ protowire.Type) error {
	return fmt.Errorf("field %d has unexpected wire type %d", num, typ)
}

// maxMessageSize limits the length of a single delimited message.
const maxMessageSize = 1 << 30

// WriteDelimited writes m to w, prefixed by its length as a varint.
func WriteDelimited(w io.Writer, m encoding.BinaryMarshaler) error {
	b, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = w.Write(protowire.AppendBytes(nil, b))
	return err
}

// ReadDelimited reads a message written by WriteDelimited into m.
// It returns io.EOF if r is empty.
func ReadDelimited(r *bufio.Reader, m encoding.BinaryUnmarshaler) error {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return err
	}
	if n > maxMessageSize {
		return fmt.Errorf("krogh: message of %d bytes is too large", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return fmt.Errorf("krogh: reading message: %v", err)
	}
	return m.UnmarshalBinary(b)
}

// Save returns a function that writes the parameters and results of a
// simulation to w. It must run after Aggregate.
func Save(w io.Writer) DomainManipulator {
	return func(c *Capillary) error {
		if c.Result == nil {
			return fmt.Errorf("krogh.Save: no results to save")
		}
		if err := WriteDelimited(w, c.Params); err != nil {
			return fmt.Errorf("krogh.Save: %v", err)
		}
		if err := WriteDelimited(w, c.Result); err != nil {
			return fmt.Errorf("krogh.Save: %v", err)
		}
		return nil
	}
}

// Load reads parameters and results written by Save.
func Load(r io.Reader) (*Parameters, *Result, error) {
	br := bufio.NewReader(r)
	p := new(Parameters)
	if err := ReadDelimited(br, p); err != nil {
		return nil, nil, fmt.Errorf("krogh.Load: %v", err)
	}
	res := new(Result)
	if err := ReadDelimited(br, res); err != nil {
		return nil, nil, fmt.Errorf("krogh.Load: %v", err)
	}
	return p, res, nil
}
