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

package sweep

import (
	"bufio"
	"bytes"
	"encoding"
	"fmt"
	"io"
	"math"

	"github.com/spatialmodel/krogh"
	"google.golang.org/protobuf/encoding/protowire"
)

// Record holds the evaluation of one grid point. Fields are addressed by
// their name tags, for example "base_results.pbO2" or "hb_params.Hb".
type Record struct {
	Params           *krogh.Parameters `name:"params"`
	PaO2Multiple     float64           `name:"paO2_multiple"`
	VelocityMultiple float64           `name:"velocity_multiple"`
	NoSearch         bool              `name:"no_search"`

	// BaseResults are the results at Params. PaO2Results and
	// VelocityResults are the results with paO2 and velocity scaled by
	// their multiples.
	BaseResults     *krogh.Result `name:"base_results"`
	PaO2Results     *krogh.Result `name:"paO2_results"`
	VelocityResults *krogh.Result `name:"velocity_results"`

	RatioPbO2PaO2 float64 `name:"ratio_pbO2_paO2" desc:"pbO2 with paO2 scaled over base pbO2"`
	PaO2UpHF      float64 `name:"paO2up_hf" desc:"Hypoxic fraction with paO2 scaled"`
	RatioPbO2Vel  float64 `name:"ratio_pbO2_vel" desc:"pbO2 with velocity scaled over base pbO2"`
	VelUpHF       float64 `name:"velup_hf" desc:"Hypoxic fraction with velocity scaled"`

	// The results and parameters at the end of the searches for a 10%
	// increase in pbO2 by changing each of Hb, velocity, paO2 and CMRO2.
	HbSearch       *krogh.Result     `name:"hb_search"`
	HbParams       *krogh.Parameters `name:"hb_params"`
	VelocitySearch *krogh.Result     `name:"velocity_search"`
	VelocityParams *krogh.Parameters `name:"velocity_params"`
	PaO2Search     *krogh.Result     `name:"paO2_search"`
	PaO2Params     *krogh.Parameters `name:"paO2_params"`
	CMRO2Search    *krogh.Result     `name:"CMRO2_search"`
	CMRO2Params    *krogh.Parameters `name:"CMRO2_params"`
}

// RecordVersion is the version of the binary record format.
const RecordVersion = 1

const (
	recVersion protowire.Number = iota + 1
	recParams
	recPaO2Multiple
	recVelocityMultiple
	recNoSearch
	recBase
	recPaO2Results
	recVelocityResults
	recRatioPbO2PaO2
	recPaO2UpHF
	recRatioPbO2Vel
	recVelUpHF
	recHbSearch
	recHbParams
	recVelocitySearch
	recVelocityParams
	recPaO2Search
	recPaO2Params
	recCMRO2Search
	recCMRO2Params
)

type message interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// messages returns the nested messages of r by field number. New values
// are allocated for missing messages if alloc is set.
func (r *Record) messages(alloc bool) map[protowire.Number]message {
	m := make(map[protowire.Number]message)
	for _, f := range []struct {
		num protowire.Number
		p   **krogh.Parameters
	}{
		{recParams, &r.Params},
		{recHbParams, &r.HbParams},
		{recVelocityParams, &r.VelocityParams},
		{recPaO2Params, &r.PaO2Params},
		{recCMRO2Params, &r.CMRO2Params},
	} {
		if *f.p == nil && alloc {
			*f.p = new(krogh.Parameters)
		}
		if *f.p != nil {
			m[f.num] = *f.p
		}
	}
	for _, f := range []struct {
		num protowire.Number
		r   **krogh.Result
	}{
		{recBase, &r.BaseResults},
		{recPaO2Results, &r.PaO2Results},
		{recVelocityResults, &r.VelocityResults},
		{recHbSearch, &r.HbSearch},
		{recVelocitySearch, &r.VelocitySearch},
		{recPaO2Search, &r.PaO2Search},
		{recCMRO2Search, &r.CMRO2Search},
	} {
		if *f.r == nil && alloc {
			*f.r = new(krogh.Result)
		}
		if *f.r != nil {
			m[f.num] = *f.r
		}
	}
	return m
}

func (r *Record) floats() map[protowire.Number]*float64 {
	return map[protowire.Number]*float64{
		recPaO2Multiple:     &r.PaO2Multiple,
		recVelocityMultiple: &r.VelocityMultiple,
		recRatioPbO2PaO2:    &r.RatioPbO2PaO2,
		recPaO2UpHF:         &r.PaO2UpHF,
		recRatioPbO2Vel:     &r.RatioPbO2Vel,
		recVelUpHF:          &r.VelUpHF,
	}
}

// MarshalBinary encodes r in a versioned binary format. Messages shared
// between fields are written once per field.
func (r *Record) MarshalBinary() ([]byte, error) {
	b := protowire.AppendTag(nil, recVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, RecordVersion)
	floats, msgs := r.floats(), r.messages(false)
	for num := recVersion + 1; num <= recCMRO2Params; num++ {
		if f, ok := floats[num]; ok {
			b = protowire.AppendTag(b, num, protowire.Fixed64Type)
			b = protowire.AppendFixed64(b, math.Float64bits(*f))
			continue
		}
		if num == recNoSearch {
			b = protowire.AppendTag(b, num, protowire.VarintType)
			b = protowire.AppendVarint(b, protowire.EncodeBool(r.NoSearch))
			continue
		}
		m, ok := msgs[num]
		if !ok {
			continue
		}
		mb, err := m.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("sweep: encoding record field %d: %v", num, err)
		}
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendBytes(b, mb)
	}
	return b, nil
}

// UnmarshalBinary decodes data written by MarshalBinary into r.
func (r *Record) UnmarshalBinary(data []byte) error {
	*r = Record{}
	present := make(map[protowire.Number]bool)
	msgs := r.messages(true)
	floats := r.floats()
	var version uint64
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("sweep: decoding record: %v", protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == recVersion && typ == protowire.VarintType:
			version, n = protowire.ConsumeVarint(data)
		case num == recNoSearch && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(data)
			r.NoSearch = protowire.DecodeBool(v)
		case floats[num] != nil && typ == protowire.Fixed64Type:
			var v uint64
			v, n = protowire.ConsumeFixed64(data)
			*floats[num] = math.Float64frombits(v)
		case msgs[num] != nil && typ == protowire.BytesType:
			var b []byte
			b, n = protowire.ConsumeBytes(data)
			if n >= 0 {
				if err := msgs[num].UnmarshalBinary(b); err != nil {
					return fmt.Errorf("sweep: decoding record field %d: %v", num, err)
				}
				present[num] = true
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
		}
		if n < 0 {
			return fmt.Errorf("sweep: decoding record: %v", protowire.ParseError(n))
		}
		data = data[n:]
	}
	if version != RecordVersion {
		return fmt.Errorf("sweep: unsupported record version %d (want %d)", version, RecordVersion)
	}
	r.dropMissing(present)
	return nil
}

// dropMissing clears messages allocated for decoding that were not in
// the data.
func (r *Record) dropMissing(present map[protowire.Number]bool) {
	for num := range r.messages(false) {
		if present[num] {
			continue
		}
		switch num {
		case recParams:
			r.Params = nil
		case recHbParams:
			r.HbParams = nil
		case recVelocityParams:
			r.VelocityParams = nil
		case recPaO2Params:
			r.PaO2Params = nil
		case recCMRO2Params:
			r.CMRO2Params = nil
		case recBase:
			r.BaseResults = nil
		case recPaO2Results:
			r.PaO2Results = nil
		case recVelocityResults:
			r.VelocityResults = nil
		case recHbSearch:
			r.HbSearch = nil
		case recVelocitySearch:
			r.VelocitySearch = nil
		case recPaO2Search:
			r.PaO2Search = nil
		case recCMRO2Search:
			r.CMRO2Search = nil
		}
	}
}

// recordsMagic begins every file written by SaveRecords.
var recordsMagic = []byte("KROGHREC")

// SaveRecords writes recs to w. Nil records, which stand for failed
// jobs, are skipped.
func SaveRecords(w io.Writer, recs []*Record) error {
	if _, err := w.Write(recordsMagic); err != nil {
		return fmt.Errorf("sweep: saving records: %v", err)
	}
	for _, r := range recs {
		if r == nil {
			continue
		}
		if err := krogh.WriteDelimited(w, r); err != nil {
			return fmt.Errorf("sweep: saving record for job %d: %v", r.jobNumber(), err)
		}
	}
	return nil
}

// LoadRecords reads records written by SaveRecords.
func LoadRecords(r io.Reader) ([]*Record, error) {
	br := bufio.NewReader(r)
	magic := make([]byte, len(recordsMagic))
	if _, err := io.ReadFull(br, magic); err != nil || !bytes.Equal(magic, recordsMagic) {
		return nil, fmt.Errorf("sweep: loading records: not a record file")
	}
	var recs []*Record
	for {
		rec := new(Record)
		err := krogh.ReadDelimited(br, rec)
		if err == io.EOF {
			return recs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("sweep: loading record %d: %v", len(recs)+1, err)
		}
		recs = append(recs, rec)
	}
}

func (r *Record) jobNumber() int {
	if r.Params == nil {
		return 0
	}
	return r.Params.JobNumber
}
