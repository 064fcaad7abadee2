package checkpoint

import (
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"cyclegan-forge/internal/optim"
)

// Field numbers of the checkpoint messages. The layout is protobuf
// compatible so files can be inspected with protoc --decode_raw.
const (
	stateEpoch      protowire.Number = 1
	stateGlobalStep protowire.Number = 2
	stateWeight     protowire.Number = 3
	stateGenOptim   protowire.Number = 4
	stateDisOptim   protowire.Number = 5
	stateGenSched   protowire.Number = 6
	stateDisSched   protowire.Number = 7
	stateMeta       protowire.Number = 8

	weightName  protowire.Number = 1
	weightShape protowire.Number = 2
	weightData  protowire.Number = 3

	optimSteps protowire.Number = 1
	optimLR    protowire.Number = 2
	optimM     protowire.Number = 3
	optimV     protowire.Number = 4

	schedBaseLR protowire.Number = 1
	schedEpoch  protowire.Number = 2

	metaVersion       protowire.Number = 1
	metaGenerator     protowire.Number = 2
	metaDiscriminator protowire.Number = 3
	metaNGF           protowire.Number = 4
	metaNDF           protowire.Number = 5
	metaImageSize     protowire.Number = 6
	metaCreated       protowire.Number = 7
)

var errWireType = errors.New("unexpected wire type")

func marshalState(s *State) []byte {
	var b []byte
	b = appendVarint(b, stateEpoch, uint64(s.Epoch))
	b = appendVarint(b, stateGlobalStep, uint64(s.GlobalStep))
	for _, w := range s.Weights {
		b = appendMessage(b, stateWeight, marshalWeight(w))
	}
	b = appendMessage(b, stateGenOptim, marshalOptim(s.GenOptim))
	b = appendMessage(b, stateDisOptim, marshalOptim(s.DisOptim))
	b = appendMessage(b, stateGenSched, marshalSched(s.GenSched))
	b = appendMessage(b, stateDisSched, marshalSched(s.DisSched))
	b = appendMessage(b, stateMeta, marshalMeta(s.Meta))
	return b
}

func marshalWeight(w Weight) []byte {
	var b []byte
	b = protowire.AppendTag(b, weightName, protowire.BytesType)
	b = protowire.AppendString(b, w.Name)
	var shape []byte
	for _, d := range w.Shape {
		shape = protowire.AppendVarint(shape, uint64(d))
	}
	b = appendMessage(b, weightShape, shape)
	b = appendMessage(b, weightData, packDoubles(w.Data))
	return b
}

func marshalOptim(s optim.AdamState) []byte {
	var b []byte
	b = appendVarint(b, optimSteps, s.Steps)
	b = protowire.AppendTag(b, optimLR, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(s.LearningRate))
	for _, m := range s.M {
		b = appendMessage(b, optimM, packDoubles(m))
	}
	for _, v := range s.V {
		b = appendMessage(b, optimV, packDoubles(v))
	}
	return b
}

func marshalSched(s SchedulerState) []byte {
	var b []byte
	b = protowire.AppendTag(b, schedBaseLR, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(s.BaseLR))
	b = appendVarint(b, schedEpoch, uint64(s.Epoch))
	return b
}

func marshalMeta(m Meta) []byte {
	var b []byte
	b = appendString(b, metaVersion, formatVersion)
	b = appendString(b, metaGenerator, m.Generator)
	b = appendString(b, metaDiscriminator, m.Discriminator)
	b = appendVarint(b, metaNGF, uint64(m.NGF))
	b = appendVarint(b, metaNDF, uint64(m.NDF))
	b = appendVarint(b, metaImageSize, uint64(m.ImageSize))
	b = appendVarint(b, metaCreated, uint64(m.Created.Unix()))
	return b
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func packDoubles(vals []float64) []byte {
	b := make([]byte, 0, 8*len(vals))
	for _, v := range vals {
		b = protowire.AppendFixed64(b, math.Float64bits(v))
	}
	return b
}

// field is one decoded tag/value pair. Exactly one of the value fields is
// meaningful, depending on typ.
type field struct {
	num   protowire.Number
	typ   protowire.Type
	u64   uint64
	bytes []byte
}

// walk calls fn for every field of msg. Unknown wire types are skipped.
func walk(msg []byte, fn func(f field) error) error {
	for len(msg) > 0 {
		num, typ, n := protowire.ConsumeTag(msg)
		if n < 0 {
			return protowire.ParseError(n)
		}
		msg = msg[n:]
		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.u64, n = protowire.ConsumeVarint(msg)
		case protowire.Fixed64Type:
			f.u64, n = protowire.ConsumeFixed64(msg)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(msg)
		default:
			n = protowire.ConsumeFieldValue(num, typ, msg)
			if n < 0 {
				return protowire.ParseError(n)
			}
			msg = msg[n:]
			continue
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		msg = msg[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func (f field) expect(typ protowire.Type) error {
	if f.typ != typ {
		return fmt.Errorf("field %d: %w %d", f.num, errWireType, f.typ)
	}
	return nil
}

func unmarshalState(raw []byte) (*State, error) {
	s := &State{}
	var version string
	err := walk(raw, func(f field) error {
		var err error
		switch f.num {
		case stateEpoch:
			err = f.expect(protowire.VarintType)
			s.Epoch = int(f.u64)
		case stateGlobalStep:
			err = f.expect(protowire.VarintType)
			s.GlobalStep = int64(f.u64)
		case stateWeight:
			var w Weight
			if err = f.expect(protowire.BytesType); err == nil {
				w, err = unmarshalWeight(f.bytes)
			}
			s.Weights = append(s.Weights, w)
		case stateGenOptim, stateDisOptim:
			var o optim.AdamState
			if err = f.expect(protowire.BytesType); err == nil {
				o, err = unmarshalOptim(f.bytes)
			}
			if f.num == stateGenOptim {
				s.GenOptim = o
			} else {
				s.DisOptim = o
			}
		case stateGenSched, stateDisSched:
			var sc SchedulerState
			if err = f.expect(protowire.BytesType); err == nil {
				sc, err = unmarshalSched(f.bytes)
			}
			if f.num == stateGenSched {
				s.GenSched = sc
			} else {
				s.DisSched = sc
			}
		case stateMeta:
			if err = f.expect(protowire.BytesType); err == nil {
				s.Meta, version, err = unmarshalMeta(f.bytes)
			}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if version != formatVersion {
		return nil, fmt.Errorf("unsupported checkpoint version %q", version)
	}
	return s, nil
}

func unmarshalWeight(msg []byte) (Weight, error) {
	var w Weight
	err := walk(msg, func(f field) error {
		if err := f.expect(protowire.BytesType); err != nil {
			return err
		}
		switch f.num {
		case weightName:
			w.Name = string(f.bytes)
		case weightShape:
			shape, err := unpackVarints(f.bytes)
			if err != nil {
				return err
			}
			w.Shape = shape
		case weightData:
			data, err := unpackDoubles(f.bytes)
			if err != nil {
				return err
			}
			w.Data = data
		}
		return nil
	})
	if err != nil {
		return Weight{}, fmt.Errorf("weight %q: %w", w.Name, err)
	}
	want := 1
	for _, d := range w.Shape {
		want *= d
	}
	if want != len(w.Data) {
		return Weight{}, fmt.Errorf("weight %q: shape %v holds %d values, got %d", w.Name, w.Shape, want, len(w.Data))
	}
	return w, nil
}

func unmarshalOptim(msg []byte) (optim.AdamState, error) {
	var s optim.AdamState
	err := walk(msg, func(f field) error {
		switch f.num {
		case optimSteps:
			if err := f.expect(protowire.VarintType); err != nil {
				return err
			}
			s.Steps = f.u64
		case optimLR:
			if err := f.expect(protowire.Fixed64Type); err != nil {
				return err
			}
			s.LearningRate = math.Float64frombits(f.u64)
		case optimM, optimV:
			if err := f.expect(protowire.BytesType); err != nil {
				return err
			}
			vals, err := unpackDoubles(f.bytes)
			if err != nil {
				return err
			}
			if f.num == optimM {
				s.M = append(s.M, vals)
			} else {
				s.V = append(s.V, vals)
			}
		}
		return nil
	})
	return s, err
}

func unmarshalSched(msg []byte) (SchedulerState, error) {
	var s SchedulerState
	err := walk(msg, func(f field) error {
		switch f.num {
		case schedBaseLR:
			if err := f.expect(protowire.Fixed64Type); err != nil {
				return err
			}
			s.BaseLR = math.Float64frombits(f.u64)
		case schedEpoch:
			if err := f.expect(protowire.VarintType); err != nil {
				return err
			}
			s.Epoch = int(f.u64)
		}
		return nil
	})
	return s, err
}

func unmarshalMeta(msg []byte) (Meta, string, error) {
	var (
		m       Meta
		version string
	)
	err := walk(msg, func(f field) error {
		switch f.num {
		case metaVersion, metaGenerator, metaDiscriminator:
			if err := f.expect(protowire.BytesType); err != nil {
				return err
			}
			switch f.num {
			case metaVersion:
				version = string(f.bytes)
			case metaGenerator:
				m.Generator = string(f.bytes)
			default:
				m.Discriminator = string(f.bytes)
			}
		case metaNGF, metaNDF, metaImageSize, metaCreated:
			if err := f.expect(protowire.VarintType); err != nil {
				return err
			}
			switch f.num {
			case metaNGF:
				m.NGF = int(f.u64)
			case metaNDF:
				m.NDF = int(f.u64)
			case metaImageSize:
				m.ImageSize = int(f.u64)
			default:
				m.Created = time.Unix(int64(f.u64), 0).UTC()
			}
		}
		return nil
	})
	return m, version, err
}

func unpackDoubles(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("packed doubles: %d trailing bytes", len(b)%8)
	}
	out := make([]float64, 0, len(b)/8)
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, math.Float64frombits(v))
		b = b[n:]
	}
	return out, nil
}

func unpackVarints(b []byte) ([]int, error) {
	var out []int
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, int(v))
		b = b[n:]
	}
	return out, nil
}
