package vector

import (
	"encoding/gob"
	"fmt"
	"io"
)

const formatVersion = 1

type envelope struct {
	Version   int
	Kind      Kind
	Dim       int
	N         int
	Exact     *exactState
	Quantized *quantizedState
}

type exactState struct {
	Data []float32
}

type quantizedState struct {
	NList     int
	M         int
	Bits      int
	NVisit    int
	Coarse    []float32
	Codebooks []float32
	Lists     [][]int32
	Codes     [][]byte
}

// Encode writes idx as a gob envelope tagged with format version and kind.
func Encode(w io.Writer, idx Index) error {
	env := envelope{Version: formatVersion, Kind: idx.Kind(), Dim: idx.Dim(), N: idx.Len()}
	switch v := idx.(type) {
	case *ExactIndex:
		env.Exact = &exactState{Data: v.data}
	case *QuantizedIndex:
		env.Quantized = &quantizedState{
			NList:     v.nlist,
			M:         v.m,
			Bits:      v.bits,
			NVisit:    v.nvisit,
			Coarse:    v.coarse,
			Codebooks: v.codebooks,
			Lists:     v.lists,
			Codes:     v.codes,
		}
	default:
		return fmt.Errorf("unsupported index type %T", idx)
	}
	if err := gob.NewEncoder(w).Encode(&env); err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}
	return nil
}

// Decode reads an index written by Encode.
func Decode(r io.Reader) (Index, error) {
	var env envelope
	if err := gob.NewDecoder(r).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode index: %w", err)
	}
	if env.Version != formatVersion {
		return nil, fmt.Errorf("unsupported index format version %d", env.Version)
	}
	if env.Dim <= 0 {
		return nil, fmt.Errorf("invalid index dimension %d", env.Dim)
	}
	switch env.Kind {
	case KindExact:
		if env.Exact == nil {
			env.Exact = &exactState{}
		}
		if len(env.Exact.Data) != env.N*env.Dim {
			return nil, fmt.Errorf("corrupt exact index")
		}
		return &ExactIndex{dim: env.Dim, n: env.N, data: env.Exact.Data}, nil
	case KindQuantized:
		s := env.Quantized
		if s == nil || s.M <= 0 || s.Bits <= 0 || s.Bits > 8 || env.Dim%s.M != 0 {
			return nil, fmt.Errorf("corrupt quantized index")
		}
		if len(s.Coarse) != s.NList*env.Dim || len(s.Lists) != s.NList || len(s.Codes) != s.NList {
			return nil, fmt.Errorf("corrupt quantized index")
		}
		if len(s.Codebooks) != s.M*(1<<s.Bits)*(env.Dim/s.M) {
			return nil, fmt.Errorf("corrupt quantized index codebooks")
		}
		// gob drops empty slices, so buckets with no entries come back nil.
		for i := range s.Lists {
			if len(s.Codes[i]) != len(s.Lists[i])*s.M {
				return nil, fmt.Errorf("corrupt quantized index bucket %d", i)
			}
		}
		return &QuantizedIndex{
			dim:       env.Dim,
			n:         env.N,
			nlist:     s.NList,
			m:         s.M,
			bits:      s.Bits,
			nvisit:    s.NVisit,
			coarse:    s.Coarse,
			codebooks: s.Codebooks,
			lists:     s.Lists,
			codes:     s.Codes,
		}, nil
	default:
		return nil, fmt.Errorf("unknown index kind %q", env.Kind)
	}
}
