package model

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/maruel/safetensors"
)

// shardIndex mirrors model.safetensors.index.json's top-level shape: a
// weight_map from tensor name to the shard file that holds it.
type shardIndex struct {
	WeightMap map[string]string `json:"weight_map"`
}

// shardFilenames reads model.safetensors.index.json under modelDir and
// returns the deduplicated set of shard filenames its weight_map references,
// in map iteration order (not sorted).
func shardFilenames(modelDir string) ([]string, error) {
	indexPath := filepath.Join(modelDir, "model.safetensors.index.json")
	raw, err := os.ReadFile(indexPath)
	if err != nil {
		return nil, fmt.Errorf("model: reading %s: %w", indexPath, err)
	}

	var idx shardIndex
	if err := json.Unmarshal(raw, &idx); err != nil {
		return nil, fmt.Errorf("model: parsing %s: %w", indexPath, err)
	}
	if len(idx.WeightMap) == 0 {
		return nil, fmt.Errorf("model: %s has no weight_map", indexPath)
	}

	seen := make(map[string]struct{})
	var files []string
	for _, file := range idx.WeightMap {
		if _, ok := seen[file]; ok {
			continue
		}
		seen[file] = struct{}{}
		files = append(files, file)
	}
	return files, nil
}

// shardSet loads and keeps open every safetensors shard referenced by a
// model directory's index, so tensor lookups can resolve a name to whichever
// shard holds it without re-reading the index.
type shardSet struct {
	dir    string
	shards map[string]*safetensors.File // filename -> opened shard
}

// openShardSet validates that every shard named in the index exists and
// parses as safetensors, opening each exactly once.
func openShardSet(modelDir string) (*shardSet, error) {
	files, err := shardFilenames(modelDir)
	if err != nil {
		return nil, err
	}

	set := &shardSet{dir: modelDir, shards: make(map[string]*safetensors.File, len(files))}
	for _, file := range files {
		path := filepath.Join(modelDir, file)
		f, err := safetensors.Open(path)
		if err != nil {
			set.Close()
			return nil, fmt.Errorf("model: opening safetensors shard %s: %w", path, err)
		}
		set.shards[file] = f
	}
	return set, nil
}

// Close releases every opened shard's backing mmap.
func (s *shardSet) Close() {
	for _, f := range s.shards {
		_ = f.Close()
	}
}

// F32 loads the named tensor as a flat []float32 plus its shape, converting
// from whatever on-disk dtype the shard stores (f16, bf16, f32) to f32.
// Tensor bytes are looked up across every opened shard since the index only
// tells us which shard a name is *supposed* to live in at write time, and
// treating that as authoritative duplicates the index-parsing logic for no
// benefit here.
func (s *shardSet) F32(name string) ([]float32, []int, error) {
	for _, f := range s.shards {
		info, ok := f.Tensor(name)
		if !ok {
			continue
		}
		data := info.Data()
		shape := info.Shape()
		switch info.DType() {
		case safetensors.F32:
			return bytesToF32(data), shape, nil
		case safetensors.F16:
			return f16BytesToF32(data), shape, nil
		case safetensors.BF16:
			return bf16BytesToF32(data), shape, nil
		default:
			return nil, nil, fmt.Errorf("model: tensor %q has unsupported dtype %v", name, info.DType())
		}
	}
	return nil, nil, fmt.Errorf("model: tensor %q not found in any shard under %s", name, s.dir)
}

func bytesToF32(b []byte) []float32 {
	n := len(b) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := uint32(b[4*i]) | uint32(b[4*i+1])<<8 | uint32(b[4*i+2])<<16 | uint32(b[4*i+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}

func f16BytesToF32(b []byte) []float32 {
	n := len(b) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := uint16(b[2*i]) | uint16(b[2*i+1])<<8
		out[i] = float16ToFloat32(bits)
	}
	return out
}

func bf16BytesToF32(b []byte) []float32 {
	n := len(b) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := uint32(b[2*i])<<16 | uint32(b[2*i+1])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}

// float16ToFloat32 converts an IEEE-754 half-precision bit pattern to f32.
func float16ToFloat32(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := (h >> 10) & 0x1f
	mant := uint32(h & 0x3ff)

	switch exp {
	case 0:
		if mant == 0 {
			return math.Float32frombits(sign)
		}
		// Subnormal half: normalize by shifting until the leading bit is set.
		e := -1
		for mant&0x400 == 0 {
			mant <<= 1
			e++
		}
		mant &= 0x3ff
		bits := sign | uint32(127-15-e)<<23 | mant<<13
		return math.Float32frombits(bits)
	case 0x1f:
		bits := sign | 0xff<<23 | mant<<13
		return math.Float32frombits(bits)
	default:
		bits := sign | (uint32(exp)-15+127)<<23 | mant<<13
		return math.Float32frombits(bits)
	}
}
