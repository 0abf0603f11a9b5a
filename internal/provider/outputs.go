package provider

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"golang.org/x/exp/mmap"

	"unitsel/internal/model"
)

var ErrOutputShape = errors.New("output probabilities file does not match its declared shape")

const float32Size = 4

// Shape is the (items, timesteps, classes) layout of an output array.
// Feedforward models use one timestep.
type Shape struct {
	Items     int `json:"items" yaml:"items"`
	Timesteps int `json:"timesteps" yaml:"timesteps"`
	Classes   int `json:"classes" yaml:"classes"`
}

func (s Shape) size() int64 {
	return int64(s.Items) * int64(s.Timesteps) * int64(s.Classes) * float32Size
}

// MappedOutputs serves output probabilities from a raw little-endian
// float32 array laid out item-major, then timestep, then class. The file is
// mapped on first use and unmapped by Release.
type MappedOutputs struct {
	path  string
	shape Shape

	mu     sync.Mutex
	reader *mmap.ReaderAt
}

func NewMappedOutputs(path string, shape Shape) *MappedOutputs {
	return &MappedOutputs{path: path, shape: shape}
}

func (o *MappedOutputs) Column(timestep, class int, items []int) ([]float64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.mapLocked(); err != nil {
		return nil, err
	}
	ts := timestep
	if ts == model.NoTimestep {
		ts = 0
	}
	if ts < 0 || ts >= o.shape.Timesteps {
		return nil, fmt.Errorf("timestep %d outside output shape %+v", timestep, o.shape)
	}
	if class < 0 || class >= o.shape.Classes {
		return nil, fmt.Errorf("class %d outside output shape %+v", class, o.shape)
	}

	out := make([]float64, len(items))
	buf := make([]byte, float32Size)
	for i, item := range items {
		if item < 0 || item >= o.shape.Items {
			return nil, fmt.Errorf("item %d outside output shape %+v", item, o.shape)
		}
		offset := (int64(item)*int64(o.shape.Timesteps)+int64(ts))*int64(o.shape.Classes) + int64(class)
		if _, err := o.reader.ReadAt(buf, offset*float32Size); err != nil {
			return nil, fmt.Errorf("read output probability item %d: %w", item, err)
		}
		out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf)))
	}
	return out, nil
}

func (o *MappedOutputs) mapLocked() error {
	if o.reader != nil {
		return nil
	}
	reader, err := mmap.Open(o.path)
	if err != nil {
		return err
	}
	if int64(reader.Len()) != o.shape.size() {
		_ = reader.Close()
		return fmt.Errorf("%w: %s has %d bytes, want %d", ErrOutputShape, o.path, reader.Len(), o.shape.size())
	}
	o.reader = reader
	return nil
}

// Release unmaps the file. The next Column call maps it again.
func (o *MappedOutputs) Release() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.reader == nil {
		return nil
	}
	err := o.reader.Close()
	o.reader = nil
	return err
}

// Mapped reports whether the file is currently mapped.
func (o *MappedOutputs) Mapped() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.reader != nil
}
