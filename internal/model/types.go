package model

import (
	"fmt"
	"sort"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// NoTimestep marks records of non-sequential (feedforward) models.
const NoTimestep = -1

type ActivationFunction string

const (
	ActivationReLU    ActivationFunction = "relu"
	ActivationSigmoid ActivationFunction = "sigmoid"
	ActivationTanh    ActivationFunction = "tanh"
)

// UnitKey addresses one (layer, unit, timestep) triple.
type UnitKey struct {
	Layer    string `json:"layer"`
	Unit     int    `json:"unit"`
	Timestep int    `json:"timestep"`
}

func (k UnitKey) Sequential() bool {
	return k.Timestep != NoTimestep
}

// TimestepName returns the ts-prefixed timestep label, or "" for feedforward keys.
func (k UnitKey) TimestepName() string {
	if !k.Sequential() {
		return ""
	}
	return fmt.Sprintf("ts%d", k.Timestep)
}

func (k UnitKey) String() string {
	if !k.Sequential() {
		return fmt.Sprintf("%s/unit %d", k.Layer, k.Unit)
	}
	return fmt.Sprintf("%s/unit %d/%s", k.Layer, k.Unit, k.TimestepName())
}

// Less orders keys by layer, unit, then timestep.
func (k UnitKey) Less(other UnitKey) bool {
	if k.Layer != other.Layer {
		return k.Layer < other.Layer
	}
	if k.Unit != other.Unit {
		return k.Unit < other.Unit
	}
	return k.Timestep < other.Timestep
}

type Observation struct {
	Item       int     `json:"item"`
	Activation float64 `json:"activation"`
	Label      int     `json:"label"`
	// Parts lists the part (letter) ids present in the item at this timestep.
	Parts     []int `json:"parts,omitempty"`
	Incorrect bool  `json:"incorrect,omitempty"`
}

type ActivationRecord struct {
	Key          UnitKey            `json:"key"`
	Activation   ActivationFunction `json:"act_func"`
	Observations []Observation      `json:"observations"`
}

// ClassCount maps a class label to its item count.
type ClassCount map[int]int

func (c ClassCount) Size(label int) int {
	return c[label]
}

func (c ClassCount) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// Labels returns the class labels in ascending order.
func (c ClassCount) Labels() []int {
	labels := make([]int, 0, len(c))
	for label := range c {
		labels = append(labels, label)
	}
	sort.Ints(labels)
	return labels
}

// ClassCounts holds word and letter counts keyed by timestep. Feedforward
// lookups use NoTimestep and fall back to timestep 0, where single-column
// label files are counted.
type ClassCounts struct {
	Words   map[int]ClassCount `json:"words"`
	Letters map[int]ClassCount `json:"letters,omitempty"`
}

func (c ClassCounts) WordsAt(timestep int) (ClassCount, bool) {
	return countsAt(c.Words, timestep)
}

func (c ClassCounts) LettersAt(timestep int) (ClassCount, bool) {
	return countsAt(c.Letters, timestep)
}

func countsAt(byTimestep map[int]ClassCount, timestep int) (ClassCount, bool) {
	if counts, ok := byTimestep[timestep]; ok {
		return counts, true
	}
	if timestep == NoTimestep {
		counts, ok := byTimestep[0]
		return counts, ok
	}
	return nil, false
}
