// Package provider reads the inputs of a selectivity run: activation
// records, class counts and the model's output probabilities.
package provider

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"unitsel/internal/model"
	"unitsel/internal/nn"
)

var (
	ErrMissingColumn  = errors.New("activation csv missing required column")
	ErrDuplicateItem  = errors.New("item appears twice in one record")
	ErrMixedFunctions = errors.New("record mixes activation functions")
	ErrUnitOrder      = errors.New("units of a layer are not in ascending order")
	ErrRepeatedKey    = errors.New("record key appears in more than one group")
)

// Iterator yields records one at a time. Next returns false once the
// sequence is exhausted.
type Iterator interface {
	Next(ctx context.Context) (model.ActivationRecord, bool, error)
	Close() error
}

// Source is a restartable record sequence. resume maps a layer to the first
// unit index to yield; earlier units of that layer are skipped.
type Source interface {
	Open(ctx context.Context, resume map[string]int) (Iterator, error)
}

var requiredColumns = []string{"layer", "unit", "act_func", "item", "activation", "label"}

// CSVSource reads long-format activations: one row per (layer, unit,
// timestep, item). Consecutive rows sharing a key form one record. Rows
// must be unit-major within a layer and every key contiguous; resume
// cursors depend on that order, so a violation is an error.
// Optional columns are timestep (blank for feedforward models), parts
// (letter ids joined by ';') and incorrect.
type CSVSource struct {
	path string
}

func NewCSVSource(path string) *CSVSource {
	return &CSVSource{path: path}
}

func (s *CSVSource) Open(_ context.Context, resume map[string]int) (Iterator, error) {
	file, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		_ = file.Close()
		if err == io.EOF {
			return nil, fmt.Errorf("read activation csv header: empty file")
		}
		return nil, fmt.Errorf("read activation csv header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			_ = file.Close()
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}

	cursor := make(map[string]int, len(resume))
	for layer, unit := range resume {
		cursor[layer] = unit
	}
	return &csvIterator{file: file, reader: reader, columns: columns, resume: cursor, order: newOrderCheck(), rowIndex: 1}, nil
}

type csvRow struct {
	key      model.UnitKey
	fn       model.ActivationFunction
	obs      model.Observation
	rowIndex int
}

type csvIterator struct {
	file     *os.File
	reader   *csv.Reader
	columns  map[string]int
	resume   map[string]int
	order    *orderCheck
	pending  *csvRow
	rowIndex int
	done     bool
}

func (it *csvIterator) Next(ctx context.Context) (model.ActivationRecord, bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return model.ActivationRecord{}, false, err
		}
		record, ok, err := it.group()
		if err != nil || !ok {
			return model.ActivationRecord{}, false, err
		}
		if err := it.order.admit(record.Key); err != nil {
			return model.ActivationRecord{}, false, err
		}
		if start, ok := it.resume[record.Key.Layer]; ok && record.Key.Unit < start {
			continue
		}
		return record, true, nil
	}
}

func (it *csvIterator) group() (model.ActivationRecord, bool, error) {
	first := it.pending
	it.pending = nil
	if first == nil {
		row, ok, err := it.readRow()
		if err != nil || !ok {
			return model.ActivationRecord{}, false, err
		}
		first = &row
	}

	record := model.ActivationRecord{
		Key:          first.key,
		Activation:   first.fn,
		Observations: []model.Observation{first.obs},
	}
	seen := map[int]bool{first.obs.Item: true}
	for {
		row, ok, err := it.readRow()
		if err != nil {
			return model.ActivationRecord{}, false, err
		}
		if !ok {
			return record, true, nil
		}
		if row.key != record.Key {
			it.pending = &row
			return record, true, nil
		}
		if row.fn != record.Activation {
			return model.ActivationRecord{}, false, fmt.Errorf("%s: row %d: %w", record.Key, row.rowIndex, ErrMixedFunctions)
		}
		if seen[row.obs.Item] {
			return model.ActivationRecord{}, false, fmt.Errorf("%s: row %d: %w: %d", record.Key, row.rowIndex, ErrDuplicateItem, row.obs.Item)
		}
		seen[row.obs.Item] = true
		record.Observations = append(record.Observations, row.obs)
	}
}

func (it *csvIterator) readRow() (csvRow, bool, error) {
	for !it.done {
		fields, err := it.reader.Read()
		if err == io.EOF {
			it.done = true
			break
		}
		if err != nil {
			return csvRow{}, false, fmt.Errorf("read activation csv row %d: %w", it.rowIndex, err)
		}
		index := it.rowIndex
		it.rowIndex++
		if blankRecord(fields) {
			continue
		}
		row, err := it.parseRow(fields, index)
		if err != nil {
			return csvRow{}, false, err
		}
		return row, true, nil
	}
	return csvRow{}, false, nil
}

func (it *csvIterator) parseRow(fields []string, index int) (csvRow, error) {
	field := func(name string) string {
		i, ok := it.columns[name]
		if !ok || i >= len(fields) {
			return ""
		}
		return strings.TrimSpace(fields[i])
	}
	parseInt := func(name string) (int, error) {
		v, err := strconv.Atoi(field(name))
		if err != nil {
			return 0, fmt.Errorf("activation csv row %d: parse %s: %w", index, name, err)
		}
		return v, nil
	}

	row := csvRow{rowIndex: index}
	row.key.Layer = field("layer")
	var err error
	if row.key.Unit, err = parseInt("unit"); err != nil {
		return csvRow{}, err
	}
	row.key.Timestep = model.NoTimestep
	if field("timestep") != "" {
		if row.key.Timestep, err = parseInt("timestep"); err != nil {
			return csvRow{}, err
		}
	}
	// Unknown names pass through so evaluation fails with the unit key.
	row.fn = model.ActivationFunction(strings.ToLower(field("act_func")))
	if fn, err := nn.ParseActivation(field("act_func")); err == nil {
		row.fn = fn
	}
	if row.obs.Item, err = parseInt("item"); err != nil {
		return csvRow{}, err
	}
	if row.obs.Label, err = parseInt("label"); err != nil {
		return csvRow{}, err
	}
	if row.obs.Activation, err = strconv.ParseFloat(field("activation"), 64); err != nil {
		return csvRow{}, fmt.Errorf("activation csv row %d: parse activation: %w", index, err)
	}
	if parts := field("parts"); parts != "" {
		for _, part := range strings.Split(parts, ";") {
			id, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return csvRow{}, fmt.Errorf("activation csv row %d: parse parts: %w", index, err)
			}
			row.obs.Parts = append(row.obs.Parts, id)
		}
	}
	if incorrect := field("incorrect"); incorrect != "" {
		if row.obs.Incorrect, err = strconv.ParseBool(incorrect); err != nil {
			return csvRow{}, fmt.Errorf("activation csv row %d: parse incorrect: %w", index, err)
		}
	}
	return row, nil
}

func (it *csvIterator) Close() error {
	return it.file.Close()
}

// SliceSource serves records held in memory. It applies the same ordering
// rules as CSVSource.
type SliceSource struct {
	Records []model.ActivationRecord
}

func (s SliceSource) Open(_ context.Context, resume map[string]int) (Iterator, error) {
	return &sliceIterator{records: s.Records, resume: resume, order: newOrderCheck()}, nil
}

type sliceIterator struct {
	records []model.ActivationRecord
	resume  map[string]int
	order   *orderCheck
	next    int
}

func (it *sliceIterator) Next(ctx context.Context) (model.ActivationRecord, bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return model.ActivationRecord{}, false, err
		}
		if it.next >= len(it.records) {
			return model.ActivationRecord{}, false, nil
		}
		record := it.records[it.next]
		it.next++
		if err := it.order.admit(record.Key); err != nil {
			return model.ActivationRecord{}, false, err
		}
		if start, ok := it.resume[record.Key.Layer]; ok && record.Key.Unit < start {
			continue
		}
		return record, true, nil
	}
}

func (it *sliceIterator) Close() error {
	return nil
}

// orderCheck rejects sequences a unit cursor cannot resume: a layer whose
// unit index goes back, or a key split over several groups.
type orderCheck struct {
	last map[string]int
	seen map[model.UnitKey]bool
}

func newOrderCheck() *orderCheck {
	return &orderCheck{last: make(map[string]int), seen: make(map[model.UnitKey]bool)}
}

func (c *orderCheck) admit(key model.UnitKey) error {
	if c.seen[key] {
		return fmt.Errorf("%s: %w", key, ErrRepeatedKey)
	}
	if last, ok := c.last[key.Layer]; ok && key.Unit < last {
		return fmt.Errorf("%s after unit %d: %w", key, last, ErrUnitOrder)
	}
	c.seen[key] = true
	c.last[key.Layer] = key.Unit
	return nil
}

func blankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
