package table

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/smirnovkirilll/micro-dwh/internal/domain"
)

// Format is a serialization of a Table.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
)

// FormatFor picks the format from the extension of a path or object key.
// Anything unrecognised is treated as CSV.
func FormatFor(name string) Format {
	switch strings.ToLower(path.Ext(strings.TrimSpace(name))) {
	case ".json":
		return FormatJSON
	case ".jsonl", ".ndjson":
		return FormatJSONL
	default:
		return FormatCSV
	}
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Decode parses data in the given format.
func Decode(format Format, data []byte) (*Table, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	switch format {
	case FormatJSON:
		return decodeJSON(data)
	case FormatJSONL:
		return decodeJSONL(data)
	default:
		return decodeCSV(data)
	}
}

// Encode serializes t in the given format.
func Encode(format Format, t *Table) ([]byte, error) {
	switch format {
	case FormatJSON:
		return encodeJSON(t, false)
	case FormatJSONL:
		return encodeJSON(t, true)
	default:
		return encodeCSV(t)
	}
}

func decodeCSV(data []byte) (*Table, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return &Table{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	t := &Table{Columns: header}
	for line := 2; ; line++ {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if len(fields) > len(header) {
			return nil, fmt.Errorf("csv line %d has %d fields, header has %d", line, len(fields), len(header))
		}
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(fields) {
				row[col] = fields[i]
			} else {
				row[col] = ""
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func encodeCSV(t *Table) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.Columns); err != nil {
		return nil, err
	}
	fields := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i, col := range t.Columns {
			fields[i] = row[col]
		}
		if err := w.Write(fields); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeJSON(data []byte) (*Table, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return &Table{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var objects []map[string]any
	if err := dec.Decode(&objects); err != nil {
		return nil, fmt.Errorf("decode json array: %w", err)
	}
	return fromObjects(objects)
}

func decodeJSONL(data []byte) (*Table, error) {
	var objects []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64<<10), 16<<20)
	for line := 1; sc.Scan(); line++ {
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(text))
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			return nil, fmt.Errorf("decode jsonl line %d: %w", line, err)
		}
		objects = append(objects, obj)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan jsonl: %w", err)
	}
	return fromObjects(objects)
}

// fromObjects flattens decoded objects into string rows. Every row gets every
// column seen in the file, so column presence is uniform as with CSV.
func fromObjects(objects []map[string]any) (*Table, error) {
	seen := map[string]bool{}
	var keys []string
	for _, obj := range objects {
		for k := range obj {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	t := &Table{Columns: orderColumns(keys)}

	for i, obj := range objects {
		row := make(map[string]string, len(t.Columns))
		for _, col := range t.Columns {
			v, err := stringify(obj[col])
			if err != nil {
				return nil, fmt.Errorf("record %d column %q: %w", i, col, err)
			}
			row[col] = v
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func stringify(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case bool:
		return strconv.FormatBool(x), nil
	default:
		return "", fmt.Errorf("unsupported value of type %T", v)
	}
}

// orderColumns puts known schema columns first, in schema order, followed by
// any other columns sorted by name.
func orderColumns(keys []string) []string {
	rank := map[string]int{}
	for i, c := range domain.WorkingColumns {
		rank[c] = i
	}
	for i, c := range domain.LegacyColumns {
		if _, ok := rank[c]; !ok {
			rank[c] = len(domain.WorkingColumns) + i
		}
	}

	out := append([]string(nil), keys...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, iKnown := rank[out[i]]
		rj, jKnown := rank[out[j]]
		switch {
		case iKnown && jKnown:
			return ri < rj
		case iKnown != jKnown:
			return iKnown
		default:
			return out[i] < out[j]
		}
	})
	return out
}

// encodeJSON writes rows as objects with keys in column order; encoding/json
// would sort map keys alphabetically.
func encodeJSON(t *Table, lines bool) ([]byte, error) {
	var buf bytes.Buffer
	if !lines {
		buf.WriteString("[")
	}
	for i, row := range t.Rows {
		if i > 0 && !lines {
			buf.WriteString(",")
		}
		if !lines {
			buf.WriteString("\n  ")
		}
		buf.WriteString("{")
		for j, col := range t.Columns {
			if j > 0 {
				buf.WriteString(",")
			}
			k, err := json.Marshal(col)
			if err != nil {
				return nil, err
			}
			v, err := json.Marshal(row[col])
			if err != nil {
				return nil, err
			}
			buf.Write(k)
			buf.WriteString(":")
			buf.Write(v)
		}
		buf.WriteString("}")
		if lines {
			buf.WriteString("\n")
		}
	}
	if !lines {
		if len(t.Rows) > 0 {
			buf.WriteString("\n")
		}
		buf.WriteString("]\n")
	}
	return buf.Bytes(), nil
}
