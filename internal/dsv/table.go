package dsv

import (
	"bytes"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Row is one data line split into fields, in header order.
//
// Rows are kept exactly as parsed. A row with fewer fields than the header is
// padded only when one of its missing cells is written.
type Row struct {
	Fields []string
}

// Table is the in-memory model of a store file: one header plus rows.
//
// A Table is parsed once per critical section and mutated in place; row
// indexes are only meaningful for the Table they came from. Never carry an
// index across a lock boundary - reload and look the row up again.
//
// Table is not safe for concurrent use.
type Table struct {
	delim  byte
	header []string
	cols   map[string]int
	rows   []Row
}

// New returns an empty table with the given header.
func New(header []string, delim byte) (*Table, error) {
	if len(header) == 0 {
		return nil, &SchemaError{Reason: "empty header"}
	}

	cols := make(map[string]int, len(header))

	for i, name := range header {
		if name == "" {
			return nil, &SchemaError{Reason: fmt.Sprintf("empty column name at index %d", i)}
		}

		if _, dup := cols[name]; dup {
			return nil, &SchemaError{Column: name, Reason: "duplicate column"}
		}

		cols[name] = i
	}

	if _, ok := cols[ColPath]; !ok {
		return nil, &SchemaError{Column: ColPath}
	}

	return &Table{
		delim:  delim,
		header: slices.Clone(header),
		cols:   cols,
	}, nil
}

// Parse reads a store file: the first line is the header, each following
// non-empty line is a row. The header must contain [ColPath].
func Parse(data []byte, delim byte) (*Table, error) {
	text := string(data)
	text = strings.TrimSuffix(text, "\n")

	if text == "" {
		return nil, &SchemaError{Reason: "missing header"}
	}

	lines := strings.Split(text, "\n")
	sep := string(delim)

	t, err := New(strings.Split(lines[0], sep), delim)
	if err != nil {
		return nil, err
	}

	t.rows = make([]Row, 0, len(lines)-1)

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}

		t.rows = append(t.rows, Row{Fields: strings.Split(line, sep)})
	}

	return t, nil
}

// Bytes serializes the whole table: header, then rows, newline-terminated.
func (t *Table) Bytes() []byte {
	var buf bytes.Buffer

	sep := string(t.delim)

	buf.WriteString(strings.Join(t.header, sep))
	buf.WriteByte('\n')

	for _, r := range t.rows {
		buf.WriteString(strings.Join(r.Fields, sep))
		buf.WriteByte('\n')
	}

	return buf.Bytes()
}

// Header returns a copy of the column names in order.
func (t *Table) Header() []string {
	return slices.Clone(t.header)
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Row returns a copy of the fields of row i.
func (t *Table) Row(i int) []string {
	return slices.Clone(t.rows[i].Fields)
}

// Column returns the index of the named column or a *SchemaError.
func (t *Table) Column(name string) (int, error) {
	idx, ok := t.cols[name]
	if !ok {
		return 0, &SchemaError{Column: name}
	}

	return idx, nil
}

// RequireColumns returns a *SchemaError for the first missing column.
func (t *Table) RequireColumns(names ...string) error {
	for _, name := range names {
		if _, err := t.Column(name); err != nil {
			return err
		}
	}

	return nil
}

// Value returns the cell at row i, column name. Cells past the end of a short
// row read as "".
func (t *Table) Value(i int, name string) (string, error) {
	idx, err := t.Column(name)
	if err != nil {
		return "", err
	}

	if i < 0 || i >= len(t.rows) {
		return "", fmt.Errorf("row %d out of range [0,%d)", i, len(t.rows))
	}

	fields := t.rows[i].Fields
	if idx >= len(fields) {
		return "", nil
	}

	return fields[idx], nil
}

// FindExact returns the index of the only row whose path field equals path.
//
// Matching compares the whole field, never a substring. Returns [ErrNotFound]
// when no row matches and [ErrAmbiguous] when several do.
func (t *Table) FindExact(path string) (int, error) {
	matches := t.matches(path)

	switch len(matches) {
	case 0:
		return -1, withPath(ErrNotFound, path)
	case 1:
		return matches[0], nil
	default:
		return -1, withPath(fmt.Errorf("%w: %d rows", ErrAmbiguous, len(matches)), path)
	}
}

func (t *Table) matches(path string) []int {
	idx := t.cols[ColPath]

	var out []int

	for i, r := range t.rows {
		if idx < len(r.Fields) && r.Fields[idx] == path {
			out = append(out, i)
		}
	}

	return out
}

// SetColumn writes value into a single cell. Nothing else in the table changes.
func (t *Table) SetColumn(i int, name string, value string) error {
	idx, err := t.Column(name)
	if err != nil {
		return err
	}

	if i < 0 || i >= len(t.rows) {
		return fmt.Errorf("row %d out of range [0,%d)", i, len(t.rows))
	}

	if err := t.checkValue(name, value); err != nil {
		return err
	}

	row := &t.rows[i]
	for len(row.Fields) <= idx {
		row.Fields = append(row.Fields, "")
	}

	row.Fields[idx] = value

	return nil
}

// AppendResult describes the outcome of [Table.Append].
type AppendResult struct {
	ID      int
	AlbumID int

	// Added is false when a row with the same path already existed. The
	// table is unchanged in that case and ID/AlbumID describe the existing row.
	Added bool
}

// Append adds a row built from values (column name → value).
//
// ID is assigned as max(ID)+1. AlbumID reuses the id of the first row with the
// same Album value, otherwise max(AlbumID)+1. Any ID/AlbumID in values is
// ignored. A path that already exists is not an error: the table is left
// unchanged and Added is false.
func (t *Table) Append(values map[string]string) (AppendResult, error) {
	if err := t.RequireColumns(ColID, ColAlbumID, ColAlbum); err != nil {
		return AppendResult{}, err
	}

	path := values[ColPath]
	if path == "" {
		return AppendResult{}, fmt.Errorf("%w: %s is required", ErrInvalidValue, ColPath)
	}

	for _, name := range slices.Sorted(maps.Keys(values)) {
		if _, err := t.Column(name); err != nil {
			return AppendResult{}, withPath(err, path)
		}

		if err := t.checkValue(name, values[name]); err != nil {
			return AppendResult{}, withPath(err, path)
		}
	}

	if existing := t.matches(path); len(existing) > 0 {
		id, _ := t.intValue(existing[0], ColID)
		albumID, _ := t.intValue(existing[0], ColAlbumID)

		return AppendResult{ID: id, AlbumID: albumID, Added: false}, nil
	}

	id := t.maxInt(ColID) + 1

	albumID, found := t.albumIDFor(values[ColAlbum])
	if !found {
		albumID = t.maxInt(ColAlbumID) + 1
	}

	fields := make([]string, len(t.header))
	for name, v := range values {
		fields[t.cols[name]] = v
	}

	fields[t.cols[ColID]] = strconv.Itoa(id)
	fields[t.cols[ColAlbumID]] = strconv.Itoa(albumID)

	t.rows = append(t.rows, Row{Fields: fields})

	return AppendResult{ID: id, AlbumID: albumID, Added: true}, nil
}

// DeleteExact removes the only row whose path equals path.
//
// It fails closed: with no match it returns [ErrNotFound], with more than one
// it returns [ErrAmbiguous], and the table is unchanged in both cases.
func (t *Table) DeleteExact(path string) error {
	i, err := t.FindExact(path)
	if err != nil {
		return err
	}

	t.rows = slices.Delete(t.rows, i, i+1)

	return nil
}

func (t *Table) checkValue(name, value string) error {
	if strings.IndexByte(value, t.delim) >= 0 {
		return fmt.Errorf("%w: %s contains delimiter %q", ErrInvalidValue, name, t.delim)
	}

	if strings.ContainsAny(value, "\r\n") {
		return fmt.Errorf("%w: %s contains a line break", ErrInvalidValue, name)
	}

	return nil
}

func (t *Table) intValue(i int, name string) (int, bool) {
	v, err := t.Value(i, name)
	if err != nil {
		return 0, false
	}

	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}

	return n, true
}

func (t *Table) maxInt(name string) int {
	highest := 0

	for i := range t.rows {
		if n, ok := t.intValue(i, name); ok && n > highest {
			highest = n
		}
	}

	return highest
}

func (t *Table) albumIDFor(album string) (int, bool) {
	idx := t.cols[ColAlbum]

	for i, r := range t.rows {
		if idx < len(r.Fields) && r.Fields[idx] == album {
			if n, ok := t.intValue(i, ColAlbumID); ok {
				return n, true
			}
		}
	}

	return 0, false
}
