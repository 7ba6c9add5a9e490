package queue

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Sep separates the fields of a queue line.
const Sep = "|"

var (
	// ErrMalformed reports a queue line that cannot be parsed.
	ErrMalformed = errors.New("malformed queue line")

	// ErrUnsupported reports an op type no handler is registered for.
	ErrUnsupported = errors.New("unsupported op type")

	// ErrInvalidField reports an op field that cannot be encoded on one line.
	ErrInvalidField = errors.New("invalid op field")
)

// Op is one deferred mutation: "epoch|origin|type|arg1|arg2|...".
type Op struct {
	Time   int64
	Origin string
	Type   string
	Args   []string
}

// Arg returns the i-th argument or "" if there are fewer.
func (o Op) Arg(i int) string {
	if i < 0 || i >= len(o.Args) {
		return ""
	}

	return o.Args[i]
}

// Validate checks that every field can be written to a queue line.
func (o Op) Validate() error {
	if o.Origin == "" || o.Type == "" {
		return fmt.Errorf("%w: origin and type are required", ErrInvalidField)
	}

	fields := append([]string{o.Origin, o.Type}, o.Args...)
	for _, f := range fields {
		if strings.Contains(f, Sep) || strings.ContainsAny(f, "\r\n") {
			return fmt.Errorf("%w: %q contains %q or a line break", ErrInvalidField, f, Sep)
		}
	}

	return nil
}

// String encodes o as a queue line without the trailing newline.
func (o Op) String() string {
	var b strings.Builder

	b.WriteString(strconv.FormatInt(o.Time, 10))
	b.WriteString(Sep)
	b.WriteString(o.Origin)
	b.WriteString(Sep)
	b.WriteString(o.Type)

	for _, a := range o.Args {
		b.WriteString(Sep)
		b.WriteString(a)
	}

	return b.String()
}

// ParseOp decodes one queue line.
func ParseOp(line string) (Op, error) {
	fields := strings.Split(line, Sep)
	if len(fields) < 3 {
		return Op{}, fmt.Errorf("%w: want at least 3 fields, got %d", ErrMalformed, len(fields))
	}

	ts, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Op{}, fmt.Errorf("%w: timestamp %q", ErrMalformed, fields[0])
	}

	if fields[1] == "" || fields[2] == "" {
		return Op{}, fmt.Errorf("%w: empty origin or type", ErrMalformed)
	}

	op := Op{Time: ts, Origin: fields[1], Type: fields[2]}
	if len(fields) > 3 {
		op.Args = fields[3:]
	}

	return op, nil
}
