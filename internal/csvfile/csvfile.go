// Package csvfile reads and writes CSV in the dialect used by the contact files:
// ';' delimiter, '"' enclosure and '\' escape character.
//
// When writing, a quote inside an enclosed field is doubled unless it follows the
// escape character. When reading, the escape character and the byte after it are
// kept verbatim, and a quoted field still open at end of input ends there.
package csvfile

import (
	"bufio"
	"io"
	"os"
	"strings"
)

const (
	// Delimiter separates fields.
	Delimiter = ';'
	// Enclosure quotes fields.
	Enclosure = '"'
	// Escape protects an enclosure character inside a quoted field.
	Escape = '\\'
)

// Writer writes records in the contact file dialect.
type Writer struct {
	w *bufio.Writer
}

// NewWriter returns a Writer writing to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Write writes a single record terminated by "\n".
func (w *Writer) Write(record []string) error {
	for i, field := range record {
		if i > 0 {
			if err := w.w.WriteByte(Delimiter); err != nil {
				return err
			}
		}
		if _, err := w.w.WriteString(encodeField(field)); err != nil {
			return err
		}
	}
	return w.w.WriteByte('\n')
}

// WriteAll writes records and flushes.
func (w *Writer) WriteAll(records [][]string) error {
	for _, r := range records {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return w.Flush()
}

// Flush writes buffered data to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

func needsEnclosure(field string) bool {
	if !strings.ContainsAny(field, string([]rune{Delimiter, Enclosure, Escape, '\n', '\r', '\t', ' '})) {
		return false
	}
	// A trailing escape would swallow the closing enclosure. Leave the field bare
	// when nothing in it requires quoting.
	if strings.HasSuffix(field, string(Escape)) {
		return strings.ContainsAny(field, string([]rune{Delimiter, Enclosure, '\n', '\r'}))
	}
	return true
}

func encodeField(field string) string {
	if !needsEnclosure(field) {
		return field
	}

	var b strings.Builder
	b.Grow(len(field) + 2)
	b.WriteByte(Enclosure)
	escaped := false
	for i := 0; i < len(field); i++ {
		ch := field[i]
		switch {
		case ch == Escape:
			escaped = true
		case !escaped && ch == Enclosure:
			b.WriteByte(Enclosure)
		default:
			escaped = false
		}
		b.WriteByte(ch)
	}
	b.WriteByte(Enclosure)
	return b.String()
}

// Reader reads records in the contact file dialect.
type Reader struct {
	r *bufio.Reader
}

// NewReader returns a Reader reading from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Read returns the next record. A blank line yields a single empty field.
// At end of input Read returns io.EOF.
func (r *Reader) Read() ([]string, error) {
	var (
		record   []string
		field    strings.Builder
		inQuotes bool
		started  bool
	)

	for {
		ch, err := r.r.ReadByte()
		if err == io.EOF {
			if !started {
				return nil, io.EOF
			}
			return append(record, field.String()), nil
		}
		if err != nil {
			return nil, err
		}
		started = true

		if inQuotes {
			switch ch {
			case Escape:
				field.WriteByte(ch)
				next, err := r.r.ReadByte()
				if err == io.EOF {
					return append(record, field.String()), nil
				}
				if err != nil {
					return nil, err
				}
				field.WriteByte(next)
			case Enclosure:
				next, err := r.r.ReadByte()
				if err == nil && next == Enclosure {
					field.WriteByte(Enclosure)
					continue
				}
				if err == nil {
					_ = r.r.UnreadByte()
				} else if err != io.EOF {
					return nil, err
				}
				inQuotes = false
			default:
				field.WriteByte(ch)
			}
			continue
		}

		switch ch {
		case Delimiter:
			record = append(record, field.String())
			field.Reset()
		case '\n':
			return append(record, strings.TrimSuffix(field.String(), "\r")), nil
		case Enclosure:
			if strings.TrimSpace(field.String()) == "" {
				field.Reset()
				inQuotes = true
			} else {
				field.WriteByte(ch)
			}
		default:
			field.WriteByte(ch)
		}
	}
}

// ReadAll reads all remaining records.
func (r *Reader) ReadAll() ([][]string, error) {
	var records [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
}

// Create truncates (or creates) path and writes the given records.
func Create(path string, records [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := NewWriter(f).WriteAll(records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Append opens path in append mode and writes the given records.
func Append(path string, records [][]string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	if err := NewWriter(f).WriteAll(records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
