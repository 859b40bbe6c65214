// Package source provides the record sources the pipeline reads scraped stations from.
package source

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andygrunwald/fuel-price-scraper/internal/models"
)

// maxLineSize is the longest JSON line accepted by the line reader.
const maxLineSize = 1 << 20

// Source defines the interface for record sources handed to the pipeline.
type Source interface {
	// Name returns the source identifier used in logs and run records.
	Name() string

	// Next returns the next record. It returns io.EOF when the source is
	// exhausted. Errors wrapping models.ErrInvalidRecord affect only the
	// current record and the caller may continue reading.
	Next(ctx context.Context) (*models.ScrapedRecord, error)

	// Close releases the underlying resources.
	Close() error
}

// JSONLines reads one JSON encoded record per line.
type JSONLines struct {
	name   string
	reader *bufio.Reader
	buf    []byte
	closer io.Closer
	line   int
}

// NewJSONLines creates a source reading from r. If r is an io.Closer it is
// closed by Close.
func NewJSONLines(name string, r io.Reader) *JSONLines {
	s := &JSONLines{
		name:   name,
		reader: bufio.NewReaderSize(r, 64*1024),
	}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// OpenFile opens a JSON Lines file. The source is named after the file.
func OpenFile(path string) (*JSONLines, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return NewJSONLines(filepath.Base(path), f), nil
}

// Name returns the source identifier.
func (s *JSONLines) Name() string {
	return s.name
}

// Next returns the next record. Blank lines are skipped. A line longer than
// maxLineSize is skipped and reported as an invalid record.
func (s *JSONLines) Next(ctx context.Context) (*models.ScrapedRecord, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, tooLong, err := s.readLine()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s line %d: %w", s.name, s.line+1, err)
		}
		s.line++

		if tooLong {
			return nil, fmt.Errorf("%w: %s line %d: longer than %d bytes", models.ErrInvalidRecord, s.name, s.line, maxLineSize)
		}

		line := strings.TrimSpace(string(raw))
		if line == "" {
			continue
		}

		var rec models.ScrapedRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", models.ErrInvalidRecord, s.name, s.line, err)
		}
		if rec.Source == "" {
			rec.Source = s.name
		}
		return &rec, nil
	}
}

// readLine returns the next line. The content of a line longer than
// maxLineSize is dropped and tooLong is set. io.EOF is returned only when
// no bytes are left.
func (s *JSONLines) readLine() ([]byte, bool, error) {
	s.buf = s.buf[:0]
	tooLong := false
	read := false
	for {
		chunk, err := s.reader.ReadSlice('\n')
		if len(chunk) > 0 {
			read = true
		}
		if !tooLong {
			if len(s.buf)+len(chunk) > maxLineSize {
				tooLong = true
				s.buf = s.buf[:0]
			} else {
				s.buf = append(s.buf, chunk...)
			}
		}

		switch {
		case err == bufio.ErrBufferFull:
			continue
		case err == io.EOF:
			if !read {
				return nil, false, io.EOF
			}
			return s.buf, tooLong, nil
		case err != nil:
			return nil, false, err
		}
		return s.buf, tooLong, nil
	}
}

// Close closes the underlying reader if it is closable.
func (s *JSONLines) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Slice serves records from memory.
type Slice struct {
	name    string
	records []models.ScrapedRecord
	pos     int
}

// NewSlice creates a source over records. The records are copied on read.
func NewSlice(name string, records ...models.ScrapedRecord) *Slice {
	return &Slice{name: name, records: records}
}

// Name returns the source identifier.
func (s *Slice) Name() string {
	return s.name
}

// Next returns the next record or io.EOF.
func (s *Slice) Next(ctx context.Context) (*models.ScrapedRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.records) {
		return nil, io.EOF
	}
	rec := s.records[s.pos]
	s.pos++
	if rec.Source == "" {
		rec.Source = s.name
	}
	return &rec, nil
}

// Close is a no-op.
func (s *Slice) Close() error {
	return nil
}
