// Package tle reads two-line element sets from a flat text catalog of
// repeating name / line 1 / line 2 records, as published by CelesTrak.
package tle

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/signalsfoundry/groundstation/internal/logging"
)

// ErrNotFound is returned when no record matches a name. It is a normal
// outcome, not a failure of the catalog.
var ErrNotFound = errors.New("satellite not found in catalog")

// nameBufLen is the number of bytes of a name line considered when
// matching; longer names are compared on their prefix only.
const nameBufLen = 31

// Entry is one catalog record.
type Entry struct {
	Name  string
	Line1 string
	Line2 string
}

// Catalog looks up element sets in a file on disk. The file is re-read on
// every lookup so an updated catalog is picked up without a restart.
type Catalog struct {
	Path string
	log  logging.Logger
}

// NewCatalog returns a catalog reading path.
func NewCatalog(path string, log logging.Logger) *Catalog {
	if log == nil {
		log = logging.Noop()
	}
	return &Catalog{Path: path, log: log}
}

// Lookup returns the element lines of the first record whose name line
// starts with name. Matching is by prefix, so "NOAA 1" matches "NOAA 15".
func (c *Catalog) Lookup(name string) (string, string, error) {
	f, err := os.Open(c.Path)
	if err != nil {
		return "", "", fmt.Errorf("open catalog %q: %w", c.Path, err)
	}
	defer f.Close()

	line1, line2, err := Lookup(f, name)
	if errors.Is(err, ErrNotFound) {
		c.log.Info(context.Background(), "satellite not found in catalog",
			logging.Satellite(name),
			logging.String("path", c.Path),
		)
	}
	return line1, line2, err
}

// Entries parses the whole catalog.
func (c *Catalog) Entries() ([]Entry, error) {
	f, err := os.Open(c.Path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %q: %w", c.Path, err)
	}
	defer f.Close()
	return Parse(f, c.log)
}

// Lookup scans r sequentially for name. See Catalog.Lookup.
func Lookup(r io.Reader, name string) (string, string, error) {
	if name == "" {
		return "", "", fmt.Errorf("%w: empty name", ErrNotFound)
	}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if isElementLine(line) {
			continue
		}
		if len(line) > nameBufLen {
			line = line[:nameBufLen]
		}
		if !strings.HasPrefix(line, name) {
			continue
		}

		var lines [2]string
		for i := range lines {
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					return "", "", fmt.Errorf("read catalog: %w", err)
				}
				return "", "", fmt.Errorf("record %q truncated", name)
			}
			lines[i] = trimNewline(scanner.Text())
		}
		return lines[0], lines[1], nil
	}
	if err := scanner.Err(); err != nil {
		return "", "", fmt.Errorf("read catalog: %w", err)
	}
	return "", "", fmt.Errorf("%w: %q", ErrNotFound, name)
}

// Parse reads every well-formed record from r. Malformed records are
// skipped with a warning.
func Parse(r io.Reader, log logging.Logger) ([]Entry, error) {
	if log == nil {
		log = logging.Noop()
	}
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var entries []Entry
	for i := 0; i+2 < len(lines); {
		name, line1, line2 := lines[i], lines[i+1], lines[i+2]
		if isElementLine(name) || !strings.HasPrefix(line1, "1 ") || !strings.HasPrefix(line2, "2 ") {
			log.Warn(context.Background(), "skipping malformed catalog record",
				logging.Int("line_index", i),
				logging.String("name", name),
			)
			i++
			continue
		}
		entries = append(entries, Entry{
			Name:  strings.TrimSpace(name),
			Line1: line1,
			Line2: line2,
		})
		i += 3
	}
	return entries, nil
}

func isElementLine(line string) bool {
	return strings.HasPrefix(line, "1 ") || strings.HasPrefix(line, "2 ")
}

func trimNewline(s string) string {
	if i := strings.IndexByte(s, '\r'); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
