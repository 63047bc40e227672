// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package session

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// Header is the fixed first row of every export.
var Header = []string{"timestamp", "ax", "ay", "az", "gx", "gy", "gz", "pitch", "roll", "yaw"}

// ExportError reports a failed export. The rows stay buffered, so the
// export can be retried.
type ExportError struct {
	Path string // empty when exporting to a caller-supplied writer
	Err  error
}

func (e *ExportError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("export session log: %v", e.Err)
	}
	return fmt.Sprintf("export session log to %s: %v", e.Path, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }

// Export writes the header and every buffered row to w. The buffer is
// left untouched.
func (l *Log) Export(w io.Writer) error {
	return WriteCSV(w, l.rows)
}

// ExportFile writes the session to path, creating parent directories.
func (l *Log) ExportFile(path string) error {
	return WriteFile(path, l.rows)
}

// CSVRow renders a row in header column order.
func (r Row) CSVRow() []string {
	return []string{
		strconv.FormatInt(r.TimestampMS, 10),
		strconv.Itoa(r.Ax),
		strconv.Itoa(r.Ay),
		strconv.Itoa(r.Az),
		strconv.Itoa(r.Gx),
		strconv.Itoa(r.Gy),
		strconv.Itoa(r.Gz),
		formatFloat(r.Pitch),
		formatFloat(r.Roll),
		formatFloat(r.Yaw),
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// WriteCSV writes Header followed by rows to w.
func WriteCSV(w io.Writer, rows []Row) error {
	if err := writeCSV(w, rows); err != nil {
		return &ExportError{Err: err}
	}
	return nil
}

func writeCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i := range rows {
		if err := cw.Write(rows[i].CSVRow()); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes Header followed by rows to the file at path,
// replacing it if it exists.
func WriteFile(path string, rows []Row) (err error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return &ExportError{Path: path, Err: fmt.Errorf("create dir: %w", err)}
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return &ExportError{Path: path, Err: err}
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = &ExportError{Path: path, Err: cerr}
		}
	}()

	bw := bufio.NewWriter(f)
	if err := writeCSV(bw, rows); err != nil {
		return &ExportError{Path: path, Err: err}
	}
	if err := bw.Flush(); err != nil {
		return &ExportError{Path: path, Err: err}
	}
	return nil
}
