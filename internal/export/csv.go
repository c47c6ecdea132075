package export

import (
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/jes/pressuredash/internal/reading"
)

const (
	Header      = "Timestamp,Elapsed Time (s),Pressure (psi),Event"
	DefaultName = "pressure_data"
)

// CSVWriter writes the session log as a flat table. Fields are joined as-is:
// labels containing commas are not quoted.
type CSVWriter struct {
	writer io.Writer
	layout string
}

func NewCSVWriter(w io.Writer, timestampLayout string) *CSVWriter {
	return &CSVWriter{
		writer: w,
		layout: timestampLayout,
	}
}

func (cw *CSVWriter) Write(readings []reading.Reading) error {
	if _, err := io.WriteString(cw.writer, Header); err != nil {
		return fmt.Errorf("error writing CSV header: %w", err)
	}

	for _, r := range readings {
		if err := cw.WriteReading(r); err != nil {
			return err
		}
	}
	return nil
}

func (cw *CSVWriter) WriteReading(r reading.Reading) error {
	if _, err := io.WriteString(cw.writer, "\n"+strings.Join(r.Row(cw.layout), ",")); err != nil {
		return fmt.Errorf("error writing CSV: %w", err)
	}
	return nil
}

// FileName turns a free-text session name into a download file name.
func FileName(sessionName string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsControl(r):
			return '_'
		case strings.ContainsRune(`/\:*?"<>|`, r):
			return '_'
		}
		return r
	}, strings.TrimSpace(sessionName))

	name = strings.TrimLeft(name, ".")
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName
	}
	return name + ".csv"
}
