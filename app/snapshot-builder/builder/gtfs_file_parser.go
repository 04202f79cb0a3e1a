package builder

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/oriontransit/orion/business/data/gtfs"
)

// rowParser reads one gtfs csv file line by line with column lookup by header
// name. Errors while extracting values accumulate with the line they happened on.
type rowParser struct {
	filename string
	line     int
	reader   *csv.Reader
	headers  []string
	current  []string
	errors   []error
}

func makeRowParser(r io.Reader, filename string) (*rowParser, error) {
	csvReader := csv.NewReader(r)
	headers, err := csvReader.Read()
	if err != nil {
		return nil, fmt.Errorf("unable to read header of %s: %w", filename, err)
	}
	removeBOMIfPresent(headers)
	return &rowParser{
		filename: filename,
		line:     1,
		reader:   csvReader,
		headers:  headers,
		current:  headers,
	}, nil
}

// some feeds publish files with a utf-8 byte order mark glued to the first header
func removeBOMIfPresent(headers []string) {
	if len(headers) == 0 || len(headers[0]) == 0 {
		return
	}
	runes := []rune(headers[0])
	if runes[0] == '\ufeff' {
		headers[0] = string(runes[1:])
	}
}

// nextLine moves the reader one line forward, returns io.EOF at the end
func (p *rowParser) nextLine() error {
	var err error
	p.current, err = p.reader.Read()
	p.line++
	return err
}

func (p *rowParser) getString(name string, optional bool) string {
	value := p.getStringPointer(name, optional)
	if value == nil {
		return ""
	}
	return *value
}

func (p *rowParser) getStringPointer(name string, optional bool) *string {
	index := indexOf(name, p.headers)
	if index < 0 {
		if !optional {
			p.addError(fmt.Errorf("unable to find header: %s", name))
		}
		return nil
	}
	if len(p.current) <= index {
		p.addError(fmt.Errorf("row too short to hold column %s at %d", name, index))
		return nil
	}
	value := p.current[index]
	if len(value) == 0 {
		if !optional {
			p.addError(fmt.Errorf("missing required value in column %s", name))
		}
		return nil
	}
	return &value
}

func (p *rowParser) getInt(name string, optional bool) int {
	value := p.getIntPointer(name, optional)
	if value == nil {
		return 0
	}
	return *value
}

func (p *rowParser) getIntPointer(name string, optional bool) *int {
	value := p.getStringPointer(name, optional)
	if value == nil {
		return nil
	}
	result, err := strconv.Atoi(*value)
	if err != nil {
		p.addError(fmt.Errorf("column %s: %w", name, err))
		return nil
	}
	return &result
}

func (p *rowParser) getFloat64(name string, optional bool) float64 {
	value := p.getFloat64Pointer(name, optional)
	if value == nil {
		return 0
	}
	return *value
}

func (p *rowParser) getFloat64Pointer(name string, optional bool) *float64 {
	value := p.getStringPointer(name, optional)
	if value == nil {
		return nil
	}
	result, err := strconv.ParseFloat(*value, 64)
	if err != nil {
		p.addError(fmt.Errorf("column %s: %w", name, err))
		return nil
	}
	return &result
}

// getScheduleTime reads a gtfs time of day column and re-renders it zero
// padded, so the snapshot's time strings compare correctly as text
func (p *rowParser) getScheduleTime(name string, optional bool) string {
	value := p.getStringPointer(name, optional)
	if value == nil {
		return ""
	}
	seconds, err := gtfs.HHMMSSToSeconds(*value)
	if err != nil {
		p.addError(fmt.Errorf("column %s: %w", name, err))
		return ""
	}
	return gtfs.SecondsToHHMMSS(seconds)
}

func (p *rowParser) addError(err error) {
	p.errors = append(p.errors, err)
}

// getError reports the errors accumulated on the current line, if any
func (p *rowParser) getError() error {
	if len(p.errors) > 0 {
		err := fmt.Errorf("in file %s, line %d: %v", p.filename, p.line, p.errors)
		p.errors = nil
		return err
	}
	return nil
}

func indexOf(name string, elements []string) int {
	for i, value := range elements {
		if name == value {
			return i
		}
	}
	return -1
}
