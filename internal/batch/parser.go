package batch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/manash/timebooth/pkg/models"
)

// Stop is one destination of a tour: an era and the edits to apply to the
// scene generated there, in order.
type Stop struct {
	Index int
	Era   models.Era
	Edits []string
}

type jsonStop struct {
	Era   string   `json:"era"`
	Edits []string `json:"edits,omitempty"`
}

func ParseFile(path string) ([]Stop, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		return ParseJSON(file)
	case ".txt", ".tour", "":
		return ParseText(file)
	default:
		return nil, fmt.Errorf("unsupported file format %q: use .txt, .tour or .json", ext)
	}
}

// ParseText reads one stop per line in the form
//
//	<era> [| edit]...
//
// Blank lines and lines starting with # are ignored.
func ParseText(r io.Reader) ([]Stop, error) {
	var stops []Stop
	scanner := bufio.NewScanner(r)
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "|")
		stop, err := newStop(len(stops)+1, fields[0], fields[1:])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		stops = append(stops, stop)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	if len(stops) == 0 {
		return nil, fmt.Errorf("no eras found in file")
	}

	return stops, nil
}

func ParseJSON(r io.Reader) ([]Stop, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var items []jsonStop
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("no eras found in file")
	}

	stops := make([]Stop, len(items))
	for i, item := range items {
		stop, err := newStop(i+1, item.Era, item.Edits)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i+1, err)
		}
		stops[i] = stop
	}

	return stops, nil
}

func newStop(index int, era string, edits []string) (Stop, error) {
	parsed, err := models.ParseEra(era)
	if err != nil {
		return Stop{}, err
	}

	stop := Stop{Index: index, Era: parsed}
	for i, edit := range edits {
		edit = strings.TrimSpace(edit)
		if edit == "" {
			return Stop{}, fmt.Errorf("edit %d: %w", i+1, models.ErrEmptyInstruction)
		}
		stop.Edits = append(stop.Edits, edit)
	}
	return stop, nil
}
