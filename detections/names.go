package detections

import (
	"fmt"
	"regexp"
	"strconv"
)

// maxClassID bounds the slice ParseNames allocates from model metadata.
const maxClassID = 100000

// namesEntry matches one `id: 'name'` pair of the Python dict literal that
// Ultralytics stores under the "names" metadata key.
var namesEntry = regexp.MustCompile(`(\d+)\s*:\s*(?:'((?:[^'\\]|\\.)*)'|"((?:[^"\\]|\\.)*)")`)

// ParseNames decodes a class-name map such as "{0: 'person', 1: 'bicycle'}" into a
// slice indexed by class id.
func ParseNames(raw string) ([]string, error) {
	matches := namesEntry.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("no class names in %q", truncate(raw, 64))
	}

	byID := make(map[int]string, len(matches))
	maxID := -1
	for _, m := range matches {
		id, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("class id %q: %w", m[1], err)
		}
		if id > maxClassID {
			return nil, fmt.Errorf("class id %d exceeds %d", id, maxClassID)
		}
		name := m[2]
		if name == "" {
			name = m[3]
		}
		byID[id] = name
		maxID = max(maxID, id)
	}

	names := make([]string, maxID+1)
	for id, name := range byID {
		names[id] = name
	}
	return names, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
