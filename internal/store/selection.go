package store

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadCalendarSelection reads calendar IDs from path, one per line. Blank
// lines and lines starting with '#' are ignored, as are repeated IDs.
func LoadCalendarSelection(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open calendar selection file: %w", err)
	}
	defer f.Close()

	var ids []string
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || seen[line] {
			continue
		}
		seen[line] = true
		ids = append(ids, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read calendar selection file: %w", err)
	}

	return ids, nil
}
