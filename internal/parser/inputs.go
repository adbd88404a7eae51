package parser

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ReadList reads one value per line, as used for device group and search
// token files. Blank lines and lines starting with '#' are skipped, as are
// repeated values.
func ReadList(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	var values []string
	seen := make(map[string]bool)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if seen[line] {
			continue
		}
		seen[line] = true
		values = append(values, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading list: %w", err)
	}
	return values, nil
}
