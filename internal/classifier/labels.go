package classifier

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// LoadLabels reads one class name per line, in class index order. A line
// of the form "<index>: <name>" is accepted as well, so a model's exported
// names table can be used directly.
func LoadLabels(path string) ([]string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	var labels []string
	sc := bufio.NewScanner(fh)
	for line := 1; sc.Scan(); line++ {
		s := strings.TrimSpace(sc.Text())
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		if i := strings.Index(s, ":"); i > 0 && isDigits(s[:i]) {
			var idx int
			if _, err := fmt.Sscanf(s[:i], "%d", &idx); err != nil || idx != len(labels) {
				return nil, fmt.Errorf("%s:%d: index %q out of order", path, line, s[:i])
			}
			s = strings.Trim(strings.TrimSpace(s[i+1:]), "\"'")
		}
		labels = append(labels, s)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		return nil, errors.New("labels file is empty")
	}
	return labels, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
