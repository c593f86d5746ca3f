package model

import (
	"bufio"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Labels maps output tensor indexes to class names
type Labels []string

// LoadLabels reads class names from a text file with one label per line.
// Blank lines at the end of the file are dropped, those in the middle keep
// their index
func LoadLabels(file string) (Labels, error) {

	f, err := os.Open(file)

	if err != nil {
		return nil, errors.Wrapf(err, "error opening labels file")
	}

	defer f.Close()

	scanner := bufio.NewScanner(f)

	var labels Labels

	for scanner.Scan() {
		labels = append(labels, strings.TrimSpace(scanner.Text()))
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "error reading labels file")
	}

	for len(labels) > 0 && labels[len(labels)-1] == "" {
		labels = labels[:len(labels)-1]
	}

	if len(labels) == 0 {
		return nil, errors.Errorf("labels file %s is empty", file)
	}

	return labels, nil
}
