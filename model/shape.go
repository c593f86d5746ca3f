package model

import (
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Shape holds the dimensions of a tensor, outermost first
type Shape []int

// ParseShape parses a comma or x delimited list of dimensions, eg: "1,1001"
// or "1x224x224x3"
func ParseShape(s string) (Shape, error) {

	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == 'x' || r == 'X'
	})

	if len(fields) == 0 {
		return nil, errors.Errorf("empty shape %q", s)
	}

	shape := make(Shape, len(fields))

	for i, f := range fields {

		dim, err := strconv.Atoi(strings.TrimSpace(f))

		if err != nil {
			return nil, errors.Wrapf(err, "invalid dimension %q in shape %q", f, s)
		}

		if dim <= 0 {
			return nil, errors.Errorf("dimension %d in shape %q must be positive", dim, s)
		}

		shape[i] = dim
	}

	return shape, nil
}

// Elements returns the product of the dimensions.  It is zero for an empty
// shape, one with a dimension below one, or one whose product overflows int
func (s Shape) Elements() int {

	if len(s) == 0 {
		return 0
	}

	n := 1

	for _, dim := range s {
		if dim <= 0 || n > math.MaxInt/dim {
			return 0
		}
		n *= dim
	}

	return n
}

// String returns the shape formatted as [d0, d1, ...]
func (s Shape) String() string {

	dims := make([]string, len(s))

	for i, dim := range s {
		dims[i] = strconv.Itoa(dim)
	}

	return "[" + strings.Join(dims, ", ") + "]"
}
