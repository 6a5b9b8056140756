package extraction

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// transformRank fixes the application order regardless of how the template
// lists its pipeline: remove → trim → case → parse.
func transformRank(op TransformOp) int {
	switch op {
	case TransformRemove:
		return 0
	case TransformTrim:
		return 1
	case TransformUppercase, TransformLowercase:
		return 2
	case TransformParseFloat, TransformParseInt:
		return 3
	default:
		return 4
	}
}

func applyTransforms(value string, pipeline []Transform) (string, error) {
	if len(pipeline) == 0 {
		return value, nil
	}

	ordered := make([]Transform, len(pipeline))
	copy(ordered, pipeline)
	sort.SliceStable(ordered, func(i, j int) bool {
		return transformRank(ordered[i].Op) < transformRank(ordered[j].Op)
	})

	for _, t := range ordered {
		switch t.Op {
		case TransformRemove:
			value = strings.ReplaceAll(value, t.Arg, "")
		case TransformTrim:
			value = strings.TrimSpace(value)
		case TransformUppercase:
			value = strings.ToUpper(value)
		case TransformLowercase:
			value = strings.ToLower(value)
		case TransformParseFloat:
			f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
			if err != nil {
				return value, fmt.Errorf("parseFloat %q: %w", value, err)
			}
			value = strconv.FormatFloat(f, 'f', -1, 64)
		case TransformParseInt:
			n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			if err != nil {
				return value, fmt.Errorf("parseInt %q: %w", value, err)
			}
			value = strconv.FormatInt(n, 10)
		default:
			return value, fmt.Errorf("unknown transform %q", t.Op)
		}
	}
	return value, nil
}
