package model

import (
	"regexp"
	"strconv"
	"strings"
)

var paramSizePattern = regexp.MustCompile(`(\d+\.?\d*)\s*[bB]`)

// InferParameterSize extracts a "<n>B" parameter-size label from a model
// name when the probe's tag listing omitted it (e.g. "deepseek-r1:13b" → "13B").
// Returns "" when no size can be inferred.
func InferParameterSize(name string) string {
	m := paramSizePattern.FindStringSubmatch(name)
	if m == nil {
		return ""
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return ""
	}
	if n == float64(int64(n)) {
		return strconv.FormatInt(int64(n), 10) + "B"
	}
	return strings.TrimRight(strconv.FormatFloat(n, 'f', 1, 64), "0") + "B"
}

// FillInferred populates ParameterSize on m from its Name when the probe
// left it blank. QuantizationLevel is never inferred from the name; the
// probe is the only source for it.
func FillInferred(m Model) Model {
	if m.ParameterSize == "" {
		m.ParameterSize = InferParameterSize(m.Name)
	}
	return m
}
