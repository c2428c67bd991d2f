package console

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/yourusername/bedrock-server-manager/internal/events"
)

// Filter types accepted by NewOutputFilter
const (
	FilterNone   = "none"
	FilterErrors = "errors"
	FilterSearch = "search"
	FilterRegex  = "regex"
)

// OutputFilter selects console lines for history queries
type OutputFilter struct {
	FilterType    string
	Pattern       string
	CaseSensitive bool
	match         func(text string) []int
}

// FilterResult represents the result of filtering a line
type FilterResult struct {
	Include   bool
	Highlight []int // start/end of the match
}

// Bedrock tags its own log lines "[2024-01-01 10:00:00:123 ERROR] ...".
var levelTag = regexp.MustCompile(`^(?:NO LOG FILE! - )?\[[^\]]*\b(ERROR|WARN|WARNING|FATAL)\]`)

var errorKeywords = []string{"error", "exception", "fatal", "failed", "crash"}

// NewOutputFilter builds a filter. An empty type means FilterNone.
func NewOutputFilter(filterType, pattern string, caseSensitive bool) (*OutputFilter, error) {
	if filterType == "" {
		filterType = FilterNone
	}
	f := &OutputFilter{FilterType: filterType, Pattern: pattern, CaseSensitive: caseSensitive}

	switch filterType {
	case FilterNone:
	case FilterErrors:
		f.match = matchError
	case FilterSearch:
		if pattern != "" {
			f.match = substringMatcher(pattern, caseSensitive)
		}
	case FilterRegex:
		if pattern != "" {
			expr := pattern
			if !caseSensitive {
				expr = "(?i)" + expr
			}
			compiled, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("invalid pattern: %w", err)
			}
			f.match = compiled.FindStringIndex
		}
	default:
		return nil, fmt.Errorf("unknown filter type %q", filterType)
	}
	return f, nil
}

func matchError(text string) []int {
	if loc := levelTag.FindStringSubmatchIndex(text); loc != nil {
		return loc[2:4]
	}
	lower := strings.ToLower(text)
	for _, keyword := range errorKeywords {
		if idx := strings.Index(lower, keyword); idx >= 0 {
			return []int{idx, idx + len(keyword)}
		}
	}
	return nil
}

func substringMatcher(pattern string, caseSensitive bool) func(string) []int {
	if !caseSensitive {
		pattern = strings.ToLower(pattern)
	}
	return func(text string) []int {
		if !caseSensitive {
			text = strings.ToLower(text)
		}
		if idx := strings.Index(text, pattern); idx >= 0 {
			return []int{idx, idx + len(pattern)}
		}
		return nil
	}
}

// Filter applies the filter to the text of one line
func (f *OutputFilter) Filter(text string) FilterResult {
	if f.match == nil {
		return FilterResult{Include: true}
	}
	loc := f.match(text)
	return FilterResult{Include: loc != nil, Highlight: loc}
}

// FilterLines returns the lines the filter includes. Under FilterErrors every
// stderr line is included regardless of its text.
func (f *OutputFilter) FilterLines(lines []events.ConsoleLine) []events.ConsoleLine {
	if f.match == nil {
		return lines
	}

	filtered := make([]events.ConsoleLine, 0, len(lines))
	for _, line := range lines {
		if f.FilterType == FilterErrors && line.Stream == events.StreamStderr {
			filtered = append(filtered, line)
			continue
		}
		if f.Filter(line.Text).Include {
			filtered = append(filtered, line)
		}
	}
	return filtered
}
