package diffutil

import (
	"strconv"
	"strings"
)

// hunkExtent tracks how many body lines remain in the current unified
// hunk, parsed from its @@ header. While a hunk is active, its body lines
// are consumed positionally, so removed or added content that happens to
// start with ---, +++, or diff is never misread as a file header.
type hunkExtent struct {
	oldLeft int
	newLeft int
}

func (h *hunkExtent) active() bool { return h.oldLeft > 0 || h.newLeft > 0 }

// begin parses "@@ -start[,count] +start[,count] @@". A count omitted from
// a range defaults to 1. Returns false on anything malformed, leaving the
// extent inactive.
func (h *hunkExtent) begin(line string) bool {
	fields := strings.Fields(line)
	if len(fields) < 3 || fields[0] != "@@" {
		return false
	}
	oldCount, ok := rangeCount(fields[1], '-')
	if !ok {
		return false
	}
	newCount, ok := rangeCount(fields[2], '+')
	if !ok {
		return false
	}
	h.oldLeft, h.newLeft = oldCount, newCount
	return true
}

// consume accounts one hunk body line against the extent.
func (h *hunkExtent) consume(line string) {
	switch {
	case strings.HasPrefix(line, "+"):
		h.newLeft = decrement(h.newLeft)
	case strings.HasPrefix(line, "-"):
		h.oldLeft = decrement(h.oldLeft)
	case strings.HasPrefix(line, `\`):
		// "\ No newline at end of file" carries no line of its own.
	default:
		// Context lines count against both sides.
		h.oldLeft = decrement(h.oldLeft)
		h.newLeft = decrement(h.newLeft)
	}
}

func decrement(n int) int {
	if n > 0 {
		return n - 1
	}
	return 0
}

// rangeCount extracts the line count from one side of a hunk header, for
// example "-12,3" or "+7".
func rangeCount(field string, sign byte) (int, bool) {
	if len(field) < 2 || field[0] != sign {
		return 0, false
	}
	spec := field[1:]
	if idx := strings.IndexByte(spec, ','); idx >= 0 {
		n, err := strconv.Atoi(spec[idx+1:])
		return n, err == nil && n >= 0
	}
	if _, err := strconv.Atoi(spec); err != nil {
		return 0, false
	}
	return 1, true
}
