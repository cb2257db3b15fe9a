package hooks

import (
	"regexp"
	"strconv"
	"strings"
)

// Section and checklist validators read plain markdown work documents
// (PLAN.md and friends). The parsing here is deliberately line-based: a
// section is everything between its heading and the next heading of any
// level, a bullet is a line starting with "-" or "*", and a checklist item
// is "- [ ]" or "- [x]".

var (
	headingPattern   = regexp.MustCompile(`^(#+)\s+(.*?)\s*$`)
	bulletPattern    = regexp.MustCompile(`^\s*[-*]\s+\S`)
	checklistPattern = regexp.MustCompile(`^\s*[-*]\s+\[([ xX])\]\s+(.*?)\s*$`)
	metricPattern    = regexp.MustCompile(`^\s*[-*]?\s*([A-Za-z0-9_ -]+?)\s*[:=]\s*(-?\d+(?:\.\d+)?)\s*%?\s*$`)
)

// sectionBody returns the lines under the named heading, exclusive of the
// heading itself, up to the next heading. Heading match is case-insensitive.
func sectionBody(doc, section string) ([]string, bool) {
	lines := strings.Split(doc, "\n")
	var body []string
	inSection := false
	found := false
	for _, line := range lines {
		if m := headingPattern.FindStringSubmatch(line); m != nil {
			if inSection {
				break
			}
			if strings.EqualFold(m[2], section) {
				inSection = true
				found = true
			}
			continue
		}
		if inSection {
			body = append(body, line)
		}
	}
	return body, found
}

func bulletItems(lines []string) []string {
	var items []string
	for _, line := range lines {
		if bulletPattern.MatchString(line) {
			items = append(items, strings.TrimSpace(line))
		}
	}
	return items
}

func wordCount(lines []string) int {
	count := 0
	for _, line := range lines {
		count += len(strings.Fields(line))
	}
	return count
}

type checklistItem struct {
	Label   string
	Checked bool
}

func checklistItems(lines []string) []checklistItem {
	var items []checklistItem
	for _, line := range lines {
		if m := checklistPattern.FindStringSubmatch(line); m != nil {
			items = append(items, checklistItem{
				Label:   m[2],
				Checked: m[1] == "x" || m[1] == "X",
			})
		}
	}
	return items
}

// findChecklistItem looks up a checklist entry by label anywhere in the
// document. Label match is a case-insensitive substring so config does not
// have to quote the full line.
func findChecklistItem(doc, label string) (found, checked bool) {
	for _, item := range checklistItems(strings.Split(doc, "\n")) {
		if strings.Contains(strings.ToLower(item.Label), strings.ToLower(label)) {
			return true, item.Checked
		}
	}
	return false, false
}

// metricValue extracts a numeric "field: value" entry from the document.
func metricValue(doc, field string) (float64, bool) {
	for _, line := range strings.Split(doc, "\n") {
		m := metricPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(m[1]), field) {
			continue
		}
		value, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		return value, true
	}
	return 0, false
}
