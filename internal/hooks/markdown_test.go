package hooks

import "testing"

const sampleDoc = `# Plan

## Approach

We refactor the session layer first, then migrate callers one by one.

## Tasks

- [x] map the call sites
- [ ] migrate the daemon
- extra note line

## Status

ready

## Metrics

- coverage: 84.5
confidence: 7
`

func TestSectionBody(t *testing.T) {
	body, found := sectionBody(sampleDoc, "Approach")
	if !found {
		t.Fatal("Approach section not found")
	}
	if wordCount(body) != 12 {
		t.Errorf("word count = %d, want 12", wordCount(body))
	}
	if _, found := sectionBody(sampleDoc, "Nonexistent"); found {
		t.Error("missing section reported found")
	}
}

func TestSectionBodyStopsAtNextHeading(t *testing.T) {
	body, _ := sectionBody(sampleDoc, "Status")
	for _, line := range body {
		if line == "## Metrics" || line == "- coverage: 84.5" {
			t.Fatalf("section bled into the next heading: %q", line)
		}
	}
}

func TestBulletAndChecklistItems(t *testing.T) {
	body, _ := sectionBody(sampleDoc, "Tasks")
	if got := len(bulletItems(body)); got != 3 {
		t.Errorf("bullet count = %d, want 3", got)
	}
	items := checklistItems(body)
	if len(items) != 2 {
		t.Fatalf("checklist count = %d, want 2", len(items))
	}
	if !items[0].Checked || items[1].Checked {
		t.Errorf("checklist states wrong: %+v", items)
	}
}

func TestFindChecklistItem(t *testing.T) {
	found, checked := findChecklistItem(sampleDoc, "call sites")
	if !found || !checked {
		t.Errorf("call sites: found=%v checked=%v, want true/true", found, checked)
	}
	found, checked = findChecklistItem(sampleDoc, "Migrate the Daemon")
	if !found || checked {
		t.Errorf("daemon item: found=%v checked=%v, want true/false", found, checked)
	}
	if found, _ := findChecklistItem(sampleDoc, "no such label"); found {
		t.Error("absent label reported found")
	}
}

func TestMetricValue(t *testing.T) {
	if v, ok := metricValue(sampleDoc, "coverage"); !ok || v != 84.5 {
		t.Errorf("coverage = %v (%v), want 84.5", v, ok)
	}
	if v, ok := metricValue(sampleDoc, "confidence"); !ok || v != 7 {
		t.Errorf("confidence = %v (%v), want 7", v, ok)
	}
	if _, ok := metricValue(sampleDoc, "velocity"); ok {
		t.Error("absent metric reported found")
	}
}
