package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"loom/internal/pipeline"
)

var titleCaser = cases.Title(language.Und)

// stageLabel renders a dot-path's stage as a human heading, e.g.
// "address_review" becomes "Address Review".
func stageLabel(dotPath string) string {
	path, err := pipeline.ParsePath(dotPath)
	if err != nil {
		return dotPath
	}
	return titleCaser.String(strings.ReplaceAll(path.Stage, "_", " "))
}

func parseItemID(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid item id %q", arg)
	}
	return id, nil
}

func formatAge(since time.Time) string {
	if since.IsZero() {
		return "-"
	}
	age := time.Since(since)
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%dm", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh%dm", int(age.Hours()), int(age.Minutes())%60)
	default:
		return fmt.Sprintf("%dd", int(age.Hours()/24))
	}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
