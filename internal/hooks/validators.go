package hooks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"loom/internal/config"
	"loom/internal/services"
)

// Validators return a list of problems (empty means pass). A checklist_item
// with an on_fail target turns its failure into a Redirect instead.

func (r *Runner) validateFileExists(inv *Invocation, hook config.Hook) []string {
	name := hook.Path
	if name == "" {
		name = hook.File
	}
	if name == "" {
		return []string{"file_exists: no path configured"}
	}
	if _, err := os.Stat(filepath.Join(inv.Workdir, name)); err != nil {
		return []string{fmt.Sprintf("required file %s not found", name)}
	}
	return nil
}

func (r *Runner) validateMetricThreshold(inv *Invocation, hook config.Hook) []string {
	doc, problems := r.readDocument(inv, hook.File)
	if problems != nil {
		return problems
	}
	value, ok := metricValue(doc, hook.Field)
	if !ok {
		return []string{fmt.Sprintf("%s: field %q not found", hook.File, hook.Field)}
	}
	if hook.Min != nil && value < *hook.Min {
		problems = append(problems, fmt.Sprintf("%s: %s = %g, below minimum %g", hook.File, hook.Field, value, *hook.Min))
	}
	if hook.Max != nil && value > *hook.Max {
		problems = append(problems, fmt.Sprintf("%s: %s = %g, above maximum %g", hook.File, hook.Field, value, *hook.Max))
	}
	return problems
}

func (r *Runner) validateSectionState(inv *Invocation, hook config.Hook) []string {
	doc, problems := r.readDocument(inv, hook.File)
	if problems != nil {
		return problems
	}
	body, found := sectionBody(doc, hook.Section)
	content := strings.TrimSpace(strings.Join(body, "\n"))

	switch hook.State {
	case "empty":
		if found && content != "" {
			return []string{fmt.Sprintf("%s: section %q must be empty", hook.File, hook.Section)}
		}
		return nil
	case "non_empty":
		if !found || content == "" {
			return []string{fmt.Sprintf("%s: section %q must not be empty", hook.File, hook.Section)}
		}
		return nil
	case "all_checked":
		if !found {
			return []string{fmt.Sprintf("%s: section %q not found", hook.File, hook.Section)}
		}
		items := checklistItems(body)
		if len(items) == 0 {
			return []string{fmt.Sprintf("%s: section %q has no checklist items", hook.File, hook.Section)}
		}
		for _, item := range items {
			if !item.Checked {
				problems = append(problems, fmt.Sprintf("%s: item %q unchecked in section %q", hook.File, item.Label, hook.Section))
			}
		}
		return problems
	default:
		return []string{fmt.Sprintf("section_state: unknown state %q", hook.State)}
	}
}

func (r *Runner) validateSectionMinItems(inv *Invocation, hook config.Hook) []string {
	doc, problems := r.readDocument(inv, hook.File)
	if problems != nil {
		return problems
	}
	body, found := sectionBody(doc, hook.Section)
	if !found {
		return []string{fmt.Sprintf("%s: section %q not found", hook.File, hook.Section)}
	}
	if got := len(bulletItems(body)); got < hook.MinItems {
		return []string{fmt.Sprintf("%s: section %q has %d items, need %d", hook.File, hook.Section, got, hook.MinItems)}
	}
	return nil
}

func (r *Runner) validateSectionMinWords(inv *Invocation, hook config.Hook) []string {
	doc, problems := r.readDocument(inv, hook.File)
	if problems != nil {
		return problems
	}
	body, found := sectionBody(doc, hook.Section)
	if !found {
		return []string{fmt.Sprintf("%s: section %q not found", hook.File, hook.Section)}
	}
	if got := wordCount(body); got < hook.MinWords {
		return []string{fmt.Sprintf("%s: section %q has %d words, need %d", hook.File, hook.Section, got, hook.MinWords)}
	}
	return nil
}

func (r *Runner) validateSectionAllowed(inv *Invocation, hook config.Hook) []string {
	doc, problems := r.readDocument(inv, hook.File)
	if problems != nil {
		return problems
	}
	body, found := sectionBody(doc, hook.Section)
	if !found {
		return []string{fmt.Sprintf("%s: section %q not found", hook.File, hook.Section)}
	}
	content := strings.TrimSpace(strings.Join(body, "\n"))
	for _, allowed := range hook.Allowed {
		if strings.EqualFold(content, allowed) {
			return nil
		}
	}
	return []string{fmt.Sprintf("%s: section %q is %q, allowed values %v", hook.File, hook.Section, content, hook.Allowed)}
}

func (r *Runner) validateUnpushedCommits(ctx context.Context, inv *Invocation) []string {
	ahead, _, err := r.git.AheadBehind(ctx, inv.Workdir, "")
	if err != nil {
		return []string{fmt.Sprintf("unpushed_commits: %v", err)}
	}
	if ahead == 0 {
		return []string{"no local commits ahead of upstream; nothing was produced in this stage"}
	}
	return nil
}

func (r *Runner) validateExternalApproval(ctx context.Context, inv *Invocation, hook config.Hook) []string {
	if inv.Item.PRNumber == 0 {
		return []string{"no pull request recorded for this item"}
	}
	pr, err := r.tracker.PRStatus(ctx, inv.Workdir, inv.Item.PRNumber)
	if err != nil {
		return []string{fmt.Sprintf("external_approval: %v", err)}
	}
	switch hook.Require {
	case "", "approved":
		if !pr.Approved {
			return []string{fmt.Sprintf("pull request #%d is not approved", pr.Number)}
		}
	case "checks":
		if !pr.ChecksOK {
			return []string{fmt.Sprintf("pull request #%d has failing or missing checks", pr.Number)}
		}
	default:
		return []string{fmt.Sprintf("external_approval: unknown requirement %q", hook.Require)}
	}
	return nil
}

// validateChecklistItem is the only kind allowed to turn a failure into a
// redirect: with on_fail set, an unchecked box reroutes instead of blocking.
func (r *Runner) validateChecklistItem(inv *Invocation, hook config.Hook) error {
	doc, problems := r.readDocument(inv, hook.File)
	if problems != nil {
		return validationFailure(inv, problems)
	}
	found, checked := findChecklistItem(doc, hook.Item)
	if !found {
		return validationFailure(inv, []string{fmt.Sprintf("%s: checklist item %q not found", hook.File, hook.Item)})
	}
	if checked {
		return nil
	}
	if hook.OnFail != "" {
		return &Redirect{
			Target: hook.OnFail,
			Reason: fmt.Sprintf("checklist item %q unchecked in %s", hook.Item, hook.File),
		}
	}
	return validationFailure(inv, []string{fmt.Sprintf("%s: checklist item %q unchecked", hook.File, hook.Item)})
}

func (r *Runner) readDocument(inv *Invocation, file string) (string, []string) {
	if file == "" {
		return "", []string{"no file configured"}
	}
	data, err := os.ReadFile(filepath.Join(inv.Workdir, file))
	if err != nil {
		return "", []string{fmt.Sprintf("read %s: %v", file, err)}
	}
	return string(data), nil
}

func validationFailure(inv *Invocation, problems []string) error {
	return services.Wrap(services.ErrValidation, inv.Current.String(), "validate",
		strings.Join(problems, "; "), nil)
}
