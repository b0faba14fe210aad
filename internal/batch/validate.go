package batch

import (
	"fmt"

	"github.com/aviator-co/bifrost/internal/remote"
)

type ValidationResult struct {
	Valid  bool
	Errors []string
}

// validate returns every problem found in the batch (not just the first one).
// Each duplicated path is reported once, no matter how many times it occurs.
func validate(b *Batch) ValidationResult {
	var problems []string
	if len(b.Operations) == 0 {
		problems = append(problems, "batch has no operations")
	}

	seen := map[string]int{}
	for _, op := range b.Operations {
		p := remote.CleanPath(op.Path)
		if p == "" {
			problems = append(problems, fmt.Sprintf("operation %s has an empty path", op.ID))
			continue
		}
		seen[p]++
		if seen[p] == 2 {
			problems = append(problems, fmt.Sprintf("duplicate path: %s", p))
		}
		if op.Kind.RequiresContent() && op.Content == "" {
			problems = append(problems, fmt.Sprintf("%s operation for %s has no content", op.Kind, p))
		}
	}

	return ValidationResult{
		Valid:  len(problems) == 0,
		Errors: problems,
	}
}
