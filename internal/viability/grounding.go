// File: internal/viability/grounding.go
package viability

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/planforge-cli/api/schemas"
)

// groundingConcurrency caps parallel oracle probes. Existence checks are
// cheap but plans can carry hundreds of verified files.
const groundingConcurrency = 16

// FileExistsFunc answers whether a workspace-relative path exists. The
// validator treats it as an oracle so tests and remote workspaces can inject
// their own.
type FileExistsFunc func(ctx context.Context, path string) (bool, error)

// OSFileExists returns an oracle backed by the local filesystem rooted at root.
func OSFileExists(root string) FileExistsFunc {
	return func(_ context.Context, path string) (bool, error) {
		_, err := os.Stat(filepath.Join(root, path))
		if err == nil {
			return true, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
}

// createdPaths collects every path the plan itself brings into existence.
// References to those paths are exempt from grounding: they are allowed to
// not exist yet.
func createdPaths(instructions []schemas.Instruction) map[string]bool {
	created := make(map[string]bool)
	for i := range instructions {
		for _, ref := range instructions[i].FileRefs {
			if ref.Action == schemas.FileCreate {
				created[ref.Path] = true
			}
		}
	}
	return created
}

// checkGrounding re-verifies the plan's grounding snapshot against the file
// oracle. A plan built on files that do not exist (and that the plan does not
// create) would fail at the first read, so stale grounding blocks approval.
func checkGrounding(ctx context.Context, plan *schemas.Plan, exists FileExistsFunc) ([]schemas.ViabilityViolation, error) {
	files := plan.Grounding.VerifiedFiles
	if len(files) == 0 {
		return nil, nil
	}

	created := createdPaths(plan.Instructions())

	present := make([]bool, len(files))
	if exists != nil {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(groundingConcurrency)
		for i := range files {
			g.Go(func() error {
				ok, err := exists(gctx, files[i].Path)
				if err != nil {
					return fmt.Errorf("grounding check for %q: %w", files[i].Path, err)
				}
				present[i] = ok
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		// No oracle: fall back to the snapshot's own claims.
		for i := range files {
			present[i] = files[i].Exists
		}
	}

	var violations []schemas.ViabilityViolation
	for i, file := range files {
		if present[i] || created[file.Path] {
			continue
		}
		msg := fmt.Sprintf("Grounding file %q does not exist and no instruction creates it", file.Path)
		if file.Exists {
			msg = fmt.Sprintf("Grounding file %q was recorded as existing but is gone, and no instruction creates it", file.Path)
		}
		violations = append(violations, schemas.ViabilityViolation{
			RuleID:         ruleGrounding,
			InstructionIDs: instructionsReferencing(plan, file.Path),
			Severity:       schemas.SeverityCritical,
			Message:        msg,
			Remediation:    "Regenerate the plan against the current workspace, or add an instruction that creates the file",
		})
	}
	return violations, nil
}

func instructionsReferencing(plan *schemas.Plan, path string) []string {
	var ids []string
	for _, in := range plan.Instructions() {
		for _, ref := range in.FileRefs {
			if ref.Path == path {
				ids = append(ids, in.ID)
				break
			}
		}
	}
	return ids
}
