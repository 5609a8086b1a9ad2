package normalizer

import (
	"fmt"

	"github.com/starford/typegen/internal/extractor"
	"github.com/starford/typegen/internal/models"
)

// Policy decides what happens to a model that fails validation.
type Policy int

const (
	// PolicySkip reports the invalid model and continues with the rest.
	PolicySkip Policy = iota
	// PolicyFail stops at the first invalid model.
	PolicyFail
)

// Rejected is a model left out of a batch, with the reasons.
type Rejected struct {
	Model    string
	FilePath string
	Errors   []string
}

// BatchResult is the outcome of NormalizeAll.
type BatchResult struct {
	Models   []models.Model
	Rejected []Rejected
}

// NormalizeAll normalizes and validates raws in order. A model whose name
// repeats an earlier one is rejected. Under PolicyFail the first rejection
// is returned as a coded validation error.
func NormalizeAll(raws []extractor.RawModel, policy Policy) (BatchResult, error) {
	var out BatchResult
	seen := make(map[string]string, len(raws))

	for _, raw := range raws {
		m := NormalizeModel(raw)
		res := ValidateSchema(m)
		if res.Valid {
			if first, dup := seen[m.ModelName]; dup {
				res = ValidationResult{Errors: []string{
					fmt.Sprintf("modelName: duplicate of model defined in %s", first),
				}}
			}
		}
		if !res.Valid {
			if policy == PolicyFail {
				return out, res.Err(m.ModelName)
			}
			out.Rejected = append(out.Rejected, Rejected{
				Model:    m.ModelName,
				FilePath: m.FilePath,
				Errors:   res.Errors,
			})
			continue
		}
		seen[m.ModelName] = m.FilePath
		out.Models = append(out.Models, m)
	}
	return out, nil
}
