package normalize

import (
	"fmt"

	"github.com/joseph-ayodele/recipe-ingest/internal/common"
)

// Convert converts value between two units of the same dimension. Count
// units only convert to themselves.
func (r *Reference) Convert(value float64, from, to string) (float64, error) {
	src, ok := r.LookupUnit(from)
	if !ok {
		return 0, fmt.Errorf("%w: unknown unit %q", common.ErrUnresolvedConversion, from)
	}
	dst, ok := r.LookupUnit(to)
	if !ok {
		return 0, fmt.Errorf("%w: unknown unit %q", common.ErrUnresolvedConversion, to)
	}
	if src == dst {
		return value, nil
	}
	if src.Dimension != dst.Dimension || src.Dimension == DimensionCount {
		return 0, fmt.Errorf("%w: %s (%s) to %s (%s)",
			common.ErrUnresolvedConversion, src.Name, src.Dimension, dst.Name, dst.Dimension)
	}
	return value * src.Factor / dst.Factor, nil
}
