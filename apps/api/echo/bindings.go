package echoapi

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/jitu/core"
)

const orderingParam = "ordering"

// bindOrdering reads `?ordering=-starts_at,cycle` (the param may repeat). A "-" prefix sorts descending.
// The first mention of a field wins; unknown fields are dropped by the repositories.
func bindOrdering(ctx echo.Context, defaults ...core.DBOrdering) []core.DBOrdering {
	var orderings []core.DBOrdering
	seen := make(map[string]bool)
	for _, val := range ctx.QueryParams()[orderingParam] {
		for _, field := range strings.Split(val, ",") {
			field = strings.TrimSpace(field)
			descending := strings.HasPrefix(field, "-")
			field = strings.TrimPrefix(field, "-")
			if field == "" || seen[field] {
				continue
			}
			seen[field] = true
			orderings = append(orderings, core.DBOrdering{Field: field, Ascending: !descending})
		}
	}
	if len(orderings) == 0 {
		return defaults
	}
	return orderings
}
