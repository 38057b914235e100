package echoapi

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/nithadya/classsync/core"
)

const orderingParam = "ordering"

// bindOrdering reads "?ordering=-name,username" terms; a leading "-" sorts descending.
// Repeated params are appended in order. Unknown fields are left for the repository to drop.
func bindOrdering(ctx echo.Context) []core.DBOrdering {
	var orderings []core.DBOrdering
	for _, param := range ctx.QueryParams()[orderingParam] {
		for _, field := range strings.Split(param, ",") {
			field = strings.TrimSpace(field)
			descending := strings.HasPrefix(field, "-")
			field = strings.TrimLeft(field, "+-")
			if field == "" {
				continue
			}
			orderings = append(orderings, core.DBOrdering{Field: field, Ascending: !descending})
		}
	}
	return orderings
}
