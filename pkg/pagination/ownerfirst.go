package pagination

// OwnerFirstPlan describes how one page of a listing is split between a
// leading "owner" group and the trailing "others" group. The logical listing
// is owner ++ others; a page covers the half-open range
// [(page-1)*size, page*size) of it.
type OwnerFirstPlan struct {
	// OwnerStart and OwnerEnd bound the slice of the owner group on this page.
	OwnerStart int
	OwnerEnd   int
	// OthersOffset is how many rows of the others group precede this page.
	OthersOffset int
	// OthersLimit is how many rows of the others group fill this page.
	OthersLimit int
}

// OwnerCount returns the number of owner rows placed on the page.
func (p OwnerFirstPlan) OwnerCount() int {
	return p.OwnerEnd - p.OwnerStart
}

// PlanOwnerFirst computes the owner-first split for params given the size of
// the owner group. Applied page by page, the plans never duplicate or skip a
// row of owner ++ others.
func PlanOwnerFirst(params Params, ownerCount int) OwnerFirstPlan {
	start := (params.Page - 1) * params.PageSize
	end := start + params.PageSize

	ownerStart := clamp(start, 0, ownerCount)
	ownerEnd := clamp(end, 0, ownerCount)

	return OwnerFirstPlan{
		OwnerStart:   ownerStart,
		OwnerEnd:     ownerEnd,
		OthersOffset: max(0, start-ownerCount),
		OthersLimit:  params.PageSize - (ownerEnd - ownerStart),
	}
}

// MergeOwnerFirst assembles a page from the full owner group and the rows of
// the others group fetched with plan.OthersOffset and plan.OthersLimit.
// Extra rows in others beyond the limit are dropped.
func MergeOwnerFirst[T any](plan OwnerFirstPlan, owner, others []T) []T {
	ownerSlice := owner[min(plan.OwnerStart, len(owner)):min(plan.OwnerEnd, len(owner))]
	if len(others) > plan.OthersLimit {
		others = others[:plan.OthersLimit]
	}

	items := make([]T, 0, len(ownerSlice)+len(others))
	items = append(items, ownerSlice...)
	items = append(items, others...)
	return items
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
