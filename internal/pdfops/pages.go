package pdfops

import (
	"fmt"
	"sort"
)

// PageMapItem reads "new page NewNumber takes its data from old page OldNumber".
type PageMapItem struct {
	NewNumber int
	OldNumber int
}

// PageRecycleMap maps the pages that survive a deletion to their new numbers.
//
//	PageRecycleMap(5, []int{2, 3}) => [(1,1) (2,4) (3,5)]
func PageRecycleMap(total int, deleted []int) ([]PageMapItem, error) {
	if total < len(deleted) {
		return nil, fmt.Errorf("total %d < deleted %d", total, len(deleted))
	}
	gone := make(map[int]bool, len(deleted))
	for _, d := range deleted {
		gone[d] = true
	}
	items := make([]PageMapItem, 0, total)
	for old := 1; old <= total; old++ {
		if gone[old] {
			continue
		}
		items = append(items, PageMapItem{NewNumber: len(items) + 1, OldNumber: old})
	}
	return items, nil
}

// PageMove is one entry of a reorder request.
type PageMove struct {
	ID        string `json:"id,omitempty"`
	OldNumber int    `json:"old_number"`
	NewNumber int    `json:"new_number"`
}

// ReorderedList returns old page numbers in their new order. Pages absent
// from moves keep their position.
func ReorderedList(moves []PageMove, pageCount int) []int {
	result := make([]int, pageCount)
	for i := range result {
		result[i] = i + 1
	}
	for _, m := range moves {
		if m.NewNumber < 1 || m.NewNumber > pageCount {
			continue
		}
		result[m.NewNumber-1] = m.OldNumber
	}
	return result
}

// ValidateOrder reports whether order is a permutation of 1..len(order).
func ValidateOrder(order []int) error {
	seen := make(map[int]bool, len(order))
	for _, n := range order {
		if n < 1 || n > len(order) || seen[n] {
			return fmt.Errorf("page order %v is not a permutation", order)
		}
		seen[n] = true
	}
	return nil
}

// PageRef identifies a stored page.
type PageRef struct {
	ID     string
	Number int
}

// AnnotatePageData replaces the page id of each entry with its page number,
// keeping field. Entries with unknown ids are dropped.
func AnnotatePageData(pages []PageRef, data []map[string]interface{}, field string) []map[string]interface{} {
	if field == "" {
		field = "angle"
	}
	numbers := make(map[string]int, len(pages))
	for _, p := range pages {
		numbers[p.ID] = p.Number
	}
	out := make([]map[string]interface{}, 0, len(data))
	for _, d := range data {
		id := fmt.Sprint(d["id"])
		n, ok := numbers[id]
		if !ok {
			continue
		}
		out = append(out, map[string]interface{}{"number": n, field: d[field]})
	}
	return out
}

// NormalizeAngle maps any multiple of 90 to 0, 90, 180 or 270.
func NormalizeAngle(angle int) (int, error) {
	if angle%90 != 0 {
		return 0, fmt.Errorf("angle %d is not a multiple of 90", angle)
	}
	return ((angle % 360) + 360) % 360, nil
}

func sortedUnique(numbers []int) []int {
	seen := make(map[int]bool, len(numbers))
	out := make([]int, 0, len(numbers))
	for _, n := range numbers {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out
}
