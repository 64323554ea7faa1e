package service

import "papervault/internal/node/model"

// Paginate clamps page into range and returns the pagination block plus the
// [start, end) slice bounds of that page.
func Paginate(total, perPage, page int) (model.Pagination, int, int) {
	if perPage <= 0 {
		perPage = model.PerPage
	}
	numPages := (total + perPage - 1) / perPage
	if numPages == 0 {
		numPages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > numPages {
		page = numPages
	}

	// Window of page links: the first pages near the start, the last seven
	// near the end, otherwise three on each side of the current page.
	var first, last int
	switch {
	case numPages <= 7 || page <= 4:
		first, last = 1, min(numPages, 6)
	case page > numPages-4:
		first, last = numPages-6, numPages
	default:
		first, last = page-3, page+3
	}
	pages := make([]int, 0, last-first+1)
	for p := first; p <= last; p++ {
		pages = append(pages, p)
	}

	info := model.PageInfo{
		HasPrevious:        page > 1,
		HasNext:            page < numPages,
		PreviousPageNumber: -1,
		NextPageNumber:     -1,
	}
	if info.HasPrevious {
		info.PreviousPageNumber = page - 1
	}
	if info.HasNext {
		info.NextPageNumber = page + 1
	}

	start := (page - 1) * perPage
	end := min(start+perPage, total)
	if start > total {
		start = total
	}
	return model.Pagination{PageNumber: page, Pages: pages, NumPages: numPages, Page: info}, start, end
}
