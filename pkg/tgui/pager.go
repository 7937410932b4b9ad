package tgui

import "fmt"

// Page is one page of a list. Index is 0-based.
type Page[T any] struct {
	Items   []T
	Index   int
	Size    int
	Pages   int
	Total   int
	HasPrev bool
	HasNext bool
}

// Paginate returns page index of items split by size. An out-of-range
// index is clamped.
func Paginate[T any](items []T, index, size int) Page[T] {
	if size <= 0 {
		size = 10
	}
	total := len(items)
	pages := max((total+size-1)/size, 1)
	index = min(max(index, 0), pages-1)
	start := index * size
	end := min(start+size, total)
	return Page[T]{
		Items:   items[start:end],
		Index:   index,
		Size:    size,
		Pages:   pages,
		Total:   total,
		HasPrev: index > 0,
		HasNext: end < total,
	}
}

// Label renders "Page 2/5 • 11–20 of 47".
func (p Page[T]) Label() string {
	if p.Total == 0 {
		return "Page 1/1"
	}
	from := p.Index*p.Size + 1
	return fmt.Sprintf("Page %d/%d • %d–%d of %d", p.Index+1, p.Pages, from, from+len(p.Items)-1, p.Total)
}
