package backend

import (
	"fmt"
	"strconv"
	"strings"
)

// parsePageSelection expands a selection like "1-10,12" against the total
// page count. Empty selection means every page. Pages out of range or
// malformed ranges are rejected.
func parsePageSelection(selection string, total int) ([]int, error) {
	selection = strings.TrimSpace(selection)
	if selection == "" {
		pages := make([]int, total)
		for i := range pages {
			pages[i] = i + 1
		}
		return pages, nil
	}

	seen := make(map[int]struct{})
	var pages []int
	add := func(p int) error {
		if p < 1 || p > total {
			return fmt.Errorf("page %d out of range 1-%d", p, total)
		}
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			pages = append(pages, p)
		}
		return nil
	}

	for _, part := range strings.Split(selection, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			start, err := strconv.Atoi(strings.TrimSpace(lo))
			if err != nil {
				return nil, fmt.Errorf("bad page range %q", part)
			}
			end, err := strconv.Atoi(strings.TrimSpace(hi))
			if err != nil {
				return nil, fmt.Errorf("bad page range %q", part)
			}
			if end < start {
				return nil, fmt.Errorf("bad page range %q", part)
			}
			for p := start; p <= end; p++ {
				if err := add(p); err != nil {
					return nil, err
				}
			}
			continue
		}
		p, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("bad page number %q", part)
		}
		if err := add(p); err != nil {
			return nil, err
		}
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("page selection %q matches no pages", selection)
	}
	return pages, nil
}
