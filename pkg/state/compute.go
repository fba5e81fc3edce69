package state

import (
	"sort"
	"strings"
	"time"

	"github.com/ajitpratap0/trellis/pkg/schema"
)

// Page is the result of computing a view: the current page of matching
// rows and the totals the pager needs.
type Page struct {
	// Page is the clamped, 1-based page number
	Page int `json:"page"`
	// Pages is 0 when nothing matches
	Pages int `json:"pages"`
	// Total is the number of matching rows
	Total int `json:"total"`
	// Keys are the row keys of the page in sorted order
	Keys []string `json:"keys"`
	// Rows are the frame positions of Keys
	Rows []int `json:"rows"`
	// Grid places Keys on NRow rows of NCol cells; empty cells are ""
	Grid [][]string `json:"grid"`
}

// Compute filters, sorts and paginates f by s. It is a pure function of
// its inputs. Filters on variables f lacks match nothing and sorts on them
// are skipped, so a state that passed Validate behaves exactly as written.
func Compute(f *schema.Frame, s State) Page {
	matched := Match(f, s)
	SortRows(f, s.Sorts, matched)
	return paginate(f, s.Layout, matched)
}

// Match returns the frame positions of every row passing all filters and
// the search text, in frame order.
func Match(f *schema.Frame, s State) []int {
	type check struct {
		col   []interface{}
		match func(interface{}) bool
	}
	checks := make([]check, 0, len(s.Filters))
	for _, flt := range s.Filters {
		v, ok := f.Var(flt.Var)
		if !ok || flt.Predicate == nil || !flt.Predicate.Accepts(v.Kind) {
			return []int{}
		}
		checks = append(checks, check{col: f.Column(flt.Var), match: flt.Predicate.compile(v)})
	}

	search := newSearcher(f, s.Search)

	matched := make([]int, 0, f.Len())
rows:
	for row := 0; row < f.Len(); row++ {
		for _, c := range checks {
			val := c.col[row]
			if val == nil || !c.match(val) {
				continue rows
			}
		}
		if search != nil && !search.match(row) {
			continue
		}
		matched = append(matched, row)
	}
	return matched
}

// searcher looks for a lower-cased needle in every searchable column;
// factors match on their level labels.
type searcher struct {
	needle  string
	text    [][]interface{}
	factors []factorColumn
}

type factorColumn struct {
	col []interface{}
	hit []bool
}

func newSearcher(f *schema.Frame, text string) *searcher {
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return nil
	}
	s := &searcher{needle: needle}
	for _, v := range f.Vars {
		if !v.Kind.Searchable() {
			continue
		}
		if v.Kind == schema.KindFactor {
			hit := make([]bool, len(v.Levels))
			for i, l := range v.Levels {
				hit[i] = strings.Contains(strings.ToLower(l), needle)
			}
			s.factors = append(s.factors, factorColumn{col: f.Column(v.Name), hit: hit})
			continue
		}
		s.text = append(s.text, f.Column(v.Name))
	}
	return s
}

func (s *searcher) match(row int) bool {
	for _, fc := range s.factors {
		if idx, ok := fc.col[row].(int); ok && idx >= 0 && idx < len(fc.hit) && fc.hit[idx] {
			return true
		}
	}
	for _, col := range s.text {
		if str, ok := col[row].(string); ok && strings.Contains(strings.ToLower(str), s.needle) {
			return true
		}
	}
	return false
}

type sortKey struct {
	col  []interface{}
	desc bool
}

// SortRows orders rows in place by sorts. The sort is stable, so ties keep
// the incoming order. Missing values go last whatever the direction.
func SortRows(f *schema.Frame, sorts []Sort, rows []int) {
	keys := make([]sortKey, 0, len(sorts))
	for _, s := range sorts {
		if _, ok := f.Var(s.Var); !ok {
			continue
		}
		keys = append(keys, sortKey{col: f.Column(s.Var), desc: s.Dir == Desc})
	}
	if len(keys) == 0 {
		return
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		for _, k := range keys {
			va, vb := k.col[a], k.col[b]
			switch {
			case va == nil && vb == nil:
				continue
			case va == nil:
				return false
			case vb == nil:
				return true
			}
			c := compare(va, vb)
			if c == 0 {
				continue
			}
			if k.desc {
				c = -c
			}
			return c < 0
		}
		return false
	})
}

// compare orders two non-nil values of the same in-memory type. Factors
// compare by level index, which is level order.
func compare(a, b interface{}) int {
	switch x := a.(type) {
	case int:
		y := b.(int)
		return cmpOrdered(x, y)
	case int64:
		y := b.(int64)
		return cmpOrdered(x, y)
	case float64:
		y := b.(float64)
		return cmpOrdered(x, y)
	case string:
		return strings.Compare(x, b.(string))
	case time.Time:
		y := b.(time.Time)
		switch {
		case x.Before(y):
			return -1
		case x.After(y):
			return 1
		default:
			return 0
		}
	default:
		return 0
	}
}

func cmpOrdered[T int | int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func paginate(f *schema.Frame, l Layout, matched []int) Page {
	size := l.PageSize()
	total := len(matched)
	pages := (total + size - 1) / size

	page := l.Page
	if page > pages {
		page = pages
	}
	if page < 1 {
		page = 1
	}

	start := (page - 1) * size
	end := start + size
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	rows := append([]int{}, matched[start:end]...)
	keys := make([]string, len(rows))
	for i, r := range rows {
		keys[i] = f.Keys[r]
	}

	return Page{
		Page:  page,
		Pages: pages,
		Total: total,
		Keys:  keys,
		Rows:  rows,
		Grid:  arrange(keys, l),
	}
}

func arrange(keys []string, l Layout) [][]string {
	ncol, nrow := l.NCol, l.NRow
	if ncol < 1 || nrow < 1 {
		ncol, nrow = 1, 1
	}
	grid := make([][]string, nrow)
	for r := range grid {
		grid[r] = make([]string, ncol)
	}
	for i, k := range keys {
		if l.Arrangement == ColMajor {
			grid[i%nrow][i/nrow] = k
		} else {
			grid[i/ncol][i%ncol] = k
		}
	}
	return grid
}
