package capture

import "strings"

// Category is a product category suggested for a captured item.
type Category string

// Categories is the closed set of category values the engine accepts.
var Categories = []Category{
	"appliances",
	"bathroom",
	"decor",
	"flooring",
	"furniture",
	"kitchen",
	"lighting",
	"other",
	"outdoor",
	"storage",
	"textiles",
	"walls",
}

var categorySet = func() map[Category]struct{} {
	m := make(map[Category]struct{}, len(Categories))
	for _, c := range Categories {
		m[c] = struct{}{}
	}
	return m
}()

// ParseCategory normalises s and reports whether it belongs to Categories.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := categorySet[c]; !ok {
		return "", false
	}
	return c, true
}
