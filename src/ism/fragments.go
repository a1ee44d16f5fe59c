package ism

import (
	"errors"
	"fmt"
	"regexp"
	"sync"
)

// ErrNoElement is returned by DropHeader when the document holds no element
// with the requested name.
var ErrNoElement = errors.New("element not found")

var (
	patternsLock sync.Mutex
	openPatterns = make(map[string]*regexp.Regexp)
	fragPatterns = make(map[string]*regexp.Regexp)
)

func openPattern(element string) *regexp.Regexp {
	patternsLock.Lock()
	defer patternsLock.Unlock()
	re, ok := openPatterns[element]
	if !ok {
		re = regexp.MustCompile(`<\s*?` + regexp.QuoteMeta(element) + `[>\s/]`)
		openPatterns[element] = re
	}
	return re
}

func fragmentPattern(element string) *regexp.Regexp {
	patternsLock.Lock()
	defer patternsLock.Unlock()
	re, ok := fragPatterns[element]
	if !ok {
		name := regexp.QuoteMeta(element)
		re = regexp.MustCompile(`(?s)<\s*?` + name + `(?:(?:\s[^>]*?)?/\s*>|[>\s].*?<\s*?/` + name + `\s*?>)`)
		fragPatterns[element] = re
	}
	return re
}

// DropHeader strips everything before the first opening tag of element: the
// XML declaration, doctype and leading comments.
func DropHeader(doc string, element string) (string, error) {
	loc := openPattern(element).FindStringIndex(doc)
	if loc == nil {
		return "", fmt.Errorf("<%s>: %w", element, ErrNoElement)
	}
	return doc[loc[0]:], nil
}

// ExtractFragments returns every element fragment of doc, in document order.
// Self-closing elements are fragments too. Nested elements of the same name
// are not supported: the outer fragment ends at the first closing tag.
func ExtractFragments(doc string, element string) []string {
	return fragmentPattern(element).FindAllString(doc, -1)
}
