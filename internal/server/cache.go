package server

import (
	lru "github.com/hashicorp/golang-lru/v2"

	language "github.com/hanpama/querymux/internal/language"
)

// queryCache memoizes parsed documents by query text. Merging deep
// copies documents before rewriting, so a cached document is shared
// safely between concurrent requests and windows.
type queryCache struct {
	docs *lru.Cache[string, *language.QueryDocument]
}

func newQueryCache(size int) (*queryCache, error) {
	docs, err := lru.New[string, *language.QueryDocument](size)
	if err != nil {
		return nil, err
	}
	return &queryCache{docs: docs}, nil
}

func (c *queryCache) parse(query string) (*language.QueryDocument, error) {
	if doc, ok := c.docs.Get(query); ok {
		return doc, nil
	}
	doc, err := language.ParseQuery(query)
	if err != nil {
		return nil, err
	}
	c.docs.Add(query, doc)
	return doc, nil
}
