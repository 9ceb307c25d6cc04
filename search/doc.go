// Package search provides framework.Searcher implementations backed by
// public web search services.
package search
