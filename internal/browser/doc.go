// Package browser manages the headless Chrome instance shared by the workers of
// one queue run: a lazily launched browser, one tab per worker, and attachment
// to tabs that already exist.
package browser
