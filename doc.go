// Package coalescer merges concurrent point lookups issued within a short
// window into a single bulk fetch per named group, and fans the results
// back out to every waiting caller.
package coalescer
