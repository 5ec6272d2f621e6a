// Package main provides the serpent command line.
//
// serpent crawls search engine results pages for a list of queries and
// stores one record per page in a dataset.
//
// Usage:
//
//	serpent run "cats" "dogs" --max-pages 3
//	serpent run --config serpent.yaml
//	serpent results --output sqlite --output-path results.db --term cats
package main

func main() {
	Execute()
}
