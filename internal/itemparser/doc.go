// Package itemparser is the reference implementation of the external
// parse_item(path) -> (Metadata, mtime_ns) collaborator the sync engine
// consumes. It reads a ticket or plan Markdown file, splits YAML
// frontmatter from body, and produces the typed store.Metadata the rest
// of the cache operates on. Hosts embedding janus are free to supply
// their own ParseItemFunc instead.
package itemparser
