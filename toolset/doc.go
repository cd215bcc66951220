// Package toolset exposes geoexec operations as discoverable tools.
//
// Three tools live in the "geo" namespace:
//
//   - geo:analyze asks the model for code that performs a task and runs it
//   - geo:extract_code pulls fenced Python out of a model response
//   - geo:run_code runs supplied code against an optional FeatureCollection
//
// Tools are registered in a [github.com/jonwraymond/tooldiscovery/index]
// index with BM25 search, documented in a tooldoc store, and dispatched by
// [Toolset.Call]. [Toolset.Register] mounts the same tools on an MCP server.
package toolset
