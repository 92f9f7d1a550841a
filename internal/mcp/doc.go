// Package mcp exposes sky's synthesis tools over the Model Context Protocol
// using mcp-go (github.com/mark3labs/mcp-go).
//
// Every tool returns a single JSON envelope as text content:
//
//	{"ok": bool, "data": ..., "error": {"type", "message", "details"} | null,
//	 "meta": {"tool", "version", "warnings"}, "provenance": {...}}
//
// Envelopes are checked against an embedded JSON schema before they are
// returned. A tool never reports failure through the protocol error channel;
// missing assets, missing keys, bad arguments and upstream failures all
// become ok=false envelopes with one of a fixed set of error types.
//
// # Tools
//
//   - capabilities, self_check: assets, keys and versions
//   - search_similar_by_composition, search_similar_by_structure_cif,
//     search_similar_by_structure_path: nearest neighbours in the embedding
//     tables
//   - read_cif, read_cif_path: structure metadata
//   - get_material_properties, get_synthesis_recipes: Materials Project and
//     the local recipe dataset
//   - analyze_synthesis_parameters: regex extraction of synthesis conditions
//   - recursive_synthesis_search: analogue search over similarity neighbours
//   - discover_synthesis_report: LLM-written report, optionally saved as HTML
//
// # Security
//
// Tools that take a file path only read regular files under the assets
// directory, the working directory or SKY_MCP_ALLOWED_ROOTS, and refuse
// files larger than SKY_MCP_MAX_FILE_BYTES. Symlinks are resolved before the
// root check.
//
// # Usage
//
// The server is started by an MCP client as a subprocess:
//
//	sky mcp
//
// It reads JSON-RPC requests from stdin and writes responses to stdout until
// stdin is closed. Logs go to the log file, never to stdout.
package mcp
