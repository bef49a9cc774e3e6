// Package report renders proxy lists, probe results, session status and
// journal history.
//
// This package contains writers for different output formats:
//   - SimpleWriter: Plain text for chat replies and terminal display
//   - MarkdownWriter: Markdown for chat clients that render it and for docs
//   - JSONWriter: Structured JSON output for tool integration
//
// Design decision: Rendering is kept out of the session and command
// packages so the same reply can be produced in any format without touching
// the failover logic.
package report
