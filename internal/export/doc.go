// Package export publishes finished history entries.
//
// The Exporter posts an entry to the configured webhook through the retrying
// apiclient. When the webhook is not configured, or fails, the entry is
// written as a Markdown file under paths.export_dir instead.
package export
