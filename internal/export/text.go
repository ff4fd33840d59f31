// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
)

// TextExporter writes a plain transcript.
type TextExporter struct {
	options *Options
}

// NewTextExporter creates a new plain-text exporter.
func NewTextExporter(opts *Options) *TextExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &TextExporter{options: opts}
}

// Export renders "Role: content" blocks separated by blank lines.
func (e *TextExporter) Export(conv *Conversation) ([]byte, error) {
	if err := validate(conv); err != nil {
		return nil, err
	}

	var sb strings.Builder
	if e.options.IncludeMetadata {
		fmt.Fprintf(&sb, "Conversation: %s\n", conv.Name)
		fmt.Fprintf(&sb, "Messages: %d\n\n", len(conv.Messages))
	}
	for i, msg := range conv.Messages {
		if i > 0 {
			sb.WriteString("\n")
		}
		if e.options.IncludeTimestamps {
			fmt.Fprintf(&sb, "[%s] ", formatTimestamp(msg.Timestamp))
		}
		fmt.Fprintf(&sb, "%s: %s\n", msg.Role.DisplayName(), strings.TrimSpace(msg.Content))
	}
	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for text.
func (e *TextExporter) FileExtension() string {
	return ".txt"
}

// MimeType returns the MIME type for text.
func (e *TextExporter) MimeType() string {
	return "text/plain"
}
