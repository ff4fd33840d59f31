// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"
)

// =============================================================================
// STREAM READER
// =============================================================================

// maxLineSize bounds a single NDJSON line.
const maxLineSize = 1 << 20

// StreamReader decodes the NDJSON lines of a streaming chat response.
type StreamReader struct {
	scanner *bufio.Scanner
	model   string
	done    bool
}

// NewStreamReader creates a new stream reader from an io.Reader.
func NewStreamReader(r io.Reader) *StreamReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &StreamReader{scanner: sc}
}

// Next returns the next chunk. It returns io.EOF after the final chunk, or
// an *ClientError of type ErrTypeInvalidResponse when the body ends before
// Ollama reported completion or carries an undecodable line. An error line
// sent by the server mid-stream is returned as an ErrTypeAPI error.
func (s *StreamReader) Next(ctx context.Context) (StreamChunk, error) {
	for {
		if err := ctx.Err(); err != nil {
			return StreamChunk{}, err
		}
		if s.done {
			return StreamChunk{}, io.EOF
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return StreamChunk{}, ctxErr
				}
				return StreamChunk{}, &ClientError{Type: ErrTypeInvalidResponse, Message: "stream read failed", Cause: err}
			}
			return StreamChunk{}, &ClientError{Type: ErrTypeInvalidResponse, Message: "stream ended before completion"}
		}

		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var resp chatLine
		if err := json.Unmarshal(line, &resp); err != nil {
			return StreamChunk{}, &ClientError{Type: ErrTypeInvalidResponse, Message: "malformed stream line", Cause: err}
		}
		if resp.Error != "" {
			return StreamChunk{}, &ClientError{Type: ErrTypeAPI, Message: resp.Error}
		}
		if resp.Model != "" {
			s.model = resp.Model
		}

		chunk := StreamChunk{
			Content:    resp.Message.Content,
			Model:      s.model,
			Done:       resp.Done,
			DoneReason: resp.DoneReason,
		}
		if resp.Done {
			s.done = true
			chunk.TotalDuration = time.Duration(resp.TotalDuration)
			chunk.LoadDuration = time.Duration(resp.LoadDuration)
			chunk.PromptEvalDuration = time.Duration(resp.PromptEvalDuration)
			chunk.EvalDuration = time.Duration(resp.EvalDuration)
			chunk.PromptTokens = resp.PromptEvalCount
			chunk.CompletionTokens = resp.EvalCount
		}
		return chunk, nil
	}
}
