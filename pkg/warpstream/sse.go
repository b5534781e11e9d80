package warpstream

import (
	"bufio"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/cecil-the-coder/warp-token-gateway/pkg/warptypes"
)

const doneSentinel = "[DONE]"

// StreamReadError marks a scanner-level failure reading the SSE body
// (a transport error mid-stream, or a line exceeding the scan buffer).
// It is distinct from a single undecodable chunk, which decodeSSE
// already tolerates by skipping it and continuing.
type StreamReadError struct {
	Err error
}

func (e *StreamReadError) Error() string {
	return fmt.Sprintf("warpstream: reading SSE stream: %s", e.Err)
}

func (e *StreamReadError) Unwrap() error {
	return e.Err
}

var hexPattern = regexp.MustCompile(`^[0-9a-fA-F]+$`)

// decodeFrame turns one SSE data chunk into wire bytes, trying hex
// first, then URL-safe base64 with padding restored, then standard
// base64 (spec §4.4 step 3).
func decodeFrame(chunk string) ([]byte, error) {
	trimmed := strings.TrimSpace(chunk)

	if hexPattern.MatchString(trimmed) && len(trimmed)%2 == 0 {
		if b, err := hex.DecodeString(trimmed); err == nil {
			return b, nil
		}
	}

	if b, err := base64.RawURLEncoding.DecodeString(trimmed); err == nil {
		return b, nil
	}
	if padded := restorePadding(trimmed); padded != trimmed {
		if b, err := base64.URLEncoding.DecodeString(padded); err == nil {
			return b, nil
		}
	}

	if b, err := base64.StdEncoding.DecodeString(trimmed); err == nil {
		return b, nil
	}

	return nil, fmt.Errorf("warpstream: chunk matched neither hex nor base64 framing")
}

func restorePadding(s string) string {
	if rem := len(s) % 4; rem != 0 {
		return s + strings.Repeat("=", 4-rem)
	}
	return s
}

// decodeSSE drives the line-oriented state machine of spec §4.4 steps
// 1-6 over the HTTP response body. resetInactivity, if non-nil, is
// called after each successfully scanned line, letting the caller
// implement a read-inactivity timeout instead of a total-duration one.
func decodeSSE(body io.Reader, codec codecDecoder, logger *slog.Logger, resetInactivity func()) (*warptypes.EventStreamResult, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	result := &warptypes.EventStreamResult{}
	var textBuilder strings.Builder
	var currentChunk strings.Builder

	flush := func() {
		if currentChunk.Len() == 0 {
			return
		}
		chunk := currentChunk.String()
		currentChunk.Reset()

		raw, err := decodeFrame(chunk)
		if err != nil {
			logger.Debug("warpstream: skipping undecodable SSE chunk", "error", err)
			return
		}

		decoded, err := codec.Decode(ResponseEventMessageType, raw)
		if err != nil {
			logger.Debug("warpstream: skipping unparseable ResponseEvent", "error", err)
			return
		}

		event := routeEvent(decoded, result, &textBuilder)
		result.Events = append(result.Events, event)
	}

	for scanner.Scan() {
		line := scanner.Text()
		if resetInactivity != nil {
			resetInactivity()
		}

		switch {
		case strings.HasPrefix(line, "data:"):
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				continue
			}
			if payload == doneSentinel {
				flush()
				result.Text = textBuilder.String()
				return result, nil
			}
			currentChunk.WriteString(payload)
		case strings.TrimSpace(line) == "":
			flush()
		default:
			// Non-data, non-blank lines (SSE comments, event: lines) are
			// not part of this protocol's framing; ignore them.
		}
	}

	scanErr := scanner.Err()

	flush()
	result.Text = textBuilder.String()

	if scanErr != nil {
		// Return whatever was decoded before the stream broke,
		// alongside a typed error the controller classifies into
		// CategoryProtocolError (spec §7 category 5: "returned to
		// caller with partial decoded events").
		return result, &StreamReadError{Err: scanErr}
	}

	return result, nil
}

// codecDecoder is the narrow slice of protobridge.Codec the SSE state
// machine needs, named locally so this file doesn't need to import the
// protobridge package just for a type name used once.
type codecDecoder interface {
	Decode(messageType string, data []byte) (map[string]any, error)
}
