package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// StreamingResponder buffers assistant text and flushes it to a bridge's
// reply function in bridge-size chunks, no faster than minInterval, per
// spec §4.7.1. One StreamingResponder serializes all replies for a single
// inbound message, which is how the pipeline preserves per-message reply
// ordering (spec §5 "serializing through that message's StreamingResponder").
// The minimum-interval gate is a rate.Limiter with burst 1, so the first
// send never waits and every subsequent one is paced to minInterval.
type StreamingResponder struct {
	mu           sync.Mutex
	buf          strings.Builder
	limiter      *rate.Limiter
	limit        int
	reply        ReplyFunc
	sentMessages int
}

// NewStreamingResponder builds a responder bound to one reply function,
// with the bridge's size limit and minimum send interval.
func NewStreamingResponder(reply ReplyFunc, limit int, minInterval time.Duration) *StreamingResponder {
	if limit <= 0 {
		limit = 2000
	}
	every := rate.Inf
	if minInterval > 0 {
		every = rate.Every(minInterval)
	}
	return &StreamingResponder{reply: reply, limit: limit, limiter: rate.NewLimiter(every, 1)}
}

// HasSentMessages reports whether at least one chunk has been sent,
// letting the router decide whether a fallback reply is needed when a job
// completes without emitting any text.
func (s *StreamingResponder) HasSentMessages() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sentMessages > 0
}

// AddMessageAndSend appends text to the buffer, then — respecting the
// minimum send interval — splits and sends whatever can be sent now.
func (s *StreamingResponder) AddMessageAndSend(ctx context.Context, text string) error {
	s.mu.Lock()
	s.buf.WriteString(text)
	s.mu.Unlock()
	return s.drain(ctx, false)
}

// Flush drains any remaining buffered text immediately, ignoring the
// minimum send interval. Call once the driver's message sequence ends.
func (s *StreamingResponder) Flush(ctx context.Context) error {
	return s.drain(ctx, true)
}

func (s *StreamingResponder) drain(ctx context.Context, force bool) error {
	for {
		if !force {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		s.mu.Lock()
		remaining := s.buf.String()
		if remaining == "" {
			s.mu.Unlock()
			return nil
		}

		chunk, rest := splitChunk(remaining, s.limit)
		s.buf.Reset()
		s.buf.WriteString(rest)
		s.sentMessages++
		s.mu.Unlock()

		if chunk != "" {
			if err := s.reply(ctx, chunk); err != nil {
				return err
			}
		}

		if rest == "" {
			return nil
		}
	}
}

// splitChunk returns the first chunk of text no longer than limit bytes,
// preferring a paragraph break within the last 500 chars, then a newline
// within the last 200, then a space within the last 100, else a hard cut.
// The split is code-block-aware: a chunk ending mid-fence gets the fence
// closed, and the remainder gets it reopened with the original language
// tag, per spec §4.7.1.
func splitChunk(text string, limit int) (chunk, rest string) {
	const fenceClose = "\n```\n"
	if len(text) <= limit {
		return text, ""
	}

	window := text[:limit]
	cut := bestBreak(window)
	// A cut inside a fence gets fenceClose appended, so cut again with room
	// left for it.
	if _, open := fenceStateAt(text, cut); open && limit > len(fenceClose) {
		cut = bestBreak(text[:limit-len(fenceClose)])
	}

	chunk = text[:cut]
	rest = text[cut:]

	lang, open := fenceStateAt(text, cut)
	if open {
		chunk = strings.TrimRight(chunk, "\n") + fenceClose
		rest = "```" + lang + "\n" + rest
	}
	return chunk, rest
}

func bestBreak(window string) int {
	n := len(window)

	tailStart := n - 500
	if tailStart < 0 {
		tailStart = 0
	}
	if idx := strings.LastIndex(window[tailStart:], "\n\n"); idx >= 0 {
		return tailStart + idx + 2
	}

	tailStart = n - 200
	if tailStart < 0 {
		tailStart = 0
	}
	if idx := strings.LastIndex(window[tailStart:], "\n"); idx >= 0 {
		return tailStart + idx + 1
	}

	tailStart = n - 100
	if tailStart < 0 {
		tailStart = 0
	}
	if idx := strings.LastIndex(window[tailStart:], " "); idx >= 0 {
		return tailStart + idx + 1
	}

	return n
}

// fenceStateAt reports whether position cut in text falls inside an
// unterminated fenced code block (```lang ... ```), and if so, the
// language tag of the still-open fence.
func fenceStateAt(text string, cut int) (lang string, open bool) {
	prefix := text[:cut]
	fences := strings.Split(prefix, "```")
	// An odd number of "```" occurrences (an even number of split pieces)
	// means the last fence opened was never closed.
	if len(fences)%2 != 0 {
		return "", false
	}
	// The opening fence is the last element before the (missing) closer;
	// its first line carries the language tag.
	last := fences[len(fences)-1]
	// last is everything after the opening ``` up to cut; find the
	// language tag on the opener itself, which is the segment just before
	// `last` started — re-scan from the original opening fence.
	openerIdx := strings.LastIndex(prefix[:len(prefix)-len(last)], "```")
	if openerIdx < 0 {
		return "", true
	}
	afterFence := prefix[openerIdx+3:]
	if nl := strings.IndexByte(afterFence, '\n'); nl >= 0 {
		return afterFence[:nl], true
	}
	return "", true
}
