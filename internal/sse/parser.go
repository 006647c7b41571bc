// Package sse reassembles server-sent events from an arbitrarily
// fragmented byte stream. The parser is a plain state machine with no
// goroutines or channels: callers feed it chunks exactly as they arrive
// off the wire and collect the events completed by each chunk, so the
// emitted sequence is independent of how the network fragmented the
// stream.
package sse

import (
	"bytes"
	"encoding/json"
	"strings"

	"geminiclient-go/apierr"
	"geminiclient-go/internal/constants"
)

// doneSentinel is the terminator payload the upstream sends as the final
// event of a stream.
const doneSentinel = "[DONE]"

// Event is one decoded server-sent event. Done is set instead of Data
// when the payload was the terminator sentinel.
type Event struct {
	Data map[string]interface{}
	Type string
	ID   string
	Done bool
}

// Parser accumulates bytes until complete events can be emitted. The
// zero value is ready to use; a fresh Parser must be used for each
// stream attempt since buffered state is meaningless across connections.
type Parser struct {
	buf []byte

	dataLines []string
	eventType string
	id        string
	sawData   bool

	// overflowed marks the current event as oversized; its remaining
	// lines are discarded until the next blank-line boundary.
	overflowed bool
}

func NewParser() *Parser {
	return &Parser{}
}

// Feed appends a chunk and returns every event completed by it, in wire
// order, along with warnings for payloads that were skipped. Bytes after
// the last complete line stay buffered for the next call.
func (p *Parser) Feed(chunk []byte) ([]Event, []*apierr.Error) {
	p.buf = append(p.buf, chunk...)

	var events []Event
	var warnings []*apierr.Error
	for {
		idx := bytes.IndexByte(p.buf, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimSuffix(p.buf[:idx], []byte("\r"))
		ev, warn := p.consumeLine(line)
		p.buf = p.buf[idx+1:]
		if warn != nil {
			warnings = append(warnings, warn)
		}
		if ev != nil {
			events = append(events, *ev)
		}
	}

	if warn := p.guardOverflow(); warn != nil {
		warnings = append(warnings, warn)
	}
	if p.overflowed {
		// The oversized event's bytes are discarded as they arrive.
		p.buf = p.buf[:0]
	}
	return events, warnings
}

// Finalize flushes a trailing event that ended at EOF without a blank
// line. The upstream usually closes with a terminator, but a tolerant
// parse keeps truncated tails from losing the final payload.
func (p *Parser) Finalize() ([]Event, []*apierr.Error) {
	var events []Event
	var warnings []*apierr.Error

	if len(p.buf) > 0 {
		line := bytes.TrimSuffix(p.buf, []byte("\r"))
		p.buf = nil
		if len(line) > 0 {
			if _, warn := p.consumeLine(line); warn != nil {
				warnings = append(warnings, warn)
			}
		}
	}
	ev, warn := p.dispatch()
	if warn != nil {
		warnings = append(warnings, warn)
	}
	if ev != nil {
		events = append(events, *ev)
	}
	return events, warnings
}

// consumeLine applies one complete line to the event under assembly. A
// blank line closes the event.
func (p *Parser) consumeLine(line []byte) (*Event, *apierr.Error) {
	if len(line) == 0 {
		return p.dispatch()
	}
	if p.overflowed {
		return nil, nil
	}
	if line[0] == ':' {
		return nil, nil
	}

	name, value := splitField(line)
	switch name {
	case "data":
		p.dataLines = append(p.dataLines, value)
		p.sawData = true
	case "event":
		p.eventType = value
	case "id":
		p.id = value
	}
	return nil, nil
}

// dispatch closes the event under assembly and decodes its payload.
func (p *Parser) dispatch() (*Event, *apierr.Error) {
	dataLines, eventType, id := p.dataLines, p.eventType, p.id
	sawData, overflowed := p.sawData, p.overflowed
	p.dataLines, p.eventType, p.id = nil, "", ""
	p.sawData, p.overflowed = false, false

	if overflowed || !sawData {
		return nil, nil
	}

	data := strings.Join(dataLines, "\n")
	if data == doneSentinel {
		return &Event{Done: true, Type: eventType, ID: id}, nil
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(data), &decoded); err != nil {
		return nil, apierr.Wrap(apierr.KindParse, "skipping undecodable event payload", err).
			WithContext("payload_bytes", len(data))
	}
	return &Event{Data: decoded, Type: eventType, ID: id}, nil
}

// guardOverflow caps how much a single event may buffer. The oversized
// event is dropped with a warning; parsing resumes at the next blank
// line.
func (p *Parser) guardOverflow() *apierr.Error {
	if p.overflowed {
		return nil
	}
	pending := len(p.buf)
	for _, d := range p.dataLines {
		pending += len(d)
	}
	if pending <= constants.SSEMaxBufferedEvent {
		return nil
	}
	p.overflowed = true
	p.dataLines = nil
	p.sawData = false
	return apierr.New(apierr.KindResource, "dropping event larger than buffer limit").
		WithContext("limit_bytes", constants.SSEMaxBufferedEvent)
}

// splitField separates "field: value", stripping the single optional
// space after the colon. A line without a colon is a bare field name.
func splitField(line []byte) (string, string) {
	idx := bytes.IndexByte(line, ':')
	if idx < 0 {
		return string(line), ""
	}
	value := line[idx+1:]
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	return string(line[:idx]), string(value)
}
