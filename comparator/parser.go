package comparator

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/aura-net/mcast-acceptor/types"
)

const (
	maxLineSize = 1024 * 1024
	// maxRetainedParseErrors bounds how many malformed lines are kept verbatim.
	maxRetainedParseErrors = 20
	// tooLongPrefix is how much of an oversize line is kept in its ParseError.
	tooLongPrefix = 64
)

// ParsedLog is the structured form of one transmit or receive log.
type ParsedLog struct {
	Events  []types.LogEvent
	Skipped int
	Errors  []*types.ParseError
}

func (p *ParsedLog) skip(err *types.ParseError) {
	p.Skipped++
	if len(p.Errors) < maxRetainedParseErrors {
		p.Errors = append(p.Errors, err)
	}
}

// ParseLog reads log lines of the form `timestamp,seq,size[,payload]` or the
// short form `timestamp,size`. Short-form lines get their 1-based position
// among valid events as sequence number. Blank lines and lines starting with
// '#' are ignored. Malformed lines, including lines longer than 1 MiB, are
// skipped and counted; only read errors are returned.
func ParseLog(r io.Reader) (*ParsedLog, error) {
	parsed := &ParsedLog{Events: make([]types.LogEvent, 0)}
	br := bufio.NewReaderSize(r, maxLineSize)

	lineNum := 0
	for {
		line, tooLong, err := readLine(br)
		if err != nil && err != io.EOF {
			return parsed, fmt.Errorf("failed to read log at line %d: %w", lineNum+1, err)
		}
		if len(line) > 0 || tooLong {
			lineNum++
			text := strings.TrimSpace(string(line))
			switch {
			case tooLong:
				parsed.skip(&types.ParseError{Line: lineNum, Text: text, Reason: "line too long"})
			case text == "" || strings.HasPrefix(text, "#"):
			default:
				ev, perr := ParseLine(text, lineNum, uint64(len(parsed.Events)+1))
				if perr != nil {
					parsed.skip(perr)
				} else {
					parsed.Events = append(parsed.Events, ev)
				}
			}
		}
		if err == io.EOF {
			return parsed, nil
		}
	}
}

// readLine returns the next line including its terminator. A line that does
// not fit the reader's buffer is consumed up to its newline and reported with
// tooLong set; line then holds only its first tooLongPrefix bytes.
func readLine(br *bufio.Reader) (line []byte, tooLong bool, err error) {
	line, err = br.ReadSlice('\n')
	if err != bufio.ErrBufferFull {
		return line, false, err
	}
	// ReadSlice's buffer is reused by the next read.
	line = bytes.Clone(line[:min(len(line), tooLongPrefix)])
	for err == bufio.ErrBufferFull {
		_, err = br.ReadSlice('\n')
	}
	return line, true, err
}

// ParseLogFile opens and parses the log at path.
func ParseLogFile(path string) (*ParsedLog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseLog(f)
}

// ParseLine parses a single trimmed, non-comment line. implicitSeq is used
// when the line carries no sequence number.
func ParseLine(text string, lineNum int, implicitSeq uint64) (types.LogEvent, *types.ParseError) {
	fields := strings.Split(text, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	fail := func(reason string) (types.LogEvent, *types.ParseError) {
		return types.LogEvent{}, &types.ParseError{Line: lineNum, Text: text, Reason: reason}
	}

	ev := types.LogEvent{Line: lineNum}
	var sizeField string
	switch len(fields) {
	case 2:
		ev.Seq = implicitSeq
		sizeField = fields[1]
	case 3, 4:
		seq, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return fail("invalid sequence number")
		}
		ev.Seq = seq
		sizeField = fields[2]
		if len(fields) == 4 {
			ev.Payload = fields[3]
		}
	default:
		return fail(fmt.Sprintf("expected 2 to 4 fields, got %d", len(fields)))
	}

	ts, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return fail("invalid timestamp")
	}
	ev.Timestamp = ts

	size, err := strconv.Atoi(sizeField)
	if err != nil || size < 0 {
		return fail("invalid size")
	}
	ev.Size = size

	return ev, nil
}
