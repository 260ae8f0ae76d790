package comparator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-net/mcast-acceptor/types"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    types.LogEvent
		wantErr string
	}{
		{
			name: "full form",
			line: "1700000000123,42,1400",
			want: types.LogEvent{Timestamp: 1700000000123, Seq: 42, Size: 1400, Line: 1},
		},
		{
			name: "with payload",
			line: "10, 7, 64, frame-7",
			want: types.LogEvent{Timestamp: 10, Seq: 7, Size: 64, Payload: "frame-7", Line: 1},
		},
		{
			name: "short form uses implicit sequence",
			line: "10,64",
			want: types.LogEvent{Timestamp: 10, Seq: 3, Size: 64, Line: 1},
		},
		{name: "too few fields", line: "10", wantErr: "expected 2 to 4 fields"},
		{name: "too many fields", line: "1,2,3,4,5", wantErr: "expected 2 to 4 fields"},
		{name: "bad timestamp", line: "abc,1,64", wantErr: "invalid timestamp"},
		{name: "bad sequence", line: "10,-1,64", wantErr: "invalid sequence number"},
		{name: "negative size", line: "10,1,-64", wantErr: "invalid size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, perr := ParseLine(tt.line, 1, 3)
			if tt.wantErr != "" {
				require.NotNil(t, perr)
				assert.Contains(t, perr.Error(), tt.wantErr)
				assert.Equal(t, 1, perr.Line)
				return
			}
			require.Nil(t, perr)
			assert.Equal(t, tt.want, ev)
		})
	}
}

func TestParseLog(t *testing.T) {
	content := strings.Join([]string{
		"# transmit log",
		"",
		"100,64",
		"not,a,number",
		"110,64",
		"   ",
		"120,1",
	}, "\n")

	parsed, err := ParseLog(strings.NewReader(content))
	require.NoError(t, err)

	require.Len(t, parsed.Events, 3)
	assert.Equal(t, 1, parsed.Skipped)
	require.Len(t, parsed.Errors, 1)
	assert.Equal(t, 4, parsed.Errors[0].Line)

	assert.Equal(t, []uint64{1, 2, 3}, []uint64{parsed.Events[0].Seq, parsed.Events[1].Seq, parsed.Events[2].Seq})
	assert.Equal(t, 7, parsed.Events[2].Line)
}

func TestParseLog_RetainsLimitedErrors(t *testing.T) {
	content := strings.Repeat("bad\n", maxRetainedParseErrors+5)
	parsed, err := ParseLog(strings.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, maxRetainedParseErrors+5, parsed.Skipped)
	assert.Len(t, parsed.Errors, maxRetainedParseErrors)
	assert.Empty(t, parsed.Events)
}

func TestParseLog_LineTooLong(t *testing.T) {
	oversize := strings.Repeat("x", 2*maxLineSize)
	tests := []struct {
		name     string
		content  string
		events   int
		line     int
		lastLine int
	}{
		{
			name:     "between valid lines",
			content:  "1000,1,100\n" + oversize + "\n1010,2,100\n",
			events:   2,
			line:     2,
			lastLine: 3,
		},
		{
			name:     "unterminated at end",
			content:  "1000,1,100\n1010,2,100\n" + oversize,
			events:   2,
			line:     3,
			lastLine: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := ParseLog(strings.NewReader(tt.content))
			require.NoError(t, err)
			require.Len(t, parsed.Events, tt.events)
			assert.Equal(t, 1, parsed.Skipped)
			require.Len(t, parsed.Errors, 1)
			assert.Equal(t, tt.line, parsed.Errors[0].Line)
			assert.Equal(t, "line too long", parsed.Errors[0].Reason)
			assert.Len(t, parsed.Errors[0].Text, tooLongPrefix)
			assert.Equal(t, tt.lastLine, parsed.Events[tt.events-1].Line)
		})
	}
}

func TestQuantile(t *testing.T) {
	assert.InDelta(t, 49.95, quantile([]float64{10, 20, 30, 40}, 999, 1000), 1e-9)
	assert.Equal(t, 7.0, quantile([]float64{7}, 999, 1000))
	assert.InDelta(t, 2.0, median([]float64{1, 2, 3}), 1e-9)
}

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	p := DefaultPolicy()
	p.MaxLossRate = 1.5
	require.Error(t, p.Validate())

	p = DefaultPolicy()
	p.MaxDiscrepancies = -1
	require.Error(t, p.Validate())
}
