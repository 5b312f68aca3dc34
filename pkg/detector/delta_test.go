package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractDelta(t *testing.T) {
	tests := []struct {
		name string
		prev string
		next string
		want string
	}{
		{
			name: "empty previous emits everything",
			prev: "",
			next: "hello\nworld",
			want: "hello\nworld",
		},
		{
			name: "appended line",
			prev: "hello",
			next: "hello\nworld",
			want: "world",
		},
		{
			name: "appended multiple lines",
			prev: "a\nb",
			next: "a\nb\nc\nd",
			want: "c\nd",
		},
		{
			name: "streaming suffix on last line",
			prev: "build\nprogress 10%",
			next: "build\nprogress 10% 20%",
			want: " 20%",
		},
		{
			name: "last line rewritten in place",
			prev: "build\nprogress [##    ]",
			next: "build\nprogress [####  ]",
			want: "progress [####  ]",
		},
		{
			name: "screen clear on large shrink",
			prev: "a\nb\nc\nd\ne\nf",
			next: "fresh\nscreen",
			want: "fresh\nscreen",
		},
		{
			name: "divergence in the middle",
			prev: "a\nb\nc",
			next: "a\nx\ny",
			want: "x\ny",
		},
		{
			name: "shrunk but above clear threshold falls back to last line",
			prev: "a\nb\nc\nd",
			next: "a\nb\nc",
			want: "c",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractDelta(tt.next, tt.prev))
		})
	}
}

func TestStripANSI(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"color codes", "\x1b[31mred\x1b[0m plain", "red plain"},
		{"cursor movement", "\x1b[2Jcleared\x1b[1;1H", "cleared"},
		{"osc title bel", "\x1b]0;window title\x07text", "text"},
		{"osc title st", "\x1b]8;;http://x\x1b\\link", "link"},
		{"plain passthrough", "no escapes here", "no escapes here"},
		{"private mode", "\x1b[?25lhidden cursor\x1b[?25h", "hidden cursor"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripANSI(tt.in))
		})
	}
}

// Stripping and classification commute: classify(strip(x)) == classify(x).
func TestClassifyStripComposition(t *testing.T) {
	samples := []string{
		"\x1b[31merror: build broke\x1b[0m",
		"\x1b[1mContinue? (y/n)\x1b[0m",
		"\x1b[32mbuild completed\x1b[0m",
		"\x1b[2mjust some output\x1b[0m",
	}
	for _, s := range samples {
		assert.Equal(t, Classify(s), Classify(StripANSI(s)), "sample %q", s)
	}
}
