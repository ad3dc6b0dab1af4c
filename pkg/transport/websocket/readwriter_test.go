package websocket

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitLines(t *testing.T) {
	tests := []struct {
		msg   string
		lines []string
	}{
		{"ok", []string{"ok"}},
		{"ok\n", []string{"ok"}},
		{"ok\r\n", []string{"ok"}},
		{"[MSG:Reset to continue]\r\nok\r\n", []string{"[MSG:Reset to continue]", "ok"}},
		{"\n", []string{""}},
	}
	for _, test := range tests {
		require.Equal(t, test.lines, splitLines(test.msg), test.msg)
	}
}
