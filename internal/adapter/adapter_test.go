package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeEOL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no newline untouched", "ls -la", "ls -la"},
		{"bare LF becomes CR", "echo hi\n", "echo hi\r"},
		{"CRLF collapses to CR", "echo hi\r\n", "echo hi\r"},
		{"bare CR untouched", "echo hi\r", "echo hi\r"},
		{"mixed endings", "a\nb\r\nc\r", "a\rb\rc\r"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(normalizeEOL([]byte(tt.in))))
		})
	}
}

func TestMuxAttachArgs(t *testing.T) {
	mux := NewMux("tmux")

	bin, args := mux.AttachArgs("term-abc123")
	assert.Equal(t, "tmux", bin)
	// The "=" prefix pins exact-name matching.
	assert.Equal(t, []string{"attach-session", "-t", "=term-abc123"}, args)
}

func TestMuxDefaultsBinary(t *testing.T) {
	mux := NewMux("")
	bin, _ := mux.AttachArgs("x")
	assert.Equal(t, "tmux", bin)
}

func TestStartEphemeralRejectsBadCommand(t *testing.T) {
	_, err := StartEphemeral(EphemeralOptions{Command: "echo 'unterminated"})
	assert.Error(t, err)
}
