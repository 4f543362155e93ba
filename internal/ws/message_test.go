package ws

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/shared-terminal/backend/internal/model"
)

func TestMessageRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("input messages preserve data integrity", prop.ForAll(
		func(terminalID, data string) bool {
			msg := Message{
				Type:       MessageTypeInput,
				TerminalID: terminalID,
				Data:       data,
			}

			raw, err := json.Marshal(msg)
			if err != nil {
				return false
			}

			var parsed Message
			if err := json.Unmarshal(raw, &parsed); err != nil {
				return false
			}
			return parsed.Type == MessageTypeInput &&
				parsed.TerminalID == terminalID &&
				parsed.Data == data
		},
		gen.Identifier(),
		gen.AnyString(),
	))

	properties.Property("output messages preserve offset and data", prop.ForAll(
		func(data string, offset uint64) bool {
			msg := Message{
				Type:   MessageTypeOutput,
				Data:   data,
				Offset: offset,
			}

			raw, err := json.Marshal(msg)
			if err != nil {
				return false
			}

			var parsed Message
			if err := json.Unmarshal(raw, &parsed); err != nil {
				return false
			}
			return parsed.Data == data && parsed.Offset == offset
		},
		gen.AnyString(),
		gen.UInt64(),
	))

	properties.TestingRun(t)
}

func TestANSISequencesSurviveTheWire(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	ansiSequenceGen := gen.OneConstOf(
		"\x1b[31m",       // Red text
		"\x1b[0m",        // Reset
		"\x1b[1m",        // Bold
		"\x1b[H",         // Cursor home
		"\x1b[2J",        // Clear screen
		"\x1b[K",         // Clear line
		"\x1b[1;1H",      // Move cursor
		"\x1b[?25l",      // Hide cursor
		"\x1b[38;5;196m", // 256-color red
	)

	properties.Property("escape sequences pass through output messages untouched", prop.ForAll(
		func(prefix, ansi, suffix string) bool {
			data := prefix + ansi + suffix

			raw, err := json.Marshal(Message{Type: MessageTypeOutput, Data: data})
			if err != nil {
				return false
			}

			var parsed Message
			if err := json.Unmarshal(raw, &parsed); err != nil {
				return false
			}
			return parsed.Data == data
		},
		gen.AnyString(),
		ansiSequenceGen,
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

func TestSpawnMessageCarriesConfig(t *testing.T) {
	msg := Message{
		Type:      MessageTypeSpawn,
		RequestID: "req-42",
		Config: &model.SpawnConfig{
			Kind:    model.KindPersistent,
			Type:    "claude-code",
			Workdir: "/home/dev/project",
		},
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}

	var parsed Message
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatal(err)
	}

	if parsed.RequestID != "req-42" {
		t.Fatalf("requestId = %q", parsed.RequestID)
	}
	if parsed.Config == nil || parsed.Config.Kind != model.KindPersistent || parsed.Config.Type != "claude-code" {
		t.Fatalf("config not preserved: %+v", parsed.Config)
	}
}
