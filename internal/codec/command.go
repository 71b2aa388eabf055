package codec

import (
	"bufio"
	"encoding/json"
	"fmt"

	"github.com/hkarim/crdtstore/internal/errors"
)

// Command is the control envelope sent after a record stream's
// end-of-stream frame: either an ack or an error with a message.
type Command struct {
	Ack   bool   `json:"ack,omitempty"`
	Error string `json:"error,omitempty"`
}

func AckCommand() Command {
	return Command{Ack: true}
}

func ErrorCommand(message string) Command {
	return Command{Error: message}
}

// WriteCommand writes a JSON-encoded command followed by a null byte, per
// the fixed-delimiter command-framing rule (payload codec is pluggable,
// the null terminator is not).
func WriteCommand(w *bufio.Writer, cmd Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	if err := w.WriteByte(0); err != nil {
		return fmt.Errorf("write command delimiter: %w", err)
	}
	return w.Flush()
}

// ReadCommand reads one null-terminated command frame.
func ReadCommand(r *bufio.Reader) (Command, error) {
	data, err := r.ReadBytes(0)
	if err != nil {
		return Command{}, errors.Malformed("read command", err)
	}
	data = data[:len(data)-1] // drop the delimiter

	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, errors.Malformed("decode command", err)
	}
	return cmd, nil
}
