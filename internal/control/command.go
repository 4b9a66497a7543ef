package control

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedCommand is returned by ParseCommand for lines that are not
// "x,y" or "x,y,z" integers.
var ErrMalformedCommand = errors.New("malformed command")

// Command is the quantized actuation command sent to the controller.
type Command struct {
	X int `json:"x"`
	Y int `json:"y"`
	// Z is the depth command (-1, 0, +1); only serialized when HasDepth.
	Z        int  `json:"z"`
	HasDepth bool `json:"has_depth"`
}

// String formats the command as it appears on the wire, without the newline.
func (c Command) String() string {
	if c.HasDepth {
		return fmt.Sprintf("%d,%d,%d", c.X, c.Y, c.Z)
	}
	return fmt.Sprintf("%d,%d", c.X, c.Y)
}

// Line is the newline-terminated wire form.
func (c Command) Line() []byte {
	return []byte(c.String() + "\n")
}

// IsStop reports whether every axis is zero.
func (c Command) IsStop() bool {
	return c.X == 0 && c.Y == 0 && c.Z == 0
}

// ParseCommand decodes one wire line. Surrounding whitespace and the trailing
// newline are ignored.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	parts := strings.Split(line, ",")
	if len(parts) != 2 && len(parts) != 3 {
		return Command{}, fmt.Errorf("%w: %q has %d fields", ErrMalformedCommand, line, len(parts))
	}

	vals := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Command{}, fmt.Errorf("%w: field %d of %q: %v", ErrMalformedCommand, i, line, err)
		}
		vals[i] = v
	}

	cmd := Command{X: vals[0], Y: vals[1]}
	if len(vals) == 3 {
		if vals[2] < DepthRetreat || vals[2] > DepthApproach {
			return Command{}, fmt.Errorf("%w: depth %d out of range", ErrMalformedCommand, vals[2])
		}
		cmd.Z = vals[2]
		cmd.HasDepth = true
	}
	return cmd, nil
}
