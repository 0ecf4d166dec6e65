package vcgencmd

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownCommand     = errors.New("unknown command")
	ErrMalformedParameter = errors.New("malformed parameter")
)

// Params are the static parameters of a node instance.
type Params struct {
	Binary         string
	Command        Command
	Codec          string
	Clock          string
	Voltage        string
	Memory         string
	VideoOutput    string
	SplitThrottled bool
}

// Invocation is a fully built vcgencmd command line.
type Invocation struct {
	Binary string
	Args   []string
}

// String returns the invocation as a single command line.
func (i Invocation) String() string {
	return strings.Join(append([]string{i.Binary}, i.Args...), " ")
}

// Build returns the invocation for the configured command. The trigger
// payload is consulted only for display_power without a configured output.
func Build(p Params, trigger any) (Invocation, error) {
	s, ok := specs[p.Command]
	if !ok {
		return Invocation{}, fmt.Errorf("%w: %q", ErrUnknownCommand, p.Command)
	}

	binary := p.Binary
	if binary == "" {
		binary = DefaultBinary
	}
	inv := Invocation{
		Binary: binary,
		Args:   []string{s.token},
	}
	if s.param == nil {
		return inv, nil
	}

	value, ok := s.param(p)
	if !ok {
		var err error
		value, err = DisplayPowerArg(trigger)
		if err != nil {
			return Invocation{}, err
		}
	}
	inv.Args = append(inv.Args, value)
	return inv, nil
}

// DisplayPowerArg normalizes a trigger payload into the display_power
// argument "1" or "0".
func DisplayPowerArg(v any) (string, error) {
	switch x := v.(type) {
	case string:
		switch x {
		case "on", "ON", "1":
			return "1", nil
		case "off", "OFF", "0":
			return "0", nil
		}
	case bool:
		if x {
			return "1", nil
		}
		return "0", nil
	case float64:
		switch x {
		case 1:
			return "1", nil
		case 0:
			return "0", nil
		}
	case int:
		switch x {
		case 1:
			return "1", nil
		case 0:
			return "0", nil
		}
	case int64:
		switch x {
		case 1:
			return "1", nil
		case 0:
			return "0", nil
		}
	}
	return "", fmt.Errorf("%w: display_power expects on/off, got %v", ErrMalformedParameter, v)
}
