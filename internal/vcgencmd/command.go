package vcgencmd

import (
	"fmt"
)

// Command is a vcgencmd sub-command supported by the node.
type Command string

const (
	Version      Command = "version"
	CodecEnabled Command = "codec_enabled"
	MeasureClock Command = "measure_clock"
	MeasureVolts Command = "measure_volts"
	MeasureTemp  Command = "measure_temp"
	GetThrottled Command = "get_throttled"
	MemOOM       Command = "mem_oom"
	GetMem       Command = "get_mem"
	DisplayPower Command = "display_power"
)

// DefaultBinary is the install location of vcgencmd on Raspberry Pi OS.
const DefaultBinary = "/usr/bin/vcgencmd"

// param selects the extra command line token from the node parameters.
// An empty string with ok == true means the value comes from the trigger.
type param func(p Params) (value string, ok bool)

// parser converts the trimmed output of a sub-command into results.
type parser func(cmd Command, text string, split bool) ([]Result, error)

type spec struct {
	token     string
	paramName string
	param     param
	parse     parser
}

var order = []Command{
	Version,
	CodecEnabled,
	MeasureClock,
	MeasureVolts,
	MeasureTemp,
	GetThrottled,
	MemOOM,
	GetMem,
	DisplayPower,
}

var specs = map[Command]spec{
	Version: {
		token: "version",
		parse: parseVersion,
	},
	CodecEnabled: {
		token:     "codec_enabled",
		paramName: "codec",
		param:     func(p Params) (string, bool) { return p.Codec, true },
		parse:     parseCodec,
	},
	MeasureClock: {
		token:     "measure_clock",
		paramName: "clock",
		param:     func(p Params) (string, bool) { return p.Clock, true },
		parse:     parseClock,
	},
	MeasureVolts: {
		token:     "measure_volts",
		paramName: "voltage",
		param:     func(p Params) (string, bool) { return p.Voltage, true },
		parse:     parseVolts,
	},
	MeasureTemp: {
		token: "measure_temp",
		parse: parseTemp,
	},
	GetThrottled: {
		token: "get_throttled",
		parse: parseThrottled,
	},
	MemOOM: {
		token: "mem_oom",
		parse: parseRaw,
	},
	GetMem: {
		token:     "get_mem",
		paramName: "memory",
		param:     func(p Params) (string, bool) { return p.Memory, true },
		parse:     parseMem,
	},
	DisplayPower: {
		token:     "display_power",
		paramName: "video_output",
		param: func(p Params) (string, bool) {
			return p.VideoOutput, p.VideoOutput != ""
		},
		parse: parseDisplayPower,
	},
}

// Commands returns all supported commands in a stable order.
func Commands() []Command {
	return append([]Command(nil), order...)
}

// ParseCommand validates a command identifier.
func ParseCommand(s string) (Command, error) {
	cmd := Command(s)
	if _, ok := specs[cmd]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, s)
	}
	return cmd, nil
}

// ParamName returns the name of the configuration parameter the command
// appends to its invocation, or an empty string if there is none.
func (c Command) ParamName() string {
	return specs[c].paramName
}

func (c Command) String() string {
	return string(c)
}
