package vcgencmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrMalformedOutput = errors.New("malformed output")

// Result is a single typed payload with its topic.
type Result struct {
	Payload any
	Topic   string
}

// Throttled is the decoded get_throttled bitfield.
type Throttled struct {
	UnderVoltage            bool `json:"underVoltage"`
	FrequencyCapped         bool `json:"frequencyCapped"`
	Throttled               bool `json:"throttled"`
	SoftTempLimit           bool `json:"softTempLimit"`
	UnderVoltageOccurred    bool `json:"underVoltageOccurred"`
	FrequencyCappedOccurred bool `json:"frequencyCappedOccurred"`
	ThrottledOccurred       bool `json:"throttledOccurred"`
	SoftTempLimitOccurred   bool `json:"softTempLimitOccurred"`
}

// Results returns one result per flag, in bit order.
func (t Throttled) Results() []Result {
	return []Result{
		{Payload: t.UnderVoltage, Topic: "under_voltage"},
		{Payload: t.FrequencyCapped, Topic: "frequency_capped"},
		{Payload: t.Throttled, Topic: "throttled"},
		{Payload: t.SoftTempLimit, Topic: "soft_temp_limit"},
		{Payload: t.UnderVoltageOccurred, Topic: "under_voltage_occurred"},
		{Payload: t.FrequencyCappedOccurred, Topic: "frequency_capped_occurred"},
		{Payload: t.ThrottledOccurred, Topic: "throttled_occurred"},
		{Payload: t.SoftTempLimitOccurred, Topic: "soft_temp_limit_occurred"},
	}
}

// DecodeThrottled decodes get_throttled output like "throttled=0x50005".
func DecodeThrottled(text string) (Throttled, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(text), "throttled=")
	hex = strings.TrimPrefix(strings.TrimPrefix(hex, "0x"), "0X")
	n, err := strconv.ParseUint(hex, 16, 64)
	if err != nil {
		return Throttled{}, fmt.Errorf("%w: get_throttled %q: %w", ErrMalformedOutput, text, err)
	}
	bit := func(i uint) bool {
		return (n>>i)&1 == 1
	}
	return Throttled{
		UnderVoltage:            bit(0),
		FrequencyCapped:         bit(1),
		Throttled:               bit(2),
		SoftTempLimit:           bit(3),
		UnderVoltageOccurred:    bit(16),
		FrequencyCappedOccurred: bit(17),
		ThrottledOccurred:       bit(18),
		SoftTempLimitOccurred:   bit(19),
	}, nil
}

// Parse converts trimmed vcgencmd output into results. split is honored by
// get_throttled only.
func Parse(cmd Command, text string, split bool) ([]Result, error) {
	s, ok := specs[cmd]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
	return s.parse(cmd, text, split)
}

func single(cmd Command, payload any) []Result {
	return []Result{{Payload: payload, Topic: string(cmd)}}
}

// value returns the part after the first '='.
func value(cmd Command, text string) (string, error) {
	_, v, ok := strings.Cut(text, "=")
	if !ok {
		return "", fmt.Errorf("%w: %s: no value in %q", ErrMalformedOutput, cmd, text)
	}
	return v, nil
}

func number(cmd Command, text, unit string) ([]Result, error) {
	v, err := value(cmd, text)
	if err != nil {
		return nil, err
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(v, unit), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedOutput, cmd, err)
	}
	return single(cmd, f), nil
}

func parseVersion(cmd Command, text string, _ bool) ([]Result, error) {
	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], "\r")
	}
	return single(cmd, lines), nil
}

func parseDisplayPower(cmd Command, text string, _ bool) ([]Result, error) {
	v, err := value(cmd, text)
	if err != nil {
		return nil, err
	}
	state := "off"
	if v == "1" {
		state = "on"
	}
	return single(cmd, state), nil
}

func parseCodec(cmd Command, text string, _ bool) ([]Result, error) {
	v, err := value(cmd, text)
	if err != nil {
		return nil, err
	}
	return single(cmd, v == "enabled"), nil
}

func parseClock(cmd Command, text string, _ bool) ([]Result, error) {
	// frequency(48)=1500398464
	return number(cmd, text, "")
}

func parseVolts(cmd Command, text string, _ bool) ([]Result, error) {
	return number(cmd, text, "V")
}

func parseTemp(cmd Command, text string, _ bool) ([]Result, error) {
	return number(cmd, text, "'C")
}

func parseMem(cmd Command, text string, _ bool) ([]Result, error) {
	v, err := value(cmd, text)
	if err != nil {
		return nil, err
	}
	// TODO: newer firmware may report gpu memory in G for large splits
	n, err := strconv.Atoi(strings.TrimSuffix(v, "M"))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedOutput, cmd, err)
	}
	return single(cmd, n), nil
}

func parseRaw(cmd Command, text string, _ bool) ([]Result, error) {
	return single(cmd, text), nil
}

func parseThrottled(cmd Command, text string, split bool) ([]Result, error) {
	t, err := DecodeThrottled(text)
	if err != nil {
		return nil, err
	}
	if split {
		return t.Results(), nil
	}
	return single(cmd, t), nil
}
