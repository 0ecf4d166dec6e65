package model

import (
	"context"
	"io"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	"github.com/CZERTAINLY/vcgencmd-node/internal/log"
	"github.com/CZERTAINLY/vcgencmd-node/internal/vcgencmd"

	_ "embed"
)

const (
	LogStderr  = log.Stderr
	LogStdout  = log.Stdout
	LogDiscard = log.Discard
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource, cue.Filename("config.cue"))
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}
}

type Config struct {
	Version int      `json:"version" yaml:"version"` // fixed 0 for now
	Node    Node     `json:"node" yaml:"node"`
	Service Service  `json:"service" yaml:"service"`
	Tracing *Tracing `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// Node holds the vcgencmd node settings. Only the parameter used by the
// configured command matters.
type Node struct {
	Command        string `json:"command" yaml:"command"`
	Binary         string `json:"binary" yaml:"binary"`
	Codec          string `json:"codec" yaml:"codec"`
	Clock          string `json:"clock" yaml:"clock"`
	Voltage        string `json:"voltage" yaml:"voltage"`
	Memory         string `json:"memory" yaml:"memory"`
	VideoOutput    string `json:"video_output" yaml:"video_output"` // empty => taken from trigger payload
	SplitThrottled bool   `json:"split_throttled" yaml:"split_throttled"`
}

func (n Node) Params() vcgencmd.Params {
	return vcgencmd.Params{
		Binary:         n.Binary,
		Command:        vcgencmd.Command(n.Command),
		Codec:          n.Codec,
		Clock:          n.Clock,
		Voltage:        n.Voltage,
		Memory:         n.Memory,
		VideoOutput:    n.VideoOutput,
		SplitThrottled: n.SplitThrottled,
	}
}

type Service struct {
	Verbose  bool      `json:"verbose" yaml:"verbose"`
	Log      string    `json:"log" yaml:"log"` // "stderr"|"stdout"|"discard"|path
	NATS     *NATS     `json:"nats,omitempty" yaml:"nats,omitempty"`
	Schedule *Schedule `json:"schedule,omitempty" yaml:"schedule,omitempty"`
}

// NATS subjects the node is connected to in serve mode.
type NATS struct {
	URL     string `json:"url" yaml:"url"`
	Name    string `json:"name" yaml:"name"`
	Trigger string `json:"trigger" yaml:"trigger"`
	Output  string `json:"output" yaml:"output"`
	Status  string `json:"status" yaml:"status"` // empty => status not published
}

// Schedule triggers the node periodically. Exactly one of Cron or Duration
// must be set.
type Schedule struct {
	Cron     string `json:"cron,omitempty" yaml:"cron,omitempty"`
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"` // ISO 8601, e.g. PT30S
	Payload  any    `json:"payload,omitempty" yaml:"payload,omitempty"`
}

type Tracing struct {
	Endpoint    string  `json:"endpoint" yaml:"endpoint"` // host:port of an OTLP/HTTP collector
	ServiceName string  `json:"service_name" yaml:"service_name"`
	Environment string  `json:"environment" yaml:"environment"`
	SampleRatio float64 `json:"sample_ratio" yaml:"sample_ratio"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig(_ context.Context) Config {
	return Config{
		Version: 0,
		Node: Node{
			Command: string(vcgencmd.MeasureTemp),
			Binary:  vcgencmd.DefaultBinary,
			Codec:   "H264",
			Clock:   "arm",
			Voltage: "core",
			Memory:  "arm",
		},
		Service: Service{
			Log: LogStderr,
		},
	}
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}

	return out, nil
}
