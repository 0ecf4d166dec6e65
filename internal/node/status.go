package node

import (
	"context"
	"strconv"
)

// Status is the badge a node shows in the flow editor. The zero value
// clears it.
type Status struct {
	Fill  string `json:"fill,omitempty"`
	Shape string `json:"shape,omitempty"`
	Text  string `json:"text,omitempty"`
}

var (
	StatusClear       = Status{}
	StatusUnsupported = Status{Fill: "red", Shape: "ring", Text: "unsupported platform"}
)

func StatusRunning(pid int) Status {
	return Status{Fill: "blue", Shape: "dot", Text: "pid:" + strconv.Itoa(pid)}
}

type StatusFunc func(ctx context.Context, s Status)
