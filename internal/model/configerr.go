package model

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/CZERTAINLY/vcgencmd-node/internal/vcgencmd"

	cueerrors "cuelang.org/go/cue/errors"
)

// CueErrorDetail is a config error tied to the offending line.
type CueErrorDetail struct {
	Path    string // node.command
	Code    string // unknown_field | missing_required | invalid_value
	Message string
	Pos     CueErrorPosition
}

type CueErrorPosition struct {
	Filename string
	Line     int
	Column   int
}

func (c CueErrorDetail) String() string {
	return fmt.Sprintf("%s:%d:%d: %s", c.Pos.Filename, c.Pos.Line, c.Pos.Column, c.Message)
}

var (
	reIncomplete = regexp.MustCompile(`(?i)incomplete value`)
	reNotAllowed = regexp.MustCompile(`(?i)not allowed|unknown field`)
)

// CueErrDetails converts an error returned by LoadConfig into messages
// pointing to the offending config lines. A disjunction fails once per
// branch, only the first error at a position is kept.
func CueErrDetails(err error) []CueErrorDetail {
	if err == nil {
		return nil
	}

	seen := make(map[CueErrorPosition]struct{})
	var out []CueErrorDetail
	for _, e := range cueerrors.Errors(err) {
		pos := position(e)
		if pos.Filename != "" {
			if _, ok := seen[pos]; ok {
				continue
			}
			seen[pos] = struct{}{}
		}
		raw, _ := e.Msg()
		path := normalizePath(e.Path())
		code, msg := classify(raw, path)
		out = append(out, CueErrorDetail{
			Path:    path,
			Code:    code,
			Message: msg,
			Pos:     pos,
		})
	}
	return out
}

func classify(raw, path string) (code, msg string) {
	field := path[strings.LastIndexByte(path, '.')+1:]
	switch {
	case reNotAllowed.MatchString(raw):
		return "unknown_field", fmt.Sprintf("Field %s is not allowed", field)
	case reIncomplete.MatchString(raw):
		return "missing_required", fmt.Sprintf("Field %s is required", field)
	case path == "node.command":
		names := make([]string, 0, len(vcgencmd.Commands()))
		for _, c := range vcgencmd.Commands() {
			names = append(names, c.String())
		}
		return "invalid_value", fmt.Sprintf("Field %s has invalid value: possible values (%s)", field, strings.Join(names, ","))
	case path != "":
		return "invalid_value", fmt.Sprintf("Field %s has invalid value: %s", field, raw)
	default:
		return "invalid_value", raw
	}
}

func position(err cueerrors.Error) CueErrorPosition {
	for _, r := range cueerrors.Positions(err) {
		if r.Filename() != "" {
			return CueErrorPosition{Filename: r.Filename(), Line: r.Line(), Column: r.Column()}
		}
	}
	return CueErrorPosition{}
}

// normalizePath drops the leading #Config definition.
func normalizePath(p []string) string {
	if len(p) > 0 && strings.HasPrefix(p[0], "#") {
		p = p[1:]
	}
	return strings.Join(p, ".")
}
