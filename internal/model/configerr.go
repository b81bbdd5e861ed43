package model

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	cue "cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
)

type CueErrorDetail struct {
	Path    string // retention.max_age
	Code    string // missing_required | unknown_field | type_mismatch | conflicting_values | invalid_enum | validation_error
	Message string // Human text
	Pos     CueErrorPosition
	Raw     string // original message
}

func (c CueErrorDetail) Attr(name string) slog.Attr {
	return slog.GroupAttrs(
		name,
		slog.String("code", c.Code),
		slog.String("path", c.Path),
		slog.String("message", c.Message),
		slog.String("file", c.Pos.Filename),
		slog.Int("line", c.Pos.Line),
		slog.Int("column", c.Pos.Column),
	)
}

type CueErrorPosition struct {
	Filename string
	Line     int
	Column   int
}

var (
	reIncomplete  = regexp.MustCompile(`(?i)incomplete value`)
	reNotAllowed  = regexp.MustCompile(`(?i)not allowed|unknown field`)
	reConflict    = regexp.MustCompile(`(?i)conflicting values|cannot unify|incompatible`)
	reExpectedGot = regexp.MustCompile(`(?i)expected .* got .*`)
	reEnum        = regexp.MustCompile(`(?i)must be one of|expected one of`)
	reDuration    = regexp.MustCompile(`(?i)does not match`)
)

// conditional lists fields only required when a sibling switch is on.
var conditional = map[string]string{
	"retention.max_age": "retention.enabled",
}

// ConfigErrDetails turns an error of LoadConfig into one detail per
// offending position. Errors without a position in the document are dropped.
func ConfigErrDetails(err error) []CueErrorDetail {
	if err == nil {
		return nil
	}

	seen := make(map[CueErrorPosition]struct{})

	var out []CueErrorDetail
	for _, e := range cueerrors.Errors(err) {
		raw, _ := e.Msg()
		path := normalizePath(e.Path())
		code, msg := classify(raw, path)

		pos := position(e)
		if pos.Filename == "" {
			continue
		}
		if _, ok := seen[pos]; ok {
			continue
		}

		if code == "conflicting_values" || code == "invalid_enum" {
			if values, dflt := enumStrings(lookup(schema, path)); len(values) > 1 {
				code = "invalid_enum"
				msg += fmt.Sprintf(": possible values (%s)", strings.Join(values, ","))
				if dflt != nil {
					msg += fmt.Sprintf(" (default %s)", *dflt)
				}
			}
		}

		out = append(out, CueErrorDetail{
			Path:    path,
			Code:    code,
			Message: msg,
			Pos:     pos,
			Raw:     err.Error(),
		})
		seen[pos] = struct{}{}
	}
	return out
}

func enumStrings(v cue.Value) (values []string, def *string) {
	if !v.Exists() {
		return nil, nil
	}
	if d, ok := v.Default(); ok {
		if s, err := d.String(); err == nil {
			def = &s
		}
	}
	op, args := v.Expr()
	if op != cue.OrOp {
		return nil, def
	}
	seen := map[string]struct{}{}
	for _, a := range args {
		if a.IncompleteKind() != cue.StringKind {
			continue
		}
		s, err := a.String()
		if err != nil {
			continue
		}
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			values = append(values, s)
		}
	}
	return values, def
}

func position(err cueerrors.Error) CueErrorPosition {
	for _, r := range cueerrors.Positions(err) {
		if r.Filename() == "" {
			continue
		}
		return CueErrorPosition{
			Filename: r.Filename(),
			Line:     r.Line(),
			Column:   r.Column(),
		}
	}
	return CueErrorPosition{}
}

func normalizePath(p []string) string {
	if len(p) == 0 {
		return ""
	}
	// Remove leading definition (#Config)
	if strings.HasPrefix(p[0], "#") {
		p = p[1:]
	}
	return strings.Join(p, ".")
}

func classify(raw, path string) (code, msg string) {
	switch {
	case reNotAllowed.MatchString(raw):
		return "unknown_field", fmt.Sprintf("Field %s is not allowed", last(path))
	case reIncomplete.MatchString(raw):
		if on, ok := conditional[path]; ok {
			return "missing_required", fmt.Sprintf("Field %s is required and must be non-empty when %s is true", last(path), on)
		}
		return "missing_required", fmt.Sprintf("Field %s is required", last(path))
	case reEnum.MatchString(raw):
		return "invalid_enum", fmt.Sprintf("Field %s has invalid value", last(path))
	case reConflict.MatchString(raw):
		return "conflicting_values", fmt.Sprintf("Conflicting values for %s", last(path))
	case reDuration.MatchString(raw):
		return "type_mismatch", fmt.Sprintf("Field %s must be a duration like 1d2h3m4s", last(path))
	case reExpectedGot.MatchString(raw):
		return "type_mismatch", fmt.Sprintf("Field %s has wrong type/value", last(path))
	default:
		return "validation_error", raw
	}
}

func lookup(root cue.Value, path string) cue.Value {
	if path == "" {
		return root
	}
	return root.LookupPath(cue.ParsePath(path))
}

func last(p string) string {
	if i := strings.LastIndexByte(p, '.'); i >= 0 {
		return p[i+1:]
	}
	return p
}
