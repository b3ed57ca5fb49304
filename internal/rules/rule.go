// Package rules builds detection engines from pattern rule files.
package rules

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/h2non/filetype"
)

// Rule - fast interface for content match.
type Rule interface {
	Match([]byte) bool
	Desc() string // for logs/fingerprints
}

type RegexRule struct{ re *regexp.Regexp }

func (r *RegexRule) Match(b []byte) bool { return r.re.Match(b) }
func (r *RegexRule) Desc() string        { return "re:" + r.re.String() }

type PlainRule struct {
	s           []byte
	insensitive bool
}

func (r *PlainRule) Match(b []byte) bool {
	if r.insensitive {
		return bytes.Contains(bytes.ToLower(b), r.s)
	}
	return bytes.Contains(b, r.s)
}

func (r *PlainRule) Desc() string {
	if r.insensitive {
		return "plain:i:" + string(r.s)
	}
	return string(r.s)
}

// HexRule matches a raw byte sequence written as hex, e.g. hex:4d5a9000.
type HexRule struct{ b []byte }

func (r *HexRule) Match(b []byte) bool { return bytes.Contains(b, r.b) }
func (r *HexRule) Desc() string        { return "hex:" + hex.EncodeToString(r.b) }

// TypeRule matches content whose sniffed file type has the given extension
// or MIME type, e.g. type:zip or type:application/pdf.
type TypeRule struct{ want string }

func (r *TypeRule) Match(b []byte) bool {
	kind, err := filetype.Match(b)
	if err != nil || kind == filetype.Unknown {
		return false
	}
	return kind.Extension == r.want || kind.MIME.Value == r.want
}

func (r *TypeRule) Desc() string { return "type:" + r.want }

// ParseRule parses one pattern line:
//
//	foo
//	plain:i:bar
//	re:^user=\w+$
//	hex:deadbeef
//	type:pdf
func ParseRule(line string) (Rule, error) {
	switch {
	case strings.HasPrefix(line, "re:"):
		re, err := regexp.Compile(line[3:])
		if err != nil {
			return nil, fmt.Errorf("invalid regex %q: %w", line, err)
		}
		return &RegexRule{re: re}, nil
	case strings.HasPrefix(line, "plain:i:"):
		return &PlainRule{s: []byte(strings.ToLower(line[8:])), insensitive: true}, nil
	case strings.HasPrefix(line, "hex:"):
		b, err := hex.DecodeString(strings.ReplaceAll(line[4:], " ", ""))
		if err != nil || len(b) == 0 {
			return nil, fmt.Errorf("invalid hex pattern %q", line)
		}
		return &HexRule{b: b}, nil
	case strings.HasPrefix(line, "type:"):
		want := strings.ToLower(strings.TrimSpace(line[5:]))
		if want == "" {
			return nil, fmt.Errorf("empty type pattern %q", line)
		}
		return &TypeRule{want: want}, nil
	default:
		return &PlainRule{s: []byte(line)}, nil
	}
}
