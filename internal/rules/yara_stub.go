//go:build !yara

package rules

import (
	"errors"
	"fmt"
)

var ErrYaraUnsupported = errors.New("YARA rules require a build with the yara tag")

func LoadYara(path string) (Matcher, error) {
	return nil, fmt.Errorf("%s: %w", path, ErrYaraUnsupported)
}
