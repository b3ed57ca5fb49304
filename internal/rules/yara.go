//go:build yara

package rules

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/hillu/go-yara/v4"
)

var ErrYaraUnsupported = errors.New("YARA rules require a build with the yara tag")

// YaraRules matches when any compiled rule matches.
type YaraRules struct {
	rules *yara.Rules
}

// LoadYara compiles a YARA source file; the namespace is the file's engine name.
func LoadYara(path string) (Matcher, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	compiler, err := yara.NewCompiler()
	if err != nil {
		return nil, fmt.Errorf("yara compiler: %w", err)
	}
	defer compiler.Destroy()
	if err := compiler.AddFile(f, EngineName(path)); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	rules, err := compiler.GetRules()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &YaraRules{rules: rules}, nil
}

func (y *YaraRules) Match(ctx context.Context, content []byte) (bool, error) {
	timeout, err := scanTimeout(ctx)
	if err != nil {
		return false, err
	}
	var matches yara.MatchRules
	if err := y.rules.ScanMem(content, 0, timeout, &matches); err != nil {
		return false, err
	}
	return len(matches) > 0, nil
}
