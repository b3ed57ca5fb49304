package rules

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/wandb/parallel"
)

var ErrNoRules = errors.New("rule file contains no rules")

// LoadPatterns reads a pattern file, one rule per line. Blank lines and
// lines starting with # are skipped.
func LoadPatterns(path string) (*RuleSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rs []Rule
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r, err := ParseRule(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		rs = append(rs, r)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	logrus.Debugf("Loaded %d patterns from %s", len(rs), path)
	return NewRuleSet(rs), nil
}

// LoadJSON reads {"rules":[{"id":..,"pattern":..,"type":..,"enabled":..}]}.
// Each enabled rule becomes its own engine named by id. type is one of
// plain (default), plain_i, regex, hex or filetype.
func LoadJSON(path string) ([]Named, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%s: invalid JSON", path)
	}
	var (
		out     []Named
		loadErr error
	)
	gjson.GetBytes(data, "rules").ForEach(func(_, v gjson.Result) bool {
		id := v.Get("id").String()
		if id == "" {
			loadErr = fmt.Errorf("%s: rule without id", path)
			return false
		}
		if en := v.Get("enabled"); en.Exists() && !en.Bool() {
			return true
		}
		r, err := ParseRule(prefixFor(v.Get("type").String()) + v.Get("pattern").String())
		if err != nil {
			loadErr = fmt.Errorf("%s: rule %s: %w", path, id, err)
			return false
		}
		set := NewRuleSet([]Rule{r})
		out = append(out, Named{Name: id, Source: path, Fingerprint: set.Fingerprint(), Engine: set})
		return true
	})
	if loadErr != nil {
		return nil, loadErr
	}
	return out, nil
}

func prefixFor(kind string) string {
	switch strings.ToLower(kind) {
	case "regex", "re":
		return "re:"
	case "plain_i", "insensitive":
		return "plain:i:"
	case "hex":
		return "hex:"
	case "filetype", "type":
		return "type:"
	}
	return ""
}

// EngineName is the engine name a rule file registers under: its base name
// without extension.
func EngineName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// LoadFile loads any supported rule file, picking the format by extension.
func LoadFile(path string) ([]Named, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return LoadJSON(path)
	case ".yar", ".yara":
		e, err := LoadYara(path)
		if err != nil {
			return nil, err
		}
		return []Named{{Name: EngineName(path), Source: path, Engine: e}}, nil
	default:
		set, err := LoadPatterns(path)
		if err != nil {
			return nil, err
		}
		if set.Len() == 0 {
			return nil, fmt.Errorf("%s: %w", path, ErrNoRules)
		}
		return []Named{{Name: EngineName(path), Source: path, Fingerprint: set.Fingerprint(), Engine: set}}, nil
	}
}

// LoadFiles loads rule files concurrently. The first failure aborts the load.
// Engines are returned in the order of paths.
func LoadFiles(ctx context.Context, paths []string, workers int) ([]Named, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	type loaded struct {
		idx  int
		sets []Named
	}
	group := parallel.Collect[loaded](parallel.Limited(ctx, workers))
	for i, p := range paths {
		group.Go(func(ctx context.Context) (loaded, error) {
			if err := ctx.Err(); err != nil {
				return loaded{}, err
			}
			sets, err := LoadFile(p)
			return loaded{idx: i, sets: sets}, err
		})
	}
	res, err := group.Wait()
	if err != nil {
		return nil, err
	}
	slices.SortFunc(res, func(a, b loaded) int { return a.idx - b.idx })
	var out []Named
	for _, r := range res {
		out = append(out, r.sets...)
	}
	return out, nil
}
