package internal

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/docker/go-units"
)

const (
	DefaultEngineTimeout = 60 * time.Second
	DefaultMaxItemSize   = "64MB"
)

// Options - runtime options, from flags layered over the config file.
type Options struct {
	LogLevel      string
	LogFile       string
	Threads       int
	EngineTimeout time.Duration
	MaxItemSize   string
	MailboxLimit  int
	Unsafe        bool
	Rules         []string
	WatchRules    bool
	Walk          WalkOptions

	maxItemBytes int64
}

// WalkOptions control which files a directory walk turns into scan items.
type WalkOptions struct {
	Depth           int
	Archives        bool
	SniffArchives   bool
	FailFast        bool
	MaxArchiveFiles int
	Whitelist       []string
	Blacklist       []string
	Include         []string
	Exclude         []string

	whMap map[string]struct{}
	blMap map[string]struct{}
}

// Validate checks invariants.
func (o *Options) Validate() error {
	if o.EngineTimeout < 0 {
		return errors.New("engine-timeout must not be negative")
	}
	if o.MailboxLimit < 0 {
		return errors.New("mailbox-limit must not be negative")
	}
	if o.MaxItemSize != "" {
		if _, err := units.FromHumanSize(o.MaxItemSize); err != nil {
			return fmt.Errorf("invalid max-item-size %q: %w", o.MaxItemSize, err)
		}
	}
	return o.Walk.Validate()
}

// Prepare fills defaults and builds lookup structures. Call after Validate.
func (o *Options) Prepare() {
	if o.Threads <= 0 {
		o.Threads = max(4, runtime.GOMAXPROCS(0)*2)
	}
	if o.MaxItemSize != "" {
		o.maxItemBytes, _ = units.FromHumanSize(o.MaxItemSize)
	}
	o.Walk.Prepare()
}

// MaxItemBytes is the parsed MaxItemSize, 0 when unlimited.
func (o *Options) MaxItemBytes() int64 { return o.maxItemBytes }

func (w *WalkOptions) Validate() error {
	if w.Depth < 0 {
		return errors.New("depth must not be negative")
	}
	for _, g := range append(append([]string(nil), w.Include...), w.Exclude...) {
		if !validGlob(g) {
			return fmt.Errorf("invalid glob %q", g)
		}
	}
	return nil
}

// Prepare builds fast lookup structures.
func (w *WalkOptions) Prepare() {
	w.whMap = toSet(normalizeExt(w.Whitelist))
	w.blMap = toSet(normalizeExt(w.Blacklist))
}

func toSet(s []string) map[string]struct{} {
	if len(s) == 0 {
		return nil
	}
	m := make(map[string]struct{}, len(s))
	for _, x := range s {
		m[x] = struct{}{}
	}
	return m
}

// normalizeExt accepts "txt", ".txt" and "TXT" alike.
func normalizeExt(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}

func (w *WalkOptions) useWhitelist() bool { return len(w.whMap) > 0 }

func (w *WalkOptions) allowedExt(ext string) bool {
	// O(1) lookups
	if w.useWhitelist() {
		_, ok := w.whMap[ext]
		return ok
	}
	if w.blMap == nil {
		return true
	}
	_, blocked := w.blMap[ext]
	return !blocked
}

// allowedPath applies include/exclude globs to a slash separated relative path.
func (w *WalkOptions) allowedPath(rel string) bool {
	if len(w.Include) > 0 && !matchAny(w.Include, rel) {
		return false
	}
	return !matchAny(w.Exclude, rel)
}
