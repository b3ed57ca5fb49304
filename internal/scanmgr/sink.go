package scanmgr

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"ScriptScan/internal"
)

type SinkOptions struct {
	// MatchesFile receives one line per result.
	MatchesFile string
	// ByEngineFolder receives one file per engine listing matched items.
	ByEngineFolder string
}

// NewResultSink returns a closure logging each result and appending it to
// the configured files.
func NewResultSink(opts SinkOptions) func(Result) {
	var matchesFileMu sync.Mutex
	var engineFilesMu sync.Map

	return func(res Result) {
		fields := logrus.Fields{"engine": res.Engine, "item": res.Item.Name}
		if res.Item.Path != "" {
			fields["path"] = res.Item.Path
		}
		logrus.WithFields(fields).Info("Match found")

		location := res.Item.Path
		if location == "" {
			location = res.Item.Name
		}

		// single sink file
		if opts.MatchesFile != "" {
			matchesFileMu.Lock()
			appendLine(opts.MatchesFile, fmt.Sprintf("%s\t%s\t%s", res.Engine, location, res.Item.Digest))
			matchesFileMu.Unlock()
		}

		// per-engine files
		if opts.ByEngineFolder != "" {
			_ = os.MkdirAll(opts.ByEngineFolder, 0755)
			path := filepath.Join(opts.ByEngineFolder, internal.Sanitize(res.Engine)+".txt")
			muAny, _ := engineFilesMu.LoadOrStore(path, &sync.Mutex{})
			mu := muAny.(*sync.Mutex)
			mu.Lock()
			appendLine(path, location)
			mu.Unlock()
		}
	}
}

func appendLine(path, line string) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		logrus.WithError(err).WithField("file", path).Error("write match")
		return
	}
	defer f.Close()
	_, _ = fmt.Fprintln(f, line)
}
