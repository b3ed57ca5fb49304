package scanmgr

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// Item identifies the scanned content a result refers to.
type Item struct {
	Name string `json:"name"`
	// Path is empty for in-memory items.
	Path string `json:"path,omitempty"`
	// Digest is the xxhash64 of the content, hex encoded.
	Digest string `json:"digest"`
}

// Result is one (item, matching engine) pair.
type Result struct {
	Engine string `json:"engine"`
	Item   Item   `json:"item"`
}

var Formats = []string{"table", "json", "ndjson", "csv"}

// Write renders results in one of Formats.
func Write(w io.Writer, format string, results []Result) error {
	switch strings.ToLower(format) {
	case "", "table":
		return WriteTable(w, results)
	case "json":
		return WriteJSON(w, results)
	case "ndjson", "jsonl":
		return WriteNDJSON(w, results)
	case "csv":
		return WriteCSV(w, results)
	}
	return fmt.Errorf("unknown output format %q (want one of %s)", format, strings.Join(Formats, ", "))
}

func WriteJSON(w io.Writer, results []Result) error {
	if results == nil {
		results = []Result{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func WriteNDJSON(w io.Writer, results []Result) error {
	enc := json.NewEncoder(w)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

func WriteCSV(w io.Writer, results []Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"engine", "name", "path", "digest"}); err != nil {
		return err
	}
	for _, r := range results {
		if err := cw.Write([]string{r.Engine, r.Item.Name, r.Item.Path, r.Item.Digest}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func WriteTable(w io.Writer, results []Result) error {
	table := tablewriter.NewWriter(w)
	table.Header("Engine", "Name", "Path", "Digest")
	for _, r := range results {
		path := r.Item.Path
		if path == "" {
			path = "-"
		}
		if err := table.Append([]string{r.Engine, r.Item.Name, path, r.Item.Digest}); err != nil {
			return err
		}
	}
	return table.Render()
}
