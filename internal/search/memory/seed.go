package memory

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/valyala/fastjson"
)

const maxLineBytes = 4 << 20

// LoadNDJSON reads one document per line. A line is either a bulk-style
// {"_id": ..., "_source": {...}} envelope or a bare object with an "id"
// field. Blank lines are skipped.
func (m *Index) LoadNDJSON(index string, r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	var p fastjson.Parser
	loaded, line := 0, 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		v, err := p.ParseBytes(raw)
		if err != nil {
			return loaded, fmt.Errorf("line %d: %w", line, err)
		}

		var id string
		var source json.RawMessage
		if src := v.Get("_source"); src != nil {
			id = idString(v.Get("_id"))
			source = src.MarshalTo(nil)
		} else {
			id = idString(v.Get("id"))
			source = bytes.Clone(raw)
		}
		if id == "" {
			return loaded, fmt.Errorf("line %d: document has no id", line)
		}
		if err := m.Put(index, id, source); err != nil {
			return loaded, fmt.Errorf("line %d: %w", line, err)
		}
		loaded++
	}
	if err := scanner.Err(); err != nil {
		return loaded, fmt.Errorf("reading documents: %w", err)
	}
	m.logger.Info("documents loaded", "index", index, "count", loaded)
	return loaded, nil
}

// LoadFile loads an NDJSON file into index. Files ending in .gz or .zst are
// decompressed first.
func (m *Index) LoadFile(index, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening seed file: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	switch filepath.Ext(path) {
	case ".gz":
		gz, err := gzip.NewReader(f)
		if err != nil {
			return 0, fmt.Errorf("reading gzip seed file %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	case ".zst":
		dec, err := zstd.NewReader(f)
		if err != nil {
			return 0, fmt.Errorf("reading zstd seed file %s: %w", path, err)
		}
		defer dec.Close()
		r = dec
	}
	n, err := m.LoadNDJSON(index, r)
	if err != nil {
		return n, fmt.Errorf("loading seed file %s: %w", path, err)
	}
	return n, nil
}

// idString accepts string and numeric ids.
func idString(v *fastjson.Value) string {
	if v == nil {
		return ""
	}
	switch v.Type() {
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeNumber:
		return v.String()
	default:
		return ""
	}
}
