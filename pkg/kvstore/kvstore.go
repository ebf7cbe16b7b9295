// Package kvstore implements the persistent record format of §6: each
// record is a directory of "key=value" line files, atomically replaced
// by rename. One Tree exists for containers and one for volumes (§4.2.4,
// §6 "Persistent state layout").
//
// This is the literal on-disk format the spec names as an external
// interface, so it is hand-rolled rather than delegated to a KV engine
// library: the wire format is part of the contract, not an implementation
// detail a library could own. The pack's go.etcd.io/bbolt is instead kept
// for the derived fast-lookup index (pkg/kvstore/index.go) that is
// rebuilt from this tree at startup.
package kvstore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Record is an ordered list of key/value pairs. Ordering is preserved on
// Load so round-tripping a record that was never rewritten is byte-stable.
type Record struct {
	keys   []string
	values map[string]string
}

// NewRecord creates an empty record.
func NewRecord() *Record {
	return &Record{values: make(map[string]string)}
}

// Set assigns key=value, appending key to the ordering if new.
func (r *Record) Set(key, value string) {
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Get returns the value for key and whether it was present.
func (r *Record) Get(key string) (string, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (r *Record) Keys() []string {
	return append([]string(nil), r.keys...)
}

// Tree is a directory of records, one sub-directory per record name.
type Tree struct {
	root string
}

// Open ensures root exists and returns a Tree rooted there.
func Open(root string) (*Tree, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("kvstore: create root %s: %w", root, err)
	}
	return &Tree{root: root}, nil
}

func (t *Tree) dir(name string) string {
	return filepath.Join(t.root, sanitizeName(name))
}

// sanitizeName replaces '/' so a container path like "a/b" can be used
// directly as a single path component, mirroring the percent-escape the
// spec's FindTaskContainer undoes on the freezer cgroup path.
func sanitizeName(name string) string {
	return strings.ReplaceAll(name, "/", "%2f")
}

func unsanitizeName(name string) string {
	return strings.ReplaceAll(name, "%2f", "/")
}

// Save atomically replaces the record directory for name: every key=value
// pair is written to a "data" file inside a fresh "<dir>.tmp" directory,
// which is then renamed over the old one. Rename is atomic on a POSIX
// filesystem, giving crash-safe restore (§6).
func (t *Tree) Save(name string, rec *Record) error {
	dir := t.dir(name)
	tmp := dir + ".tmp"

	if err := os.RemoveAll(tmp); err != nil {
		return fmt.Errorf("kvstore: clear tmp for %s: %w", name, err)
	}
	if err := os.MkdirAll(tmp, 0700); err != nil {
		return fmt.Errorf("kvstore: mkdir tmp for %s: %w", name, err)
	}

	f, err := os.OpenFile(filepath.Join(tmp, "data"), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("kvstore: create data file for %s: %w", name, err)
	}
	w := bufio.NewWriter(f)
	for _, k := range rec.keys {
		if _, err := fmt.Fprintf(w, "%s=%s\n", k, escapeValue(rec.values[k])); err != nil {
			f.Close()
			return fmt.Errorf("kvstore: write %s: %w", name, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("kvstore: flush %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("kvstore: fsync %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("kvstore: close %s: %w", name, err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("kvstore: remove previous record for %s: %w", name, err)
	}
	if err := os.Rename(tmp, dir); err != nil {
		return fmt.Errorf("kvstore: rename record for %s: %w", name, err)
	}
	return nil
}

// Append adds one key=value line to an existing record's data file without
// a full rewrite, used for incremental log-like updates (e.g. volume
// links). Callers that need crash-safety across many small updates should
// periodically call Save to compact.
func (t *Tree) Append(name, key, value string) error {
	dir := t.dir(name)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("kvstore: mkdir for append %s: %w", name, err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "data"), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("kvstore: open for append %s: %w", name, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%s=%s\n", key, escapeValue(value)); err != nil {
		return fmt.Errorf("kvstore: append %s: %w", name, err)
	}
	return f.Sync()
}

// Load reads the record for name, merging duplicate keys by keeping the
// last occurrence (so Append-then-Load behaves like an upsert log).
func (t *Tree) Load(name string) (*Record, error) {
	path := filepath.Join(t.dir(name), "data")
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rec := NewRecord()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			continue
		}
		rec.Set(line[:idx], unescapeValue(line[idx+1:]))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("kvstore: scan %s: %w", name, err)
	}
	return rec, nil
}

// Remove deletes the record for name.
func (t *Tree) Remove(name string) error {
	if err := os.RemoveAll(t.dir(name)); err != nil {
		return fmt.Errorf("kvstore: remove %s: %w", name, err)
	}
	return os.RemoveAll(t.dir(name) + ".tmp")
}

// List enumerates all record names currently stored, sorted for
// deterministic restore order.
func (t *Tree) List() ([]string, error) {
	entries, err := os.ReadDir(t.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("kvstore: list %s: %w", t.root, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		names = append(names, unsanitizeName(e.Name()))
	}
	sort.Strings(names)
	return names, nil
}

func escapeValue(v string) string {
	v = strings.ReplaceAll(v, "\\", "\\\\")
	return strings.ReplaceAll(v, "\n", "\\n")
}

func unescapeValue(v string) string {
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		if v[i] == '\\' && i+1 < len(v) {
			switch v[i+1] {
			case 'n':
				b.WriteByte('\n')
				i++
				continue
			case '\\':
				b.WriteByte('\\')
				i++
				continue
			}
		}
		b.WriteByte(v[i])
	}
	return b.String()
}
