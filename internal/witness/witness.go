// Package witness computes and compares the opaque state signatures the
// up-to-date engine uses to decide whether a dependency has changed.
//
// This generalizes the teacher's content-hash-only approach
// (scriptweaver/internal/core.TaskHasher, which SHA-256-hashes full file
// contents for cache identity) to the broader witness contract of §3: a
// witness is whatever a dependency kind says it is — size+mtime+content
// hash for files, an entity tag for remote objects, a predicate's return
// value for calc dependencies. xxhash/v2 replaces SHA-256 here because a
// witness is only compared for equality with the one stored for the same
// task and dependency key on the previous run, never used as a shared
// content-addressed cache key, so collision resistance matters less than
// speed.
package witness

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Witness is an opaque, comparable value describing a dependency's current
// state. Two witnesses are equal iff Kind and Value match exactly.
type Witness struct {
	Kind  string
	Value string
}

// Equal reports whether two witnesses describe the same state.
func (w Witness) Equal(other Witness) bool {
	return w.Kind == other.Kind && w.Value == other.Value
}

// IsZero reports whether the witness carries no information (e.g. a
// dependency that has never been observed).
func (w Witness) IsZero() bool {
	return w.Kind == "" && w.Value == ""
}

// FileWitness computes a size+mtime+content-hash witness for a regular
// file, mirroring the teacher's InputResolver.readFileContent plus
// TaskHasher.ComputeHash, but keyed by a fast non-cryptographic hash
// instead of SHA-256.
func FileWitness(path string) (Witness, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Witness{}, err
	}
	if info.IsDir() {
		return Witness{}, fmt.Errorf("witness: %q is a directory, not a file", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return Witness{}, err
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return Witness{}, fmt.Errorf("hashing %q: %w", path, err)
	}

	value := fmt.Sprintf("%d:%d:%x", info.Size(), info.ModTime().UnixNano(), h.Sum64())
	return Witness{Kind: "file", Value: value}, nil
}

// DirPrefixWitness computes a witness over the sorted set of (path, file
// witness) entries for every regular file under dir, where path is the
// walked path (dir joined with the file's relative path) and the file
// witness is FileWitness's size+mtime+content hash. This lets a
// directory-prefix target detect additions, removals, and content changes
// without depending on directory mtimes, which are unreliable across
// filesystems; a file's own mtime change does change the witness.
func DirPrefixWitness(dir string) (Witness, error) {
	var entries []string

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fw, err := FileWitness(path)
		if err != nil {
			return err
		}
		entries = append(entries, path+"="+fw.Value)
		return nil
	})
	if walkErr != nil {
		return Witness{}, walkErr
	}

	sort.Strings(entries)
	h := xxhash.New()
	for _, e := range entries {
		_, _ = h.Write([]byte(e))
		_, _ = h.Write([]byte{0})
	}
	return Witness{Kind: "dirprefix", Value: fmt.Sprintf("%d:%x", len(entries), h.Sum64())}, nil
}

// CalcWitness wraps an arbitrary predicate's output as a witness, for calc
// (custom-kind) dependencies whose "state" is not file-shaped.
func CalcWitness(value string) Witness {
	return Witness{Kind: "calc", Value: value}
}

// TaskWitness wraps a task's definition hash plus its last observed saved
// values, so a task_dep's witness changes whenever the producer's
// observable outputs change — not merely when it re-runs.
func TaskWitness(defHash string, savedValuesHash string) Witness {
	return Witness{Kind: "task", Value: defHash + ":" + savedValuesHash}
}
