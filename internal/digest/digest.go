// Package digest implements the typed, order-preserving hasher used to
// compute container version identifiers (spec.md §4.B).
//
// Every emitted field is framed as "name\0value\0" so that field
// boundaries are unambiguous and concatenation of two fields can never
// collide with a different split of the same bytes.
package digest

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"sort"
	"strings"
)

// Digest accumulates a stable, order-dependent hash of named fields.
// The zero value is not usable; use New.
type Digest struct {
	sha hash.Hash
	dbg *strings.Builder // non-nil only when debug text is requested
}

// New creates a Digest. When debug is true, text() calls are retained
// and can be read back with DebugText for troubleshooting version
// mismatches (vagga _version_hash --debug).
func New(debug bool) *Digest {
	d := &Digest{sha: sha256.New()}
	if debug {
		d.dbg = &strings.Builder{}
	}
	return d
}

func (d *Digest) frame(name string, value string) {
	fmt.Fprintf(d.sha, "%s\x00%s\x00", name, value)
}

// Command frames a marker before a build step's own hash contribution,
// so that two steps emitting the same field values in sequence cannot
// be confused with one step emitting them once.
func (d *Digest) Command(name string) {
	fmt.Fprintf(d.sha, "COMMAND\x00%s\x00", name)
	if d.dbg != nil {
		fmt.Fprintf(d.dbg, "----- Command %s -----\n", name)
	}
}

// Field emits a single scalar field. Accepted types: string, bool, and
// any integer type, formatted with fmt.Sprint.
func (d *Digest) Field(name string, value interface{}) {
	d.frame(name, fmt.Sprint(value))
	if d.dbg != nil {
		fmt.Fprintf(d.dbg, "field %q %v\n", name, value)
	}
}

// OptField emits a field only if value is non-nil, so that introducing
// a new optional field that is absent does not change the digest of
// existing containers.
func (d *Digest) OptField(name string, value interface{}) {
	if value == nil {
		return
	}
	d.Field(name, value)
}

// OptString is the string-specific form of OptField: empty string is
// treated as "absent" by callers that pass a pointer-free API.
func (d *Digest) OptString(name string, value string, present bool) {
	if !present {
		return
	}
	d.Field(name, value)
}

// Path emits a filesystem path field. It is hashed and shown in debug
// dumps exactly like Field.
func (d *Digest) Path(name string, value string) {
	d.Field(name, value)
}

// StringList emits an ordered list of strings as a single field: the
// name is written once, then each value is null-terminated in order.
// Reordering the list changes the hash; that is required by spec.md §8
// invariant 3 for ordered sequences such as `setup`/`run`.
func (d *Digest) StringList(name string, values []string) {
	fmt.Fprintf(d.sha, "%s\x00", name)
	for _, v := range values {
		fmt.Fprintf(d.sha, "%s\x00", v)
	}
	if d.dbg != nil {
		fmt.Fprintf(d.dbg, "field:list %q %v\n", name, values)
	}
}

// StringSet emits an unordered collection deterministically by sorting
// it first, satisfying spec.md §8 invariant 3 (map reordering must not
// change the hash).
func (d *Digest) StringSet(name string, values map[string]string) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(d.sha, "%s\x00", name)
	for _, k := range keys {
		fmt.Fprintf(d.sha, "%s=%s\x00", k, values[k])
	}
	if d.dbg != nil {
		fmt.Fprintf(d.dbg, "field:set %q\n", name)
	}
}

// Ranges emits a list of inclusive [start,end] integer ranges (uid/gid
// allotments) as a single field.
func (d *Digest) Ranges(name string, ranges [][2]uint32) {
	fmt.Fprintf(d.sha, "%s\x00", name)
	for _, r := range ranges {
		fmt.Fprintf(d.sha, "%d-%d\x00", r[0], r[1])
	}
	if d.dbg != nil {
		fmt.Fprintf(d.dbg, "field:list %q %v\n", name, ranges)
	}
}

// File streams reader content into the digest under a debug label; it
// does not frame a name/value pair since file contents can contain NUL.
func (d *Digest) File(name string, r io.Reader) error {
	if _, err := io.Copy(d.sha, r); err != nil {
		return err
	}
	if d.dbg != nil {
		fmt.Fprintf(d.dbg, "file %q\n", name)
	}
	return nil
}

// Text appends a human-readable line to the debug side channel without
// affecting the hash. A no-op unless the Digest was created with
// debug=true.
func (d *Digest) Text(label, value string) {
	if d.dbg != nil {
		fmt.Fprintf(d.dbg, "%s: %s\n", label, value)
	}
}

// Result returns the raw 32-byte SHA-256 sum.
func (d *Digest) Result() [32]byte {
	var out [32]byte
	copy(out[:], d.sha.Sum(nil))
	return out
}

// ResultHex returns the 64-character lowercase hex digest.
func (d *Digest) ResultHex() string {
	sum := d.Result()
	return fmt.Sprintf("%x", sum)
}

// Short returns the first 8 hex characters of the digest, used as the
// directory-name suffix for committed container roots.
func (d *Digest) Short() string {
	return d.ResultHex()[:8]
}

// DebugText returns the accumulated debug side channel, or "" if the
// Digest was created without debug output.
func (d *Digest) DebugText() string {
	if d.dbg == nil {
		return ""
	}
	return d.dbg.String()
}
