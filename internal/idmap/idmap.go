// Package idmap resolves subuid/subgid allowances into kernel-acceptable
// uid/gid mappings for user namespaces (spec.md §4.A).
package idmap

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"strings"
)

// Range is a closed [Start, End] interval over 32-bit ids: both ends
// are included.
type Range struct {
	Start uint32
	End   uint32
}

// Len returns the number of ids covered by the range, inclusive.
func (r Range) Len() uint32 {
	return r.End - r.Start + 1
}

// Tuple is one newuidmap/newgidmap argument triple: inside id, outside
// id, count.
type Tuple struct {
	Inside  uint32
	Outside uint32
	Count   uint32
}

// Mapping is the result of resolving a container's requested ranges
// against the allowed subuid/subgid ranges of the real user.
type Mapping struct {
	Singleton bool // true: only root-in-container is supported
	UID       uint32
	GID       uint32
	UIDTuples []Tuple
	GIDTuples []Tuple
}

// ErrUnsupportedIDRange is returned when the requested id ranges exceed
// what /etc/subuid or /etc/subgid allow for the current user.
type ErrUnsupportedIDRange struct {
	Kind      string // "uid" or "gid"
	Requested uint32
	Allowed   uint32
}

func (e *ErrUnsupportedIDRange) Error() string {
	return fmt.Sprintf("container requires %d %s(s) but only %d are allowed (see /etc/sub%s)",
		e.Requested, e.Kind, e.Allowed, e.Kind)
}

// ReadAllowedRanges parses /etc/subuid or /etc/subgid and returns the
// ranges granted to the named user. Each line has the form
// "user:start:count".
func ReadAllowedRanges(path, username string) ([]Range, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	defer f.Close()

	var ranges []Range
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("%s:%d: bad syntax", path, lineNum)
		}
		if parts[0] != username {
			continue
		}
		start, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: bad start: %w", path, lineNum, err)
		}
		count, err := strconv.ParseUint(parts[2], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: bad count: %w", path, lineNum, err)
		}
		if count == 0 {
			continue
		}
		ranges = append(ranges, Range{Start: uint32(start), End: uint32(start + count - 1)})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return ranges, nil
}

// CurrentUser returns the effective uid, gid, and username of the
// running process.
func CurrentUser() (euid, egid uint32, username string, err error) {
	u, err := user.Current()
	if err != nil {
		return 0, 0, "", fmt.Errorf("looking up current user: %w", err)
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return 0, 0, "", fmt.Errorf("parsing uid %q: %w", u.Uid, err)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return 0, 0, "", fmt.Errorf("parsing gid %q: %w", u.Gid, err)
	}
	return uint32(uid), uint32(gid), u.Username, nil
}

// MatchRanges zips the requested ranges against the allowed ranges
// greedily, in order, skipping a requested inside-id of 0 (which is
// always mapped separately to ownID as the fixed first tuple). This
// mirrors vagga's original uidmap.rs match_ranges algorithm exactly.
func MatchRanges(requested, allowed []Range, ownID uint32) []Tuple {
	tuples := []Tuple{{Inside: 0, Outside: ownID, Count: 1}}
	if len(requested) == 0 || len(allowed) == 0 {
		return tuples
	}

	req := requested[0]
	reqIdx := 0
	alw := allowed[0]
	alwIdx := 0

	for {
		if req.Start == 0 {
			req.Start++
			if req.Start > req.End {
				reqIdx++
				if reqIdx >= len(requested) {
					break
				}
				req = requested[reqIdx]
			}
			continue
		}

		reqLen := req.End - req.Start + 1
		alwLen := alw.End - alw.Start + 1
		clen := reqLen
		if alwLen < clen {
			clen = alwLen
		}

		tuples = append(tuples, Tuple{Inside: req.Start, Outside: alw.Start, Count: clen})

		req.Start += clen
		alw.Start += clen

		if req.Start > req.End {
			reqIdx++
			if reqIdx >= len(requested) {
				break
			}
			req = requested[reqIdx]
		}
		if alw.Start > alw.End {
			alwIdx++
			if alwIdx >= len(allowed) {
				break
			}
			alw = allowed[alwIdx]
		}
	}
	return tuples
}

// sum returns the total number of ids covered by a range list.
func sum(ranges []Range) uint32 {
	var total uint32
	for _, r := range ranges {
		total += r.Len()
	}
	return total
}

// Resolve computes the Mapping for a container that requests the given
// uid/gid ranges, given this user's allowed subuid/subgid ranges.
//
// If the user has no subuid/subgid entries at all, the result falls
// back to Singleton(euid, egid): only root-in-container works, mapped
// to the real user outside (spec.md §4.A).
func Resolve(requestedUIDs, requestedGIDs, allowedUIDs, allowedGIDs []Range, euid, egid uint32) (*Mapping, error) {
	if len(allowedUIDs) == 0 && len(allowedGIDs) == 0 {
		return &Mapping{Singleton: true, UID: euid, GID: egid}, nil
	}

	if reqSum, alwSum := sum(requestedUIDs), sum(allowedUIDs); reqSum > alwSum {
		return nil, &ErrUnsupportedIDRange{Kind: "uid", Requested: reqSum, Allowed: alwSum}
	}
	if reqSum, alwSum := sum(requestedGIDs), sum(allowedGIDs); reqSum > alwSum {
		return nil, &ErrUnsupportedIDRange{Kind: "gid", Requested: reqSum, Allowed: alwSum}
	}

	return &Mapping{
		UIDTuples: MatchRanges(requestedUIDs, allowedUIDs, euid),
		GIDTuples: MatchRanges(requestedGIDs, allowedGIDs, egid),
	}, nil
}

// ApplyForked applies a resolved mapping to a just-forked, not yet
// exec'd child: via the newuidmap/newgidmap setuid helpers for a
// Ranges mapping, or by writing /proc/<pid>/{uid,gid}_map directly when
// running as root or for a Singleton mapping.
func ApplyForked(pid int, m *Mapping, isRoot bool) error {
	if m.Singleton || isRoot {
		if err := writeSimpleMap(pid, "uid_map", m.UID); err != nil {
			return err
		}
		return writeSimpleMap(pid, "gid_map", m.GID)
	}

	if err := runMapHelper("newuidmap", pid, m.UIDTuples); err != nil {
		return err
	}
	return runMapHelper("newgidmap", pid, m.GIDTuples)
}

func writeSimpleMap(pid int, file string, id uint32) error {
	path := fmt.Sprintf("/proc/%d/%s", pid, file)
	content := fmt.Sprintf("0 %d 1", id)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func runMapHelper(helper string, pid int, tuples []Tuple) error {
	args := []string{strconv.Itoa(pid)}
	for _, t := range tuples {
		args = append(args,
			strconv.FormatUint(uint64(t.Inside), 10),
			strconv.FormatUint(uint64(t.Outside), 10),
			strconv.FormatUint(uint64(t.Count), 10))
	}
	cmd := exec.Command(helper, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("running %s: %w", helper, err)
	}
	return nil
}
