// Input model: what a repository walker hands the engine.
//
// A walker reads the source repository (Subversion filesystem,
// Mercurial changelog) and delivers one RevisionRecord per source
// revision, in strictly non-decreasing revision order.  The engine
// never touches source-repository storage itself; blob contents arrive
// in the events, already passed through whatever byte-level policy the
// walker applies.
//
// Walkers are expected to decompose ordinary directory copies into
// per-file events themselves, or to supply a TreeReader so the engine
// can request the decomposition.  Directory copies of a bare branch or
// tag root must be passed through undecomposed; those are the
// branch/tag creation points the engine resolves (see branchtag.go).
//
// SPDX-License-Identifier: BSD-2-Clause

package main

import (
	"encoding/json"
	"fmt"
	"io"
)

// Path event actions.
const (
	opAdd    = 'A'
	opModify = 'M'
	opDelete = 'D'
	opCopy   = 'C'
	opTag    = 'T' // tag creation/update resolved by the walker (e.g. .hgtags)
)

// PathEvent is one path-level change within a revision.
type PathEvent struct {
	Action   byte
	Path     string
	Dir      bool   // event applies to a directory, not a file
	Flags    string // "" regular, "x" executable, anything else unsupported
	CopyRev  revidx
	CopyPath string
	Content  []byte // new content for Add/Modify, nil otherwise
}

// RevisionRecord is one source revision as delivered by a walker.
type RevisionRecord struct {
	Rev     revidx
	Author  string // committer login, resolved through the identity table
	Branch  string // branch the revision lands on; "" means master
	Date    Date
	Log     string
	Parents []revidx // source parent revisions, first one is the linear parent
	Events  []PathEvent
}

// RevisionSource delivers revision records in order.
type RevisionSource interface {
	Walk(emit func(*RevisionRecord) error) error
}

// TreeReader lets the engine enumerate the files under a directory at
// some past revision, so ordinary directory copies can be decomposed
// without the engine reading source-repository storage itself.
type TreeReader interface {
	FilesUnder(rev revidx, dir string) ([]string, error)
}

// Date is a commit timestamp the way git fast-import wants it: seconds
// since the epoch plus a timezone display hint.
type Date struct {
	seconds int64
	offset  int // minutes east of UTC
}

func newDate(seconds int64, offsetMinutes int) Date {
	return Date{seconds: seconds, offset: offsetMinutes}
}

// String formats a Date as an internal git date (Unix time in seconds
// and a hhmm offset).
func (date Date) String() string {
	sign := '+'
	off := date.offset
	if off < 0 {
		sign = '-'
		off = -off
	}
	return fmt.Sprintf("%d %c%02d%02d", date.seconds, sign, off/60, off%60)
}

// Before tests time ordering of Date objects.
func (date Date) Before(other Date) bool {
	return date.seconds < other.seconds
}

// jsonSource replays a JSON-lines revision event stream.  This is the
// process boundary to out-of-tree walkers: one JSON object per
// revision, in revision order.  Blob contents ride along base64-coded.
type jsonSource struct {
	dec *json.Decoder
}

type jsonEvent struct {
	Action   string `json:"action"`
	Path     string `json:"path"`
	Dir      bool   `json:"dir,omitempty"`
	Flags    string `json:"flags,omitempty"`
	CopyRev  uint32 `json:"copyrev,omitempty"`
	CopyPath string `json:"copypath,omitempty"`
	Content  []byte `json:"content,omitempty"`
}

type jsonRevision struct {
	Rev      uint32      `json:"rev"`
	Author   string      `json:"author"`
	Branch   string      `json:"branch,omitempty"`
	Unix     int64       `json:"unix"`
	TZOffset int         `json:"tz_offset"`
	Log      string      `json:"log"`
	Parents  []uint32    `json:"parents,omitempty"`
	Events   []jsonEvent `json:"events,omitempty"`
}

func newJSONSource(rd io.Reader) *jsonSource {
	return &jsonSource{dec: json.NewDecoder(rd)}
}

var jsonActions = map[string]byte{
	"add":    opAdd,
	"modify": opModify,
	"delete": opDelete,
	"copy":   opCopy,
	"tag":    opTag,
}

func (jr *jsonRevision) cook() (*RevisionRecord, error) {
	rec := &RevisionRecord{
		Rev:    revidx(jr.Rev),
		Author: jr.Author,
		Branch: jr.Branch,
		Date:   newDate(jr.Unix, jr.TZOffset),
		Log:    jr.Log,
	}
	for _, p := range jr.Parents {
		rec.Parents = append(rec.Parents, revidx(p))
	}
	for _, je := range jr.Events {
		action, ok := jsonActions[je.Action]
		if !ok {
			return nil, fmt.Errorf("revision %d: unknown event action %q", jr.Rev, je.Action)
		}
		rec.Events = append(rec.Events, PathEvent{
			Action:   action,
			Path:     je.Path,
			Dir:      je.Dir,
			Flags:    je.Flags,
			CopyRev:  revidx(je.CopyRev),
			CopyPath: je.CopyPath,
			Content:  je.Content,
		})
	}
	return rec, nil
}

func (js *jsonSource) Walk(emit func(*RevisionRecord) error) error {
	last := int64(-1)
	for {
		var jr jsonRevision
		err := js.dec.Decode(&jr)
		if err == io.EOF {
			return nil
		} else if err != nil {
			return fmt.Errorf("malformed revision record: %v", err)
		}
		if int64(jr.Rev) < last {
			return fmt.Errorf("revision %d arrived after revision %d; the stream must be ordered", jr.Rev, last)
		}
		last = int64(jr.Rev)
		rec, err := jr.cook()
		if err != nil {
			return err
		}
		if err := emit(rec); err != nil {
			return err
		}
	}
}

// end
