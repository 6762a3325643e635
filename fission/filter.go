// Leading-tab filter: expands tabs in the leading whitespace of each
// line to 4-column tab stops, leaving the rest of the line alone.  Used
// to normalize indentation in the build-system and source files of
// converted trees.
//
// The filter is a pure function over byte chunks.  All carry-over
// between chunks lives in an explicit FilterState, so content may be
// fed in arbitrary slices (a line can straddle a chunk boundary) and
// the output is identical to filtering the whole buffer at once.
//
// SPDX-License-Identifier: BSD-2-Clause

package main

import (
	"bytes"
	"path/filepath"
	"strings"
)

const tabWidth = 4

// FilterState carries line position across chunk boundaries.  The zero
// value is start-of-line.
type FilterState struct {
	column        int  // expanded width of the leading whitespace so far
	pendingSpaces int  // spaces owed but not yet written
	nonSpaceSeen  bool // past the leading whitespace of the current line
}

// filterTabs expands leading-whitespace tabs in chunk, starting from
// state, and returns the filtered bytes plus the state to pass with
// the next chunk.  Spaces in leading whitespace are withheld until a
// tab stop is resolved, so a tab advances to the next multiple of
// tabWidth rather than always widening by tabWidth.
func filterTabs(chunk []byte, state FilterState) ([]byte, FilterState) {
	var out bytes.Buffer
	out.Grow(len(chunk))
	for _, c := range chunk {
		if c == '\n' {
			for ; state.pendingSpaces > 0; state.pendingSpaces-- {
				out.WriteByte(' ')
			}
			out.WriteByte(c)
			state = FilterState{}
			continue
		}
		if state.nonSpaceSeen {
			out.WriteByte(c)
			continue
		}
		switch c {
		case ' ':
			state.column++
			state.pendingSpaces++
		case '\t':
			adv := tabWidth - state.column%tabWidth
			state.column += adv
			state.pendingSpaces += adv
		default:
			for ; state.pendingSpaces > 0; state.pendingSpaces-- {
				out.WriteByte(' ')
			}
			state.nonSpaceSeen = true
			out.WriteByte(c)
		}
	}
	return out.Bytes(), state
}

// flush returns the spaces still owed when the input ends inside the
// leading whitespace of an unterminated final line.
func (state FilterState) flush() []byte {
	return bytes.Repeat([]byte{' '}, state.pendingSpaces)
}

// Suffixes of files whose content goes through the tab filter.
var filterSuffixes = map[string]bool{
	"c": true, "cpp": true, "cxx": true, "h": true, "hrc": true,
	"hxx": true, "idl": true, "inl": true, "java": true, "map": true,
	"mk": true, "pmk": true, "pl": true, "pm": true, "sdi": true,
	"sh": true, "src": true, "tab": true, "xcu": true, "xml": true,
}

// wantsTabFilter gates the filter on the file's suffix.
func wantsTabFilter(fname string) bool {
	ext := filepath.Ext(fname)
	if ext == "" {
		return false
	}
	return filterSuffixes[strings.ToLower(ext[1:])]
}

// end
