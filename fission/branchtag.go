// Branch and tag semantics: splitting source paths into (branch, file)
// pairs and resolving directory-copy events into branch creations, tag
// creations, or ordinary copies.
//
// Tags do not become git annotated-tag objects here.  Each tag is
// materialized as a tracking branch under tag-branches/ carrying a
// forced commit in every destination, plus registered metadata; turning
// the tracking branches into real tags is a cheap post-pass for the
// consumer, which knows the final object hashes.
//
// SPDX-License-Identifier: BSD-2-Clause

package main

import (
	"strings"
)

// Namespace prefix for tag tracking branches.
const tagTempBranch = "tag-branches/"

// Layout holds the path bases that mark the trunk/branches/tags
// structure of the source repository.
type Layout struct {
	trunkBase string // the trunk directory itself, no trailing slash
	trunk     string // prefix of paths on trunk
	branches  string // prefix of branch roots
	tags      string // prefix of tag roots
}

func newLayout(trunk string, branches string, tags string) Layout {
	trunk = strings.TrimSuffix(trunk, "/")
	return Layout{
		trunkBase: trunk,
		trunk:     trunk + "/",
		branches:  strings.TrimSuffix(branches, "/") + "/",
		tags:      strings.TrimSuffix(tags, "/") + "/",
	}
}

// split decomposes a source path into the branch it lives on and the
// in-branch file path.  Trunk maps to master; a tag root maps to its
// tracking branch.  An empty fname means the path is a bare branch or
// tag root.  Paths outside the recognized structure return ok false.
func (lay *Layout) split(path string) (branch string, fname string, ok bool) {
	if path == lay.trunkBase {
		return "master", "", true
	}
	if strings.HasPrefix(path, lay.trunk) {
		return "master", path[len(lay.trunk):], true
	}
	if strings.HasPrefix(path, lay.branches) {
		rest := path[len(lay.branches):]
		if i := strings.Index(rest, "/"); i >= 0 {
			return rest[:i], rest[i+1:], true
		}
		return rest, "", true
	}
	if strings.HasPrefix(path, lay.tags) {
		rest := path[len(lay.tags):]
		if i := strings.Index(rest, "/"); i >= 0 {
			return tagTempBranch + rest[:i], rest[i+1:], true
		}
		return tagTempBranch + rest, "", true
	}
	return "", "", false
}

// Directory-copy verdicts.
type copyVerdict int

const (
	ordinaryCopy copyVerdict = iota
	branchCreation
	tagCreation
)

// classifyDirCopy decides what a directory copy means.  A copy whose
// destination is a bare branch or tag root and whose source also lies
// inside the recognized structure is a creation; everything else is an
// ordinary copy to be decomposed into per-file operations.
func (lay *Layout) classifyDirCopy(ev *PathEvent) (copyVerdict, string, string) {
	if ev.CopyPath == "" {
		return ordinaryCopy, "", ""
	}
	dstBranch, dstFname, ok := lay.split(ev.Path)
	if !ok || dstFname != "" {
		return ordinaryCopy, "", ""
	}
	srcBranch, _, ok := lay.split(ev.CopyPath)
	if !ok {
		return ordinaryCopy, "", ""
	}
	if strings.HasPrefix(dstBranch, tagTempBranch) {
		return tagCreation, dstBranch[len(tagTempBranch):], srcBranch
	}
	return branchCreation, dstBranch, srcBranch
}

// Tag is the registered metadata for one tag tracking branch.  A tag
// that moves (Mercurial re-tagging) keeps one entry, updated in place.
type Tag struct {
	name      string
	tagBranch string
	committer Committer
	date      Date
	log       string
}

func (registry *Registry) registerTag(name string, tagBranch string,
	committer Committer, date Date, log string) {
	if tag, ok := registry.tags[name]; ok {
		tag.committer = committer
		tag.date = date
		tag.log = log
		if logEnable(logEVENTS) {
			logit("tag %s moved", name)
		}
		return
	}
	registry.tags[name] = &Tag{name, tagBranch, committer, date, log}
	registry.tagNames = append(registry.tagNames, name)
}

// createBranchOrTag fans a branch or tag creation out to every
// destination as a forced commit parented on the nearest prior commit
// of the source branch in that destination.
func (registry *Registry) createBranchOrTag(isBranch bool, fromRev revidx,
	fromBranch string, committer Committer, name string, rev revidx,
	date Date, log string) {
	if !isBranch {
		if registry.ignoreTag(name) {
			if logEnable(logEVENTS) {
				logit("tag %s ignored by configuration", name)
			}
			return
		}
		tagBranch := tagTempBranch + name
		for _, repo := range registry.repos {
			repo.createBranch(fromRev, fromBranch, committer, tagBranch, rev, date, log)
		}
		registry.registerTag(name, tagBranch, committer, date, log)
		return
	}
	for _, repo := range registry.repos {
		repo.createBranch(fromRev, fromBranch, committer, name, rev, date, log)
	}
}

// directoryEvent resolves one directory-level path event.  Creations
// are handled here; ordinary directory copies are decomposed into
// per-file copies through the TreeReader, which walkers that cannot
// pre-decompose must supply.  Directory adds carry no content and are
// dropped; directory deletes broadcast, since the subtree may span
// destinations and a D on an absent path is harmless.
func (registry *Registry) directoryEvent(ev *PathEvent, rec *RevisionRecord,
	committer Committer, log string) error {
	switch ev.Action {
	case opAdd:
		// A bare directory add carries no content; one with a copy
		// source is a copy in add's clothing and classifies below.
		if ev.CopyPath == "" {
			return nil
		}
	case opDelete:
		for _, repo := range registry.repos {
			repo.deleteFile(ev.Path)
		}
		return nil
	case opCopy:
		// fall through below
	default:
		panic(throw("event", "unexpected directory event action %q on %s",
			string(ev.Action), ev.Path))
	}
	verdict, name, srcBranch := registry.layout.classifyDirCopy(ev)
	switch verdict {
	case branchCreation:
		registry.createBranchOrTag(true, ev.CopyRev, srcBranch,
			committer, name, rec.Rev, rec.Date, log)
	case tagCreation:
		registry.createBranchOrTag(false, ev.CopyRev, srcBranch,
			committer, name, rec.Rev, rec.Date, log)
	case ordinaryCopy:
		if registry.trees == nil {
			panic(throw("event",
				"r%d: undecomposed directory copy %s -> %s and no tree reader",
				rec.Rev, ev.CopyPath, ev.Path))
		}
		files, err := registry.trees.FilesUnder(ev.CopyRev, ev.CopyPath)
		if err != nil {
			panic(throw("event", "r%d: listing %s at r%d: %v",
				rec.Rev, ev.CopyPath, ev.CopyRev, err))
		}
		// Emitted paths are in-branch; strip the layout prefix when
		// the copy endpoints carry one.
		dst, src := ev.Path, ev.CopyPath
		if _, fname, ok := registry.layout.split(dst); ok {
			dst = fname
		}
		if _, fname, ok := registry.layout.split(src); ok {
			src = fname
		}
		for _, rel := range files {
			sub := PathEvent{
				Action:   opCopy,
				Path:     dst + "/" + rel,
				CopyRev:  ev.CopyRev,
				CopyPath: src + "/" + rel,
			}
			registry.routeAndRecord(&sub)
		}
	}
	return nil
}

// end
