// Destination repositories and the registry that routes into them.
//
// A Repository is one output target of the split: a git fast-import
// command stream plus the per-destination bookkeeping needed to keep
// its commit graph consistent while one source revision fans out onto
// several destinations.  The Registry owns all of them and is the
// fan-out API the revision loop drives.
//
// SPDX-License-Identifier: BSD-2-Clause

package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	orderedset "github.com/emirpasic/gods/sets/linkedhashset"
	shellquote "github.com/kballard/go-shellquote"
	"golang.org/x/text/encoding"
	ianaindex "golang.org/x/text/encoding/ianaindex"
)

// Short types for these save space in large per-revision arrays.
type markidx uint32   // Mark indices, local to one destination stream
type revidx uint32    // Source revision indices
type branchidx uint16 // Branch handles, local to one destination

const emptyMark = markidx(0)
const noBranch = branchidx(0)

func (m markidx) String() string {
	if m == emptyMark {
		return ""
	}
	return fmt.Sprintf(":%d", m)
}

// BranchLedger remembers, per destination, which branch was committed
// at each source revision and under what mark.  Entries are appended
// monotonically and never removed.  When the maximum revision count is
// known upfront the backing array is preallocated; otherwise it grows.
type BranchLedger struct {
	branches []branchidx
	marks    []markidx
}

func newBranchLedger(maxRevs revidx) *BranchLedger {
	bl := new(BranchLedger)
	if maxRevs > 0 {
		bl.branches = make([]branchidx, maxRevs+1)
		bl.marks = make([]markidx, maxRevs+1)
	}
	return bl
}

func (bl *BranchLedger) set(rev revidx, branch branchidx, mark markidx) {
	for revidx(len(bl.branches)) <= rev {
		bl.branches = append(bl.branches, noBranch)
		bl.marks = append(bl.marks, emptyMark)
	}
	bl.branches[rev] = branch
	bl.marks[rev] = mark
}

func (bl *BranchLedger) branchAt(rev revidx) branchidx {
	if rev >= revidx(len(bl.branches)) {
		return noBranch
	}
	return bl.branches[rev]
}

// findCommit locates the most recent commit on branch at or before rev:
// the largest r' <= rev with an entry for branch.  A miss is not an
// error; it is the "first commit on this branch in this destination"
// case.  Cost is O(rev) but it runs only at branch/tag creation and
// merge events, never per file.
func (bl *BranchLedger) findCommit(rev revidx, branch branchidx) (revidx, markidx, bool) {
	if len(bl.branches) == 0 || branch == noBranch {
		return 0, emptyMark, false
	}
	r := int(rev)
	if r >= len(bl.branches) {
		r = len(bl.branches) - 1
	}
	for ; r >= 0; r-- {
		if bl.branches[r] == branch {
			return revidx(r), bl.marks[r], true
		}
	}
	return 0, emptyMark, false
}

// Repository is one destination of the split.
type Repository struct {
	name          string
	matcher       *regexp.Regexp
	importCommand string

	// Pending state for the revision currently being routed.  The
	// copy log is kept apart from the change log because copies
	// must be materialized before any same-revision delete of
	// their source path.
	changes bytes.Buffer
	copies  bytes.Buffer

	mark         markidx // mark allocator, local namespace
	branches     map[string]branchidx
	branchNames  []string
	ledger       *BranchLedger
	forceFrom    markidx // parent override for the next commit
	hasForceFrom bool

	out      io.Writer
	buffered *bufio.Writer
	file     *os.File
	pipe     io.WriteCloser
	importer *exec.Cmd
}

func newRepository(name string, pattern string, maxRevs revidx) (*Repository, error) {
	matcher, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("destination %q: bad selector pattern %q: %v", name, pattern, err)
	}
	repo := new(Repository)
	repo.name = name
	repo.matcher = matcher
	repo.branches = make(map[string]branchidx)
	repo.ledger = newBranchLedger(maxRevs)
	return repo, nil
}

// matches says whether a path belongs to this repository.
func (repo *Repository) matches(fname string) bool {
	return repo.matcher.MatchString(fname)
}

// newmark allocates the next local identifier, used to tag blob and
// commit objects for forward reference before any content hash exists.
func (repo *Repository) newmark() markidx {
	repo.mark++
	return repo.mark
}

func (repo *Repository) branchID(name string) branchidx {
	if id, ok := repo.branches[name]; ok {
		return id
	}
	repo.branchNames = append(repo.branchNames, name)
	id := branchidx(len(repo.branchNames))
	repo.branches[name] = id
	return id
}

func (repo *Repository) branchName(id branchidx) string {
	if id == noBranch || int(id) > len(repo.branchNames) {
		return ""
	}
	return repo.branchNames[id-1]
}

// quotifyPath wraps a path in fast-import quoting when it needs it.
func quotifyPath(fname string) string {
	if strings.ContainsAny(fname, " \"\\\n") {
		return strconv.Quote(fname)
	}
	return fname
}

// modifyFile emits the blob record for the new content immediately and
// buffers the M directive for the commit that will reference it.
func (repo *Repository) modifyFile(fname string, mode string, content []byte) {
	blobmark := repo.newmark()
	fmt.Fprintf(repo.out, "blob\nmark %s\ndata %d\n", blobmark, len(content))
	repo.out.Write(content)
	repo.out.Write([]byte{'\n'})
	fmt.Fprintf(&repo.changes, "M %s %s %s\n", mode, blobmark, quotifyPath(fname))
}

// deleteFile buffers a D directive.
func (repo *Repository) deleteFile(fname string) {
	fmt.Fprintf(&repo.changes, "D %s\n", quotifyPath(fname))
}

// copyFile buffers a C directive in the copy log, which is emitted
// ahead of the change log.
func (repo *Repository) copyFile(src string, dst string) {
	fmt.Fprintf(&repo.copies, "C %s %s\n", quotifyPath(src), quotifyPath(dst))
}

func (repo *Repository) hasPending() bool {
	return repo.changes.Len() > 0 || repo.copies.Len() > 0
}

// commit renders one commit unit for this destination.  It is a no-op
// unless there is pending state or the commit is forced (branch/tag
// creation with no content change).  On success the pending logs are
// cleared, the ledger entry for rev is set, and the new commit's mark
// is returned.
func (repo *Repository) commit(committer Committer, branch string, rev revidx,
	date Date, log string, merges []revidx, force bool) markidx {
	if !repo.hasPending() && !force {
		return emptyMark
	}
	b := repo.branchID(branch)
	commitmark := repo.newmark()
	fmt.Fprintf(repo.out, "commit refs/heads/%s\n", branch)
	fmt.Fprintf(repo.out, "mark %s\n", commitmark)
	fmt.Fprintf(repo.out, "committer %s <%s> %s\n", committer.fullname, committer.email, date)
	fmt.Fprintf(repo.out, "data %d\n%s\n", len(log), log)
	from := emptyMark
	if repo.hasForceFrom {
		from = repo.forceFrom
		repo.hasForceFrom = false
	} else if _, mark, ok := repo.ledger.findCommit(rev, b); ok {
		from = mark
	}
	if from != emptyMark {
		fmt.Fprintf(repo.out, "from %s\n", from)
	}
	for _, parentRev := range merges {
		if _, mark, ok := repo.ledger.findCommit(parentRev, b); ok && mark != from {
			fmt.Fprintf(repo.out, "merge %s\n", mark)
		}
	}
	io.Copy(repo.out, &repo.copies)
	io.Copy(repo.out, &repo.changes)
	repo.out.Write([]byte{'\n'})
	repo.copies.Reset()
	repo.changes.Reset()
	repo.ledger.set(rev, b, commitmark)
	return commitmark
}

// createBranch starts branch name at rev from the most recent commit
// this destination made on fromBranch at or before fromRev.  When the
// resolution misses this is the destination's first commit on the new
// branch and the forced commit goes out unparented.
func (repo *Repository) createBranch(fromRev revidx, fromBranch string,
	committer Committer, name string, rev revidx, date Date, log string) markidx {
	if fb, ok := repo.branches[fromBranch]; ok {
		if fromR, mark, ok2 := repo.ledger.findCommit(fromRev, fb); ok2 {
			repo.forceFrom = mark
			repo.hasForceFrom = true
			if logEnable(logEMIT) {
				logit("%s: branch %s starts from r%d (%s)", repo.name, name, fromR, mark)
			}
		}
	}
	if !repo.hasForceFrom && logEnable(logWARN) {
		logit("%s: no ancestor for branch %s (wanted %s at or before r%d); starting unparented",
			repo.name, name, fromBranch, fromRev)
	}
	return repo.commit(committer, name, rev, date, log, nil, true)
}

func (repo *Repository) close() error {
	if repo.buffered != nil {
		if err := repo.buffered.Flush(); err != nil {
			return fmt.Errorf("flushing %s: %v", repo.name, err)
		}
	}
	if repo.file != nil {
		if err := repo.file.Close(); err != nil {
			return fmt.Errorf("closing %s: %v", repo.name, err)
		}
	}
	if repo.pipe != nil {
		if err := repo.pipe.Close(); err != nil {
			return fmt.Errorf("closing pipe to %s's importer: %v", repo.name, err)
		}
	}
	if repo.importer != nil {
		if err := repo.importer.Wait(); err != nil {
			return fmt.Errorf("importer for %s failed: %v", repo.name, err)
		}
	}
	return nil
}

// Registry owns every destination, the global ignore lists, and the
// fan-out API the revision source drives.
type Registry struct {
	repos      []*Repository
	layout     Layout
	committers *Committers
	ignoreRevs map[revidx]bool
	ignoreTags *orderedset.Set
	tags       map[string]*Tag
	tagNames   []string
	filterTabs bool
	decoder    *encoding.Decoder
	trees      TreeReader
	maxRevs    revidx
}

// newRegistry builds the destination set from configuration.  A
// destination with an uncompilable selector is dropped with a
// complaint; the run only dies if nothing usable remains.
func newRegistry(cfg *Config, committers *Committers) (*Registry, error) {
	registry := new(Registry)
	registry.layout = cfg.layout()
	registry.committers = committers
	registry.ignoreRevs = make(map[revidx]bool)
	registry.ignoreTags = orderedset.New()
	registry.tags = make(map[string]*Tag)
	registry.filterTabs = cfg.FilterTabs
	registry.maxRevs = revidx(cfg.MaxRevisions)
	for _, rev := range cfg.IgnoreRevisions {
		registry.ignoreRevs[revidx(rev)] = true
	}
	for _, name := range cfg.IgnoreTags {
		registry.ignoreTags.Add(name)
	}
	if cfg.Encoding != "" {
		enc, err := ianaindex.IANA.Encoding(cfg.Encoding)
		if err != nil || enc == nil {
			return nil, fmt.Errorf("unknown source encoding %q", cfg.Encoding)
		}
		registry.decoder = enc.NewDecoder()
	}
	for _, rc := range cfg.Repositories {
		repo, err := newRepository(rc.Name, rc.Match, registry.maxRevs)
		if err != nil {
			croak("%v; dropping it", err)
			continue
		}
		repo.importCommand = rc.ImportCommand
		registry.repos = append(registry.repos, repo)
	}
	if len(registry.repos) == 0 {
		return nil, fmt.Errorf("must have at least one valid destination repository")
	}
	return registry, nil
}

// setTreeReader arms decomposition of ordinary directory copies for
// in-process walkers that can enumerate past trees.
func (registry *Registry) setTreeReader(trees TreeReader) {
	registry.trees = trees
}

// openSinks connects every destination to its output: a stream file
// under outdir, or a spawned consumer process when the destination
// configures an import command.
func (registry *Registry) openSinks(outdir string) error {
	for _, repo := range registry.repos {
		if repo.importCommand != "" {
			words, err := shellquote.Split(repo.importCommand)
			if err != nil || len(words) == 0 {
				return fmt.Errorf("destination %q: bad import command %q: %v",
					repo.name, repo.importCommand, err)
			}
			cmd := exec.Command(words[0], words[1:]...)
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			stdin, err := cmd.StdinPipe()
			if err != nil {
				return fmt.Errorf("destination %q: %v", repo.name, err)
			}
			if err := cmd.Start(); err != nil {
				return fmt.Errorf("destination %q: could not start %q: %v",
					repo.name, repo.importCommand, err)
			}
			repo.importer = cmd
			repo.pipe = stdin
			repo.out = stdin
		} else {
			fp, err := os.Create(filepath.Join(outdir, repo.name+".fi"))
			if err != nil {
				return fmt.Errorf("destination %q: %v", repo.name, err)
			}
			repo.file = fp
			repo.buffered = bufio.NewWriter(fp)
			repo.out = repo.buffered
		}
	}
	return nil
}

// get routes a path to the first destination whose selector matches,
// or nil.  Routing is a partial function; no match is not an error.
func (registry *Registry) get(fname string) *Repository {
	for _, repo := range registry.repos {
		if repo.matches(fname) {
			return repo
		}
	}
	return nil
}

// recode transcodes walker-supplied text from the configured legacy
// encoding.  Undecodable text is passed through as-is.
func (registry *Registry) recode(text string) string {
	if registry.decoder == nil {
		return text
	}
	out, err := registry.decoder.String(text)
	if err != nil {
		return text
	}
	return out
}

// ignoreRevision says whether a source revision is globally skipped.
func (registry *Registry) ignoreRevision(rev revidx) bool {
	return registry.ignoreRevs[rev]
}

// ignoreTag says whether a tag name is globally skipped.
func (registry *Registry) ignoreTag(name string) bool {
	return registry.ignoreTags.Contains(name)
}

// hasParent reports whether any destination committed at rev; walkers
// use it to drop changesets whose parents fell outside the exported
// range.
func (registry *Registry) hasParent(rev revidx) bool {
	for _, repo := range registry.repos {
		if repo.ledger.branchAt(rev) != noBranch {
			return true
		}
	}
	return false
}

// routeAndRecord buffers one file-level path event into the matching
// destination.  An unmatched path is silently dropped.
func (registry *Registry) routeAndRecord(ev *PathEvent) {
	repo := registry.get(ev.Path)
	if repo == nil {
		if logEnable(logEVENTS) {
			logit("no destination for %s; dropped", ev.Path)
		}
		return
	}
	switch ev.Action {
	case opAdd, opModify:
		mode := "100644"
		if ev.Flags == "x" {
			mode = "100755"
		} else if ev.Flags != "" {
			croak("got an unknown flag %q on %s; cannot handle e.g. symlinks, storing as a regular file",
				ev.Flags, ev.Path)
		}
		content := ev.Content
		if registry.filterTabs && wantsTabFilter(ev.Path) {
			filtered, fstate := filterTabs(content, FilterState{})
			content = append(filtered, fstate.flush()...)
		}
		repo.modifyFile(ev.Path, mode, content)
	case opDelete:
		repo.deleteFile(ev.Path)
	case opCopy:
		repo.copyFile(ev.CopyPath, ev.Path)
	default:
		panic(throw("event", "unexpected file event action %q on %s", string(ev.Action), ev.Path))
	}
	if logEnable(logEVENTS) {
		logit("%c %s -> %s", ev.Action, ev.Path, repo.name)
	}
}

// commitAll flushes every destination with pending state, emitting one
// independent commit per destination.  Each commit carries the
// unmodified message and author and references only its own
// destination's changes and ancestry.
func (registry *Registry) commitAll(committer Committer, branch string, rev revidx,
	date Date, log string, parents []revidx) {
	var merges []revidx
	if len(parents) > 1 {
		merges = parents[1:]
	}
	for _, repo := range registry.repos {
		mark := repo.commit(committer, branch, rev, date, log, merges, false)
		if mark != emptyMark && logEnable(logEMIT) {
			logit("r%d -> %s %s on %s", rev, repo.name, mark, branch)
		}
	}
}

// exportRevision processes one revision record end to end: route every
// path event, resolve branch/tag creations, then flush commits.
func (registry *Registry) exportRevision(rec *RevisionRecord) (err error) {
	defer func(e *error) {
		if thrown := catch("event", recover()); thrown != nil {
			*e = thrown
		}
	}(&err)

	if registry.ignoreRevision(rec.Rev) {
		if logEnable(logEVENTS) {
			logit("r%d ignored by configuration", rec.Rev)
		}
		return nil
	}
	committer := registry.committers.getAuthor(rec.Author)
	log := registry.recode(rec.Log)
	branch := rec.Branch
	if branch == "" {
		branch = "master"
	}
	for i := range rec.Events {
		ev := &rec.Events[i]
		if ev.Action == opTag {
			registry.createBranchOrTag(false, ev.CopyRev, branch,
				committer, ev.Path, rec.Rev, rec.Date, log)
			continue
		}
		if ev.Dir {
			if err := registry.directoryEvent(ev, rec, committer, log); err != nil {
				return err
			}
			continue
		}
		registry.routeAndRecord(ev)
	}
	registry.commitAll(committer, branch, rec.Rev, rec.Date, log, rec.Parents)
	control.baton.percentProgress(uint64(rec.Rev))
	return nil
}

// close flushes and closes every destination and reports the tags that
// accumulated on tracking branches.
func (registry *Registry) close() error {
	var firsterr error
	for _, repo := range registry.repos {
		if err := repo.close(); err != nil {
			croak("%v", err)
			if firsterr == nil {
				firsterr = err
			}
		}
	}
	for _, name := range registry.tagNames {
		tag := registry.tags[name]
		logit("tag %s is tracked by branch %s (%s)", tag.name, tag.tagBranch, tag.committer.who())
	}
	return firsterr
}

// end
