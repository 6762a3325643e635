package main

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"testing"

	difflib "github.com/ianbruene/go-difflib/difflib"
)

func TestMain(m *testing.M) {
	control.init(false)
	os.Exit(m.Run())
}

func assertBool(t *testing.T, see bool, expect bool) {
	t.Helper()
	if see != expect {
		t.Errorf("assertBool: expected %v saw %v", expect, see)
	}
}

func assertTrue(t *testing.T, see bool) {
	t.Helper()
	assertBool(t, see, true)
}

func assertEqual(t *testing.T, a string, b string) {
	t.Helper()
	if a != b {
		t.Fatalf("assertEqual: expected %q == %q", a, b)
	}
}

func assertIntEqual(t *testing.T, a int, b int) {
	t.Helper()
	if a != b {
		t.Errorf("assertIntEqual: expected %d == %d", a, b)
	}
}

func assertStreamEqual(t *testing.T, expected string, saw string) {
	t.Helper()
	if expected != saw {
		diff := difflib.UnifiedDiff{
			A:        difflib.SplitLines(expected),
			B:        difflib.SplitLines(saw),
			FromFile: "expected",
			ToFile:   "saw",
			Context:  3,
		}
		text, _ := difflib.GetUnifiedDiffString(diff)
		t.Errorf("stream mismatch:\n%s", text)
	}
}

// testRegistry builds a registry with in-memory sinks.
func testRegistry(t *testing.T, repos ...RepoConfig) *Registry {
	t.Helper()
	cfg := &Config{Repositories: repos, MaxRevisions: 16}
	committers, err := loadCommitters("")
	if err != nil {
		t.Fatal(err)
	}
	committers.table["esr"] = Committer{"esr", "Eric S. Raymond", "esr@thyrsus.com"}
	registry, err := newRegistry(cfg, committers)
	if err != nil {
		t.Fatal(err)
	}
	for _, repo := range registry.repos {
		repo.out = new(bytes.Buffer)
	}
	return registry
}

func sinkOf(t *testing.T, registry *Registry, name string) *bytes.Buffer {
	t.Helper()
	for _, repo := range registry.repos {
		if repo.name == name {
			return repo.out.(*bytes.Buffer)
		}
	}
	t.Fatalf("no destination named %q", name)
	return nil
}

func testRev(rev revidx, parents []revidx, events ...PathEvent) *RevisionRecord {
	return &RevisionRecord{
		Rev:     rev,
		Author:  "esr",
		Date:    newDate(100000+int64(rev), 0),
		Log:     fmt.Sprintf("commit %d", rev),
		Parents: parents,
		Events:  events,
	}
}

func TestMarkString(t *testing.T) {
	assertEqual(t, emptyMark.String(), "")
	assertEqual(t, markidx(3).String(), ":3")
	assertEqual(t, markidx(41).String(), ":41")
}

func TestQuotifyPath(t *testing.T) {
	assertEqual(t, quotifyPath("src/main.c"), "src/main.c")
	assertEqual(t, quotifyPath("has space.c"), `"has space.c"`)
	assertEqual(t, quotifyPath(`odd"name`), `"odd\"name"`)
}

func TestBranchLedger(t *testing.T) {
	bl := newBranchLedger(0)
	_, _, ok := bl.findCommit(10, 1)
	assertBool(t, ok, false)

	bl.set(5, 1, 3)
	rev, mark, ok := bl.findCommit(10, 1)
	assertTrue(t, ok)
	assertIntEqual(t, int(rev), 5)
	assertIntEqual(t, int(mark), 3)

	_, _, ok = bl.findCommit(4, 1)
	assertBool(t, ok, false)

	bl.set(8, 2, 7)
	rev, mark, ok = bl.findCommit(9, 1)
	assertTrue(t, ok)
	assertIntEqual(t, int(rev), 5)
	assertIntEqual(t, int(mark), 3)
	rev, mark, ok = bl.findCommit(8, 2)
	assertTrue(t, ok)
	assertIntEqual(t, int(rev), 8)
	assertIntEqual(t, int(mark), 7)

	// A preallocated ledger behaves identically.
	bl2 := newBranchLedger(20)
	bl2.set(5, 1, 3)
	rev, mark, ok = bl2.findCommit(20, 1)
	assertTrue(t, ok)
	assertIntEqual(t, int(rev), 5)
	assertIntEqual(t, int(mark), 3)
}

func TestRouting(t *testing.T) {
	registry := testRegistry(t,
		RepoConfig{Name: "core", Match: "^src/"},
		RepoConfig{Name: "also-src", Match: "^src/"},
		RepoConfig{Name: "rest", Match: ""})
	assertEqual(t, registry.get("src/main.c").name, "core")
	assertEqual(t, registry.get("README").name, "rest")

	registry2 := testRegistry(t, RepoConfig{Name: "only", Match: "^doc/"})
	if registry2.get("src/main.c") != nil {
		t.Error("expected no destination for src/main.c")
	}
}

func TestBadSelectorDropped(t *testing.T) {
	cfg := &Config{Repositories: []RepoConfig{
		{Name: "broken", Match: "(["},
		{Name: "ok", Match: ""},
	}}
	committers, _ := loadCommitters("")
	registry, err := newRegistry(cfg, committers)
	if err != nil {
		t.Fatal(err)
	}
	assertIntEqual(t, len(registry.repos), 1)
	assertEqual(t, registry.repos[0].name, "ok")
	control.returnValue = 0

	cfg2 := &Config{Repositories: []RepoConfig{{Name: "broken", Match: "(["}}}
	if _, err := newRegistry(cfg2, committers); err == nil {
		t.Error("expected an error with no usable destinations")
	}
	control.returnValue = 0
}

func TestTwoWaySplit(t *testing.T) {
	registry := testRegistry(t,
		RepoConfig{Name: "core", Match: "^src/"},
		RepoConfig{Name: "docs", Match: ""})

	r1 := testRev(1, nil,
		PathEvent{Action: opAdd, Path: "src/main.c", Content: []byte("int main()\n")},
		PathEvent{Action: opAdd, Path: "README", Content: []byte("hello\n")})
	if err := registry.exportRevision(r1); err != nil {
		t.Fatal(err)
	}
	r2 := testRev(2, []revidx{1},
		PathEvent{Action: opModify, Path: "src/main.c", Content: []byte("int main(void)\n")})
	if err := registry.exportRevision(r2); err != nil {
		t.Fatal(err)
	}

	// Each destination allocates marks and resolves ancestry in its
	// own namespace, and both carry the unmodified message.
	expectedCore := "blob\n" +
		"mark :1\n" +
		"data 11\n" +
		"int main()\n" +
		"\n" +
		"commit refs/heads/master\n" +
		"mark :2\n" +
		"committer Eric S. Raymond <esr@thyrsus.com> 100001 +0000\n" +
		"data 8\n" +
		"commit 1\n" +
		"M 100644 :1 src/main.c\n" +
		"\n" +
		"blob\n" +
		"mark :3\n" +
		"data 15\n" +
		"int main(void)\n" +
		"\n" +
		"commit refs/heads/master\n" +
		"mark :4\n" +
		"committer Eric S. Raymond <esr@thyrsus.com> 100002 +0000\n" +
		"data 8\n" +
		"commit 2\n" +
		"from :2\n" +
		"M 100644 :3 src/main.c\n" +
		"\n"
	expectedDocs := "blob\n" +
		"mark :1\n" +
		"data 6\n" +
		"hello\n" +
		"\n" +
		"commit refs/heads/master\n" +
		"mark :2\n" +
		"committer Eric S. Raymond <esr@thyrsus.com> 100001 +0000\n" +
		"data 8\n" +
		"commit 1\n" +
		"M 100644 :1 README\n" +
		"\n"
	assertStreamEqual(t, expectedCore, sinkOf(t, registry, "core").String())
	assertStreamEqual(t, expectedDocs, sinkOf(t, registry, "docs").String())
}

func TestNoOpCommit(t *testing.T) {
	registry := testRegistry(t, RepoConfig{Name: "only", Match: ""})
	repo := registry.repos[0]
	mark := repo.commit(Committer{"esr", "Eric S. Raymond", "esr@thyrsus.com"},
		"master", 1, newDate(100001, 0), "nothing here", nil, false)
	assertIntEqual(t, int(mark), int(emptyMark))
	assertIntEqual(t, sinkOf(t, registry, "only").Len(), 0)
}

func TestCopyBeforeDelete(t *testing.T) {
	registry := testRegistry(t, RepoConfig{Name: "only", Match: ""})
	repo := registry.repos[0]
	repo.deleteFile("old/name.c")
	repo.copyFile("old/name.c", "new/name.c")
	repo.commit(Committer{"esr", "Eric S. Raymond", "esr@thyrsus.com"},
		"master", 1, newDate(100001, 0), "rename", nil, false)
	out := sinkOf(t, registry, "only").String()
	ci := strings.Index(out, "C old/name.c new/name.c\n")
	di := strings.Index(out, "D old/name.c\n")
	if ci < 0 || di < 0 {
		t.Fatalf("missing fileop in %q", out)
	}
	if ci > di {
		t.Errorf("copy must precede the delete of its source:\n%s", out)
	}
}

func TestExecutableAndUnknownFlags(t *testing.T) {
	registry := testRegistry(t, RepoConfig{Name: "only", Match: ""})
	registry.routeAndRecord(&PathEvent{Action: opAdd, Path: "tool.sh",
		Flags: "x", Content: []byte("#!/bin/sh\n")})
	registry.routeAndRecord(&PathEvent{Action: opAdd, Path: "alias",
		Flags: "l", Content: []byte("target\n")})
	changes := registry.repos[0].changes.String()
	assertTrue(t, strings.Contains(changes, "M 100755 :1 tool.sh\n"))
	assertTrue(t, strings.Contains(changes, "M 100644 :2 alias\n"))
	assertIntEqual(t, control.returnValue, 1)
	control.returnValue = 0
}

func TestBranchCreation(t *testing.T) {
	registry := testRegistry(t, RepoConfig{Name: "only", Match: ""})
	for rev := revidx(1); rev <= 5; rev++ {
		rec := testRev(rev, nil,
			PathEvent{Action: opModify, Path: "file.c",
				Content: []byte(fmt.Sprintf("state %d\n", rev))})
		if err := registry.exportRevision(rec); err != nil {
			t.Fatal(err)
		}
	}
	repo := registry.repos[0]
	rev, mark, ok := repo.ledger.findCommit(6, repo.branches["master"])
	assertTrue(t, ok)
	assertIntEqual(t, int(rev), 5)
	assertIntEqual(t, int(mark), 10)

	rec := testRev(6, []revidx{5},
		PathEvent{Action: opCopy, Dir: true, Path: "branches/stable",
			CopyRev: 5, CopyPath: "trunk"})
	if err := registry.exportRevision(rec); err != nil {
		t.Fatal(err)
	}
	out := sinkOf(t, registry, "only").String()
	assertTrue(t, strings.Contains(out, "commit refs/heads/stable\nmark :11\n"))
	assertTrue(t, strings.Contains(out, "from :10\n"))
}

func TestUnparentedCreation(t *testing.T) {
	registry := testRegistry(t, RepoConfig{Name: "only", Match: ""})
	registry.createBranchOrTag(true, 3, "master",
		Committer{"esr", "Eric S. Raymond", "esr@thyrsus.com"},
		"orphan", 4, newDate(100004, 0), "late start")
	out := sinkOf(t, registry, "only").String()
	assertTrue(t, strings.Contains(out, "commit refs/heads/orphan\n"))
	assertBool(t, strings.Contains(out, "from "), false)
}

func TestTagCreation(t *testing.T) {
	registry := testRegistry(t, RepoConfig{Name: "only", Match: ""})
	rec := testRev(1, nil,
		PathEvent{Action: opModify, Path: "file.c", Content: []byte("one\n")})
	if err := registry.exportRevision(rec); err != nil {
		t.Fatal(err)
	}
	rec = testRev(2, []revidx{1},
		PathEvent{Action: opCopy, Dir: true, Path: "tags/v1.0",
			CopyRev: 1, CopyPath: "trunk"})
	if err := registry.exportRevision(rec); err != nil {
		t.Fatal(err)
	}
	out := sinkOf(t, registry, "only").String()
	assertTrue(t, strings.Contains(out, "commit refs/heads/tag-branches/v1.0\n"))
	assertIntEqual(t, len(registry.tagNames), 1)
	assertEqual(t, registry.tags["v1.0"].tagBranch, "tag-branches/v1.0")

	// Re-tagging moves the metadata, not the name list.
	registry.createBranchOrTag(false, 2, "master",
		Committer{"esr", "Eric S. Raymond", "esr@thyrsus.com"},
		"v1.0", 3, newDate(100003, 0), "moved tag")
	assertIntEqual(t, len(registry.tagNames), 1)
	assertEqual(t, registry.tags["v1.0"].log, "moved tag")
}

func TestIgnoredTag(t *testing.T) {
	registry := testRegistry(t, RepoConfig{Name: "only", Match: ""})
	registry.ignoreTags.Add("junk")
	before := sinkOf(t, registry, "only").Len()
	registry.createBranchOrTag(false, 1, "master",
		Committer{"esr", "Eric S. Raymond", "esr@thyrsus.com"},
		"junk", 2, newDate(100002, 0), "bogus tag")
	assertIntEqual(t, sinkOf(t, registry, "only").Len(), before)
	assertIntEqual(t, len(registry.tagNames), 0)
}

func TestIgnoredRevision(t *testing.T) {
	registry := testRegistry(t, RepoConfig{Name: "only", Match: ""})
	registry.ignoreRevs[3] = true
	rec := testRev(3, nil,
		PathEvent{Action: opModify, Path: "file.c", Content: []byte("junk\n")})
	if err := registry.exportRevision(rec); err != nil {
		t.Fatal(err)
	}
	assertIntEqual(t, sinkOf(t, registry, "only").Len(), 0)
}

func TestHasParent(t *testing.T) {
	registry := testRegistry(t, RepoConfig{Name: "only", Match: ""})
	assertBool(t, registry.hasParent(1), false)
	rec := testRev(1, nil,
		PathEvent{Action: opModify, Path: "file.c", Content: []byte("one\n")})
	if err := registry.exportRevision(rec); err != nil {
		t.Fatal(err)
	}
	assertTrue(t, registry.hasParent(1))
	assertBool(t, registry.hasParent(2), false)
}

func TestMergeParents(t *testing.T) {
	registry := testRegistry(t, RepoConfig{Name: "only", Match: ""})
	for rev := revidx(1); rev <= 2; rev++ {
		rec := testRev(rev, nil,
			PathEvent{Action: opModify, Path: "file.c",
				Content: []byte(fmt.Sprintf("state %d\n", rev))})
		if err := registry.exportRevision(rec); err != nil {
			t.Fatal(err)
		}
	}
	rec := testRev(3, []revidx{2, 1},
		PathEvent{Action: opModify, Path: "file.c", Content: []byte("merged\n")})
	if err := registry.exportRevision(rec); err != nil {
		t.Fatal(err)
	}
	out := sinkOf(t, registry, "only").String()
	assertTrue(t, strings.Contains(out, "from :4\nmerge :2\n"))

	// A merge parent that resolves to the linear parent is dropped.
	rec = testRev(4, []revidx{3, 3},
		PathEvent{Action: opModify, Path: "file.c", Content: []byte("again\n")})
	if err := registry.exportRevision(rec); err != nil {
		t.Fatal(err)
	}
	out = sinkOf(t, registry, "only").String()
	assertTrue(t, strings.Contains(out, "from :6\n"))
	assertIntEqual(t, strings.Count(out, "merge "), 1)
}

type fakeTrees struct {
	files map[string][]string
}

func (ft *fakeTrees) FilesUnder(rev revidx, dir string) ([]string, error) {
	return ft.files[dir], nil
}

func TestOrdinaryDirCopy(t *testing.T) {
	registry := testRegistry(t, RepoConfig{Name: "only", Match: ""})
	registry.setTreeReader(&fakeTrees{files: map[string][]string{
		"trunk/lib": {"a.c", "sub/b.c"},
	}})
	rec := testRev(1, nil,
		PathEvent{Action: opModify, Path: "lib/a.c", Content: []byte("a\n")},
		PathEvent{Action: opModify, Path: "lib/sub/b.c", Content: []byte("b\n")})
	if err := registry.exportRevision(rec); err != nil {
		t.Fatal(err)
	}
	rec = testRev(2, []revidx{1},
		PathEvent{Action: opCopy, Dir: true, Path: "trunk/lib2",
			CopyRev: 1, CopyPath: "trunk/lib"})
	if err := registry.exportRevision(rec); err != nil {
		t.Fatal(err)
	}
	out := sinkOf(t, registry, "only").String()
	assertTrue(t, strings.Contains(out, "C lib/a.c lib2/a.c\n"))
	assertTrue(t, strings.Contains(out, "C lib/sub/b.c lib2/sub/b.c\n"))
}

func TestUndecomposedDirCopyFails(t *testing.T) {
	registry := testRegistry(t, RepoConfig{Name: "only", Match: ""})
	rec := testRev(2, []revidx{1},
		PathEvent{Action: opCopy, Dir: true, Path: "trunk/lib2",
			CopyRev: 1, CopyPath: "trunk/lib"})
	err := registry.exportRevision(rec)
	if err == nil {
		t.Fatal("expected an error on an undecomposed directory copy")
	}
	assertTrue(t, strings.Contains(err.Error(), "no tree reader"))
}

func TestCommitCountMatchesRoutedRevisions(t *testing.T) {
	registry := testRegistry(t,
		RepoConfig{Name: "core", Match: "^src/"},
		RepoConfig{Name: "docs", Match: "^doc/"})
	paths := []string{"src/a.c", "doc/b.txt", "src/a.c", "vendor/c", "doc/b.txt"}
	coreHits, docsHits := 0, 0
	for i, path := range paths {
		rec := testRev(revidx(i+1), nil,
			PathEvent{Action: opModify, Path: path,
				Content: []byte(fmt.Sprintf("state %d\n", i))})
		if err := registry.exportRevision(rec); err != nil {
			t.Fatal(err)
		}
		if strings.HasPrefix(path, "src/") {
			coreHits++
		} else if strings.HasPrefix(path, "doc/") {
			docsHits++
		}
	}
	coreOut := sinkOf(t, registry, "core").String()
	docsOut := sinkOf(t, registry, "docs").String()
	assertIntEqual(t, strings.Count(coreOut, "commit refs/heads/"), coreHits)
	assertIntEqual(t, strings.Count(docsOut, "commit refs/heads/"), docsHits)
}

func TestTabFilterWiring(t *testing.T) {
	registry := testRegistry(t, RepoConfig{Name: "only", Match: ""})
	registry.filterTabs = true
	registry.routeAndRecord(&PathEvent{Action: opAdd, Path: "src/a.c",
		Content: []byte("\tint x;\n")})
	out := sinkOf(t, registry, "only").String()
	assertTrue(t, strings.Contains(out, "data 11\n    int x;\n"))

	// Non-source suffixes pass through untouched.
	registry.routeAndRecord(&PathEvent{Action: opAdd, Path: "notes.txt",
		Content: []byte("\tplain\n")})
	out = sinkOf(t, registry, "only").String()
	assertTrue(t, strings.Contains(out, "data 7\n\tplain\n"))
}

// end
