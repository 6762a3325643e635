// Committer identity table: maps source-VCS login names to the
// fullname/email pairs git wants on commits.
//
// The file format is one entry per line, shell-style tokens:
//
//	jrandom "J. Random Hacker" <jrh@users.example.org>
//
// Blank lines and # comments are skipped.  The angle brackets on the
// address are optional.
//
// SPDX-License-Identifier: BSD-2-Clause

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	shlex "github.com/anmitsu/go-shlex"
	orderedset "github.com/emirpasic/gods/sets/linkedhashset"
	"gitlab.com/esr/fqme"
)

type Committer struct {
	name     string // source-VCS login
	fullname string
	email    string
}

func (committer Committer) who() string {
	return fmt.Sprintf("%s <%s>", committer.fullname, committer.email)
}

// Committers is the identity table plus the bookkeeping for logins it
// does not know.
type Committers struct {
	table    map[string]Committer
	unknown  *orderedset.Set // logins already complained about
	operator *Committer      // cached fallback for an empty login
}

// loadCommitters reads an identity table.  An empty path yields an
// empty table; every lookup will then fall back to synthesis.
func loadCommitters(path string) (*Committers, error) {
	committers := &Committers{
		table:   make(map[string]Committer),
		unknown: orderedset.New(),
	}
	if path == "" {
		return committers, nil
	}
	fp, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	scanner := bufio.NewScanner(fp)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields, err := shlex.Split(line, true)
		if err != nil || len(fields) < 2 {
			croak("%s:%d: malformed committer entry %q; skipped", path, lineno, line)
			continue
		}
		login := fields[0]
		email := strings.Trim(fields[len(fields)-1], "<>")
		fullname := strings.Join(fields[1:len(fields)-1], " ")
		if fullname == "" {
			fullname = login
		}
		committers.table[login] = Committer{name: login, fullname: fullname, email: email}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %v", path, err)
	}
	return committers, nil
}

// getAuthor resolves a login to a full identity.  An unknown login is
// complained about once and then used verbatim for both fields; an
// empty login falls back to the operator running the conversion.
func (committers *Committers) getAuthor(login string) Committer {
	if login == "" {
		if committers.operator == nil {
			op := Committer{name: "", fullname: "unknown", email: "unknown"}
			if name, email, err := fqme.WhoAmI(); err == nil {
				op.fullname = name
				op.email = email
			}
			committers.operator = &op
		}
		return *committers.operator
	}
	if committer, ok := committers.table[login]; ok {
		return committer
	}
	if !committers.unknown.Contains(login) {
		committers.unknown.Add(login)
		if logEnable(logWARN) {
			logit("no identity for committer %q; using the login verbatim", login)
		}
	}
	return Committer{name: login, fullname: login, email: login}
}

// end
