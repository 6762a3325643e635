// repomapper audits and updates repofission committer tables
package main

// SPDX-License-Identifier: BSD-2-Clause
//
// A committer table associates source-VCS logins with git identities,
// one entry per line:
//
//	jrandom "J. Random Hacker" <jrh@users.example.org>
//
// Besides the table itself, repomapper understands two kinds of helper
// files: Unix password files, mined for GECOS full names, and plain
// author lists as produced by "svn log -q" postprocessing or
// "hg log --template '{author}\n'", one login per line.  Logins seen
// in an author list but missing from the table get stub entries so the
// conversion will not have to synthesize identities on the fly.

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	shlex "github.com/anmitsu/go-shlex"
)

// Committer associates a login with a git-style identity.
type Committer struct {
	name     string
	fullname string
	email    string
	definite bool
}

// Does this entry need completion?
func (cb *Committer) incomplete() bool {
	return cb.name == cb.fullname || !strings.Contains(cb.email, "@")
}

// Stringer renders a Committer in rereadable form.
func (cb *Committer) Stringer() string {
	fullname := cb.fullname
	if strings.Contains(fullname, " ") {
		fullname = "\"" + fullname + "\""
	}
	return fmt.Sprintf("%s %s <%s>\n", cb.name, fullname, cb.email)
}

// CommitterTable is a table of committers indexed by login.
type CommitterTable map[string]Committer

/* apply a specified function to each line of a file */
func bylines(fn string, hook func(string)) {
	file, err := os.Open(fn)
	if err != nil {
		log.Fatal(err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		hook(scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		log.Fatal(err)
	}
}

// NewCommitterTable initializes a committer table from a file.
func NewCommitterTable(fn string) CommitterTable {
	ct := make(map[string]Committer)

	digest := func(line string) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			return
		}
		fields, err := shlex.Split(line, true)
		if err != nil || len(fields) < 2 {
			log.Fatalf("repomapper: ill-formed table line %q.", line)
		}
		v := Committer{
			name:     fields[0],
			fullname: strings.Join(fields[1:len(fields)-1], " "),
			email:    strings.Trim(fields[len(fields)-1], "<>"),
		}
		if v.fullname == "" {
			v.fullname = v.name
		}
		v.definite = strings.Contains(v.email, "@")
		ct[v.name] = v
	}
	bylines(fn, digest)
	return ct
}

// Suffix adds an address suffix to entries lacking one.
func (ct *CommitterTable) Suffix(addr string) {
	for k, obj := range *ct {
		if !strings.Contains(obj.email, "@") {
			obj.email += "@" + addr
			(*ct)[k] = obj
		}
	}
}

/* Write the current state of this committer table. */
func (ct *CommitterTable) Write(fp *os.File, incomplete bool) {
	keys := make([]string, 0)
	for k := range *ct {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, name := range keys {
		item := (*ct)[name]
		if incomplete && !item.incomplete() {
			continue
		}
		fmt.Fprint(fp, item.Stringer())
	}
}

// Manifest constants describing the Unix password DSV format
const pwdFLDSEP = ":" // field separator
const pwdNAME = 0     // field index of username
const pwdGECOS = 4    // field index of fullname
const pwdFLDCOUNT = 7 // required number of fields

func main() {
	var host string
	var incomplete bool

	flag.StringVar(&host, "h", "", "set host for suffixing")
	flag.BoolVar(&incomplete, "i", false, "dump incomplete entries")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintf(os.Stderr,
			"repomapper: requires a committer-table file argument.\n")
		os.Exit(1)
	}

	// Read in the existing attributions.
	committers := NewCommitterTable(flag.Arg(0))

	// Apply the -h option
	if host != "" {
		committers.Suffix(host)
	}

	for i := 1; i < flag.NArg(); i++ {
		file, err := os.Open(flag.Arg(i))
		if err != nil {
			log.Fatal(err)
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)

		scanner.Scan()
		firstline := scanner.Text()
		if err := scanner.Err(); err != nil {
			log.Fatal(err)
		}

		// Is this another committer table?  Merge in entries for
		// logins we do not already know.
		if strings.Contains(firstline, "<") || (firstline != "" && firstline[0] == '#') {
			updates := NewCommitterTable(flag.Arg(i))
			for name, obj := range updates {
				if _, ok := committers[name]; !ok {
					committers[name] = obj
				}
			}
			continue
		}

		// Is this a password file?  Mine GECOS names for logins
		// still using themselves as a full name.
		if strings.Count(firstline, ":") > 3 {
			passwd := make(map[string]string)

			passwdline := func(line string) {
				fields := strings.Split(line, pwdFLDSEP)
				if len(fields) != pwdFLDCOUNT {
					fmt.Fprintf(os.Stderr,
						"repomapper: ill-formed passwd line\n")
					os.Exit(1)
				}
				name := fields[pwdNAME]
				gecos := fields[pwdGECOS]
				if strings.Contains(gecos, ",") {
					gecos = strings.Split(gecos, ",")[0]
				}
				passwd[name] = gecos
			}

			passwdline(firstline)
			for scanner.Scan() {
				passwdline(scanner.Text())
			}
			if err := scanner.Err(); err != nil {
				log.Fatal(err)
			}

			for name, obj := range committers {
				if _, ok := passwd[name]; !ok {
					fmt.Fprintf(os.Stderr,
						"repomapper: %s not in password file.\n", name)
				} else if obj.fullname == name {
					item := committers[name]
					item.fullname = passwd[name]
					item.definite = true
					committers[name] = item
				} else {
					fmt.Fprintf(os.Stderr,
						"repomapper: %s -> %s should be %s.\n",
						name, obj.fullname, passwd[name])
				}
			}
			continue
		}

		// Otherwise treat it as an author list from a walker, one
		// login per line.  Unknown logins get stub entries.
		authorline := func(line string) {
			login := strings.TrimSpace(line)
			if login == "" {
				return
			}
			if _, ok := committers[login]; !ok {
				fmt.Fprintf(os.Stderr,
					"repomapper: %s not in the committer table.\n", login)
				committers[login] = Committer{
					name:     login,
					fullname: login,
					email:    login,
				}
			}
		}
		authorline(firstline)
		for scanner.Scan() {
			authorline(scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			log.Fatal(err)
		}
	}

	// By default, report all entries
	committers.Write(os.Stdout, incomplete)
}

// end
