// Command vdbedbg is an interactive stepper for hand-built VDBE programs,
// run against a real Pager/WAL-backed database file. There is no SQL
// parser in this tree (an external collaborator's job), so programs are
// chosen from a small built-in library by name rather than compiled from
// text.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/pflag"

	"github.com/tuannm99/novasql/internal/pager"
)

func main() {
	var (
		dbPath   = pflag.StringP("db", "d", "vdbedbg.db", "database file to open")
		pageSize = pflag.IntP("page-size", "p", 4096, "page size for a freshly created database")
		program  = pflag.StringP("program", "P", "", "load a demo program by name and exit after running to completion")
	)
	pflag.Parse()

	p, err := pager.Open(*dbPath, pager.Config{PageSize: *pageSize})
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = p.Close() }()

	sess := newSession(p)

	if *program != "" {
		if err := sess.load(*program); err != nil {
			fmt.Fprintf(os.Stderr, "load: %v\n", err)
			os.Exit(1)
		}
		sess.runToCompletion()
		return
	}

	repl(sess)
}

func repl(sess *session) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "vdbedbg> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "readline: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = rl.Close() }()

	fmt.Println("vdbedbg -- step a hand-built VDBE program against a real pager")
	fmt.Println("type \\help for commands")

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			fmt.Println()
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !sess.dispatch(line) {
			return
		}
	}
}
