package main

import (
	"fmt"
	"strings"

	"github.com/tuannm99/novasql/internal/pager"
	"github.com/tuannm99/novasql/internal/vdbe"
)

type session struct {
	pager *pager.Pager
	state *vdbe.ProgramState
	desc  string
}

func newSession(p *pager.Pager) *session {
	return &session{pager: p}
}

func (s *session) load(name string) error {
	prog, desc, err := buildDemo(name, s.pager)
	if err != nil {
		return err
	}
	s.state = vdbe.NewProgramState(prog, s.pager)
	s.desc = desc
	fmt.Printf("loaded %q: %s (%d instructions, %d registers)\n", name, desc, len(prog.Insns), prog.NumRegs)
	return nil
}

func (s *session) runToCompletion() {
	if s.state == nil {
		fmt.Println("no program loaded")
		return
	}
	for {
		res, err := s.state.Step()
		if err != nil {
			fmt.Printf("error at pc=%d: %v\n", s.state.PC, err)
			return
		}
		switch res {
		case vdbe.StepRow:
			fmt.Printf("row: %s\n", formatRow(s.state.Row()))
		case vdbe.StepDone:
			fmt.Println("done")
			return
		case vdbe.StepBusy:
			fmt.Println("busy")
			return
		case vdbe.StepInterrupt:
			fmt.Println("interrupted")
			return
		case vdbe.StepIO:
			fmt.Println("io pending; call \\step again to retry")
			return
		}
	}
}

// dispatch handles one REPL line. Returns false to end the session.
func (s *session) dispatch(line string) bool {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "\\q", "\\quit", "quit", "exit":
		return false
	case "\\help":
		printHelp()
	case "\\load":
		if len(args) != 1 {
			fmt.Println("usage: \\load <arith|coroutine|insert>")
			break
		}
		if err := s.load(args[0]); err != nil {
			fmt.Println(err)
		}
	case "\\step":
		s.step()
	case "\\run":
		s.runToCompletion()
	case "\\regs":
		s.printRegs()
	case "\\pc":
		if s.state == nil {
			fmt.Println("no program loaded")
			break
		}
		fmt.Printf("pc=%d\n", s.state.PC)
	case "\\insn":
		s.printCurrentInsn()
	default:
		fmt.Printf("unknown command %q, try \\help\n", cmd)
	}
	return true
}

func (s *session) step() {
	if s.state == nil {
		fmt.Println("no program loaded")
		return
	}
	res, err := s.state.Step()
	if err != nil {
		fmt.Printf("error at pc=%d: %v\n", s.state.PC, err)
		return
	}
	switch res {
	case vdbe.StepRow:
		fmt.Printf("row: %s\n", formatRow(s.state.Row()))
	case vdbe.StepDone:
		fmt.Println("done")
	case vdbe.StepBusy:
		fmt.Println("busy")
	case vdbe.StepInterrupt:
		fmt.Println("interrupted")
	case vdbe.StepIO:
		fmt.Println("io pending; step again to retry")
	}
}

func (s *session) printRegs() {
	if s.state == nil {
		fmt.Println("no program loaded")
		return
	}
	for i, v := range s.state.Regs {
		fmt.Printf("r%-3d %s\n", i, v.String())
	}
}

func (s *session) printCurrentInsn() {
	if s.state == nil {
		fmt.Println("no program loaded")
		return
	}
	if s.state.PC < 0 || s.state.PC >= len(s.state.Program.Insns) {
		fmt.Println("pc out of range (program finished)")
		return
	}
	insn := s.state.Program.Insns[s.state.PC]
	fmt.Printf("pc=%d op=%d p1=%d p2=%d p3=%d\n", s.state.PC, insn.Op, insn.P1, insn.P2, insn.P3)
}

func formatRow(row []vdbe.Value) string {
	parts := make([]string, len(row))
	for i, v := range row {
		parts[i] = v.String()
	}
	return strings.Join(parts, ", ")
}

func printHelp() {
	fmt.Println(`commands:
  \load <name>   load a demo program (arith, coroutine, insert)
  \step          execute one instruction
  \run           step until the program halts
  \regs          print every register's current value
  \pc            print the program counter
  \insn          print the instruction at the current pc
  \q | quit      exit`)
}
