package testutil

import "github.com/vk/symsteer/internal/program"

// Loc builds a source location.
func Loc(file string, line int) program.Location {
	return program.Location{File: file, Line: line}
}

// Branchy is a small server program:
//
//	main:  plain(1); branch(2) -> then, else
//	then:  call net.send(3); return(4)
//	else:  return(5)
//
// net.send has no body, so calling it records an output.
type Branchy struct {
	Module     *program.Module
	Main       *program.Function
	Send       *program.Function
	Branch     *program.Instruction
	SendCall   *program.Instruction
	ElseReturn *program.Instruction
}

// NewBranchy builds the Branchy fixture in server.go.
func NewBranchy() *Branchy {
	b := &Branchy{Module: program.NewModule("server")}
	b.Send = b.Module.NewFunction("net.send")
	b.Main = b.Module.NewFunction("main.main")
	entry := b.Main.NewBlock("entry")
	then := b.Main.NewBlock("then")
	els := b.Main.NewBlock("else")
	entry.Plain(Loc("server.go", 1))
	b.Branch = entry.Branch(Loc("server.go", 2), then, els)
	b.SendCall = then.Call(b.Send, Loc("server.go", 3))
	then.Return(Loc("server.go", 4))
	b.ElseReturn = els.Return(Loc("server.go", 5))
	return b
}
