package rvcpu

// words.go names the general-purpose register file, the way the teacher's
// vm.GPR names the LC-3's eight registers (internal/vm/words.go).

import "fmt"

// Reg identifies one of the 32 RV32I integer registers.
type Reg uint8

const (
	X0 Reg = iota
	RA
	SP
	GP
	TP
	T0
	T1
	T2
	S0
	S1
	A0
	A1
	A2
	A3
	A4
	A5
	A6
	A7
	S2
	S3
	S4
	S5
	S6
	S7
	S8
	S9
	S10
	S11
	T3
	T4
	T5
	T6
)

var regNames = [32]string{
	"x0", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

func (r Reg) String() string {
	if int(r) < len(regNames) {
		return regNames[r]
	}

	return fmt.Sprintf("x%d", uint8(r))
}

// RegisterFile is the general-purpose integer register file. X0 is
// hardwired to zero, as RV32I requires; Set silently discards writes to it.
type RegisterFile [32]uint32

// Get returns the value in register r.
func (rf *RegisterFile) Get(r Reg) uint32 {
	return rf[r]
}

// Set writes value to register r, except that a write to X0 is dropped.
func (rf *RegisterFile) Set(r Reg, value uint32) {
	if r == X0 {
		return
	}

	rf[r] = value
}
