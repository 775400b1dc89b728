// Package rvasm is a minimal RV32I instruction encoder used to build user
// program images for tests, grounded on internal/asm's two-pass
// assembler (SymbolTable + Generator.Generate(symbols, pc)) — generalized
// from LC-3's 16-bit opcode table to RV32I's 32-bit instruction formats, and
// simplified from a text assembler down to a builder API called directly
// from Go, since there is no user-facing assembly source in this kernel's
// scope.
package rvasm

// Reg names the RV32I integer registers the builder's mnemonics take.
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

const (
	opLoad   = 0b0000011
	opImm    = 0b0010011
	opAUIPC  = 0b0010111
	opStore  = 0b0100011
	opReg    = 0b0110011
	opLUI    = 0b0110111
	opBranch = 0b1100011
	opJALR   = 0b1100111
	opJAL    = 0b1101111
	opSystem = 0b1110011
)

// Builder accumulates RV32I instructions and resolves label references to
// PC-relative branch/jump offsets when Build is called. Every mnemonic
// method appends exactly one instruction.
type Builder struct {
	gen     []func(pc uint32, symbols map[string]uint32) uint32
	symbols map[string]uint32
}

// NewBuilder creates an empty instruction builder.
func NewBuilder() *Builder {
	return &Builder{symbols: make(map[string]uint32)}
}

// Label records name as referring to the next instruction's address,
// relative to the image base. Labels may be referenced by branches/jumps
// emitted before or after the Label call — resolution happens once, in
// Build, after every instruction and label has been recorded.
func (b *Builder) Label(name string) {
	b.symbols[name] = uint32(len(b.gen)) * 4
}

func (b *Builder) emit(f func(pc uint32, symbols map[string]uint32) uint32) {
	b.gen = append(b.gen, f)
}

func (b *Builder) emitFixed(word uint32) {
	b.emit(func(uint32, map[string]uint32) uint32 { return word })
}

// Build resolves every label reference and returns the encoded image as
// little-endian 32-bit words.
func (b *Builder) Build() []byte {
	out := make([]byte, len(b.gen)*4)

	for i, f := range b.gen {
		word := f(uint32(i*4), b.symbols)
		out[i*4+0] = byte(word)
		out[i*4+1] = byte(word >> 8)
		out[i*4+2] = byte(word >> 16)
		out[i*4+3] = byte(word >> 24)
	}

	return out
}

func encodeR(opcode, funct3, funct7 uint32, rd, rs1, rs2 Reg) uint32 {
	return funct7<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 | funct3<<12 | uint32(rd)<<7 | opcode
}

func encodeI(opcode, funct3 uint32, rd, rs1 Reg, imm int32) uint32 {
	return uint32(imm)<<20 | uint32(rs1)<<15 | funct3<<12 | uint32(rd)<<7 | opcode
}

func encodeS(opcode, funct3 uint32, rs1, rs2 Reg, imm int32) uint32 {
	u := uint32(imm)
	hi := (u >> 5) & 0x7f
	lo := u & 0x1f

	return hi<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 | funct3<<12 | lo<<7 | opcode
}

func encodeB(opcode, funct3 uint32, rs1, rs2 Reg, imm int32) uint32 {
	u := uint32(imm)
	b12 := (u >> 12) & 1
	b11 := (u >> 11) & 1
	b10_5 := (u >> 5) & 0x3f
	b4_1 := (u >> 1) & 0xf

	return b12<<31 | b10_5<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 | funct3<<12 | b4_1<<8 | b11<<7 | opcode
}

func encodeU(opcode uint32, rd Reg, imm uint32) uint32 {
	return imm&0xfffff000 | uint32(rd)<<7 | opcode
}

func encodeJ(opcode uint32, rd Reg, imm int32) uint32 {
	u := uint32(imm)
	b20 := (u >> 20) & 1
	b10_1 := (u >> 1) & 0x3ff
	b11 := (u >> 11) & 1
	b19_12 := (u >> 12) & 0xff

	return b20<<31 | b10_1<<21 | b11<<20 | b19_12<<12 | uint32(rd)<<7 | opcode
}

// branchOffset resolves a label to a PC-relative offset from this
// instruction's own address.
func branchOffset(symbols map[string]uint32, label string, pc uint32) int32 {
	return int32(symbols[label]) - int32(pc)
}

// ADDI rd, rs1, imm
func (b *Builder) ADDI(rd, rs1 Reg, imm int32) {
	b.emitFixed(encodeI(opImm, 0b000, rd, rs1, imm))
}

// ADD rd, rs1, rs2
func (b *Builder) ADD(rd, rs1, rs2 Reg) {
	b.emitFixed(encodeR(opReg, 0b000, 0b0000000, rd, rs1, rs2))
}

// SUB rd, rs1, rs2
func (b *Builder) SUB(rd, rs1, rs2 Reg) {
	b.emitFixed(encodeR(opReg, 0b000, 0b0100000, rd, rs1, rs2))
}

// LUI rd, imm (imm is the upper 20 bits, already shifted into position)
func (b *Builder) LUI(rd Reg, imm uint32) {
	b.emitFixed(encodeU(opLUI, rd, imm))
}

// AUIPC rd, imm
func (b *Builder) AUIPC(rd Reg, imm uint32) {
	b.emitFixed(encodeU(opAUIPC, rd, imm))
}

// LB/LH/LW/LBU/LHU rd, offset(rs1)
func (b *Builder) LB(rd, rs1 Reg, offset int32) { b.emitFixed(encodeI(opLoad, 0b000, rd, rs1, offset)) }
func (b *Builder) LH(rd, rs1 Reg, offset int32) { b.emitFixed(encodeI(opLoad, 0b001, rd, rs1, offset)) }
func (b *Builder) LW(rd, rs1 Reg, offset int32) { b.emitFixed(encodeI(opLoad, 0b010, rd, rs1, offset)) }
func (b *Builder) LBU(rd, rs1 Reg, offset int32) {
	b.emitFixed(encodeI(opLoad, 0b100, rd, rs1, offset))
}
func (b *Builder) LHU(rd, rs1 Reg, offset int32) {
	b.emitFixed(encodeI(opLoad, 0b101, rd, rs1, offset))
}

// SB/SH/SW rs2, offset(rs1)
func (b *Builder) SB(rs1, rs2 Reg, offset int32) {
	b.emitFixed(encodeS(opStore, 0b000, rs1, rs2, offset))
}

func (b *Builder) SH(rs1, rs2 Reg, offset int32) {
	b.emitFixed(encodeS(opStore, 0b001, rs1, rs2, offset))
}

func (b *Builder) SW(rs1, rs2 Reg, offset int32) {
	b.emitFixed(encodeS(opStore, 0b010, rs1, rs2, offset))
}

// JAL rd, label
func (b *Builder) JAL(rd Reg, label string) {
	b.emit(func(pc uint32, symbols map[string]uint32) uint32 {
		return encodeJ(opJAL, rd, branchOffset(symbols, label, pc))
	})
}

// JALR rd, rs1, imm
func (b *Builder) JALR(rd, rs1 Reg, imm int32) {
	b.emitFixed(encodeI(opJALR, 0b000, rd, rs1, imm))
}

// branch emits one of the six RV32I conditional branches against label.
func (b *Builder) branch(funct3 uint32, rs1, rs2 Reg, label string) {
	b.emit(func(pc uint32, symbols map[string]uint32) uint32 {
		return encodeB(opBranch, funct3, rs1, rs2, branchOffset(symbols, label, pc))
	})
}

func (b *Builder) BEQ(rs1, rs2 Reg, label string)  { b.branch(0b000, rs1, rs2, label) }
func (b *Builder) BNE(rs1, rs2 Reg, label string)  { b.branch(0b001, rs1, rs2, label) }
func (b *Builder) BLT(rs1, rs2 Reg, label string)  { b.branch(0b100, rs1, rs2, label) }
func (b *Builder) BGE(rs1, rs2 Reg, label string)  { b.branch(0b101, rs1, rs2, label) }
func (b *Builder) BLTU(rs1, rs2 Reg, label string) { b.branch(0b110, rs1, rs2, label) }
func (b *Builder) BGEU(rs1, rs2 Reg, label string) { b.branch(0b111, rs1, rs2, label) }

// ECALL traps to the kernel.
func (b *Builder) ECALL() {
	b.emitFixed(encodeI(opSystem, 0, X0, X0, 0))
}
