package rvcpu

// exec.go is the instruction cycle: Fetch, Execute. Grounded on the
// teacher's vm.LC3.Step (internal/vm/exec.go), collapsed from six stages
// to two because RV32I's regular encoding lets Execute decode and act on
// an instruction in one switch, the way a real RV32I interpreter loop is
// usually written.

import (
	"errors"
	"fmt"

	"github.com/rv32k/kernel/internal/mem"
)

// ErrIllegalInstruction is returned when Execute encounters an opcode or
// funct3/funct7 combination outside the subset this interpreter supports.
var ErrIllegalInstruction = errors.New("rvcpu: illegal instruction")

// Step runs one instruction to completion: fetch, decode, execute,
// advance PC (unless the instruction set it directly).
func (cpu *CPU) Step() error {
	instr, err := cpu.fetch()
	if err != nil {
		return fmt.Errorf("rvcpu: step: %w", err)
	}

	cpu.log.Debug("fetched", "pc", fmt.Sprintf("%#x", uint32(cpu.PC)), "instr", instr)

	nextPC := cpu.PC + 4

	if err := cpu.execute(instr, &nextPC); err != nil {
		return fmt.Errorf("rvcpu: step: %w", err)
	}

	cpu.PC = nextPC

	return nil
}

// Run steps the CPU until stop reports true or a step returns an error
// (including the sentinel errors a syscall handler uses to request that
// the scheduler take over, such as a process exiting).
func (cpu *CPU) Run(stop func(*CPU) bool) error {
	for {
		if stop != nil && stop(cpu) {
			return nil
		}

		if err := cpu.Step(); err != nil {
			return err
		}
	}
}

func (cpu *CPU) execute(instr Instruction, nextPC *mem.Vaddr) error {
	rd, rs1, rs2 := instr.RD(), instr.RS1(), instr.RS2()

	switch instr.Opcode() {
	case opLUI:
		cpu.Reg.Set(rd, uint32(instr.UImm()))

	case opAUIPC:
		cpu.Reg.Set(rd, uint32(cpu.PC)+uint32(instr.UImm()))

	case opJAL:
		cpu.Reg.Set(rd, uint32(cpu.PC+4))
		*nextPC = cpu.PC + mem.Vaddr(instr.JImm())

	case opJALR:
		target := (cpu.Reg.Get(rs1) + uint32(instr.IImm())) &^ 1
		cpu.Reg.Set(rd, uint32(cpu.PC+4))
		*nextPC = mem.Vaddr(target)

	case opBranch:
		if cpu.branchTaken(instr) {
			*nextPC = cpu.PC + mem.Vaddr(instr.BImm())
		}

	case opLoad:
		return cpu.execLoad(instr, rd, rs1)

	case opStore:
		return cpu.execStore(instr, rs1, rs2)

	case opImm:
		cpu.execOpImm(instr, rd, rs1)

	case opReg:
		cpu.execOpReg(instr, rd, rs1, rs2)

	case opSystem:
		return cpu.execSystem(instr)

	default:
		return fmt.Errorf("%w: %s", ErrIllegalInstruction, instr)
	}

	return nil
}

func (cpu *CPU) branchTaken(instr Instruction) bool {
	a := cpu.Reg.Get(instr.RS1())
	b := cpu.Reg.Get(instr.RS2())

	switch instr.Funct3() {
	case 0b000: // BEQ
		return a == b
	case 0b001: // BNE
		return a != b
	case 0b100: // BLT
		return int32(a) < int32(b)
	case 0b101: // BGE
		return int32(a) >= int32(b)
	case 0b110: // BLTU
		return a < b
	case 0b111: // BGEU
		return a >= b
	default:
		return false
	}
}

func (cpu *CPU) execLoad(instr Instruction, rd, rs1 Reg) error {
	addr := mem.Vaddr(int32(cpu.Reg.Get(rs1)) + instr.IImm())

	switch instr.Funct3() {
	case 0b000: // LB
		v, err := cpu.loadByte(addr)
		if err != nil {
			return err
		}

		cpu.Reg.Set(rd, uint32(int32(int8(v))))

	case 0b001: // LH
		v, err := cpu.loadHalf(addr)
		if err != nil {
			return err
		}

		cpu.Reg.Set(rd, uint32(int32(int16(v))))

	case 0b010: // LW
		v, err := cpu.loadWord(addr)
		if err != nil {
			return err
		}

		cpu.Reg.Set(rd, v)

	case 0b100: // LBU
		v, err := cpu.loadByte(addr)
		if err != nil {
			return err
		}

		cpu.Reg.Set(rd, uint32(v))

	case 0b101: // LHU
		v, err := cpu.loadHalf(addr)
		if err != nil {
			return err
		}

		cpu.Reg.Set(rd, uint32(v))

	default:
		return fmt.Errorf("%w: %s", ErrIllegalInstruction, instr)
	}

	return nil
}

func (cpu *CPU) execStore(instr Instruction, rs1, rs2 Reg) error {
	addr := mem.Vaddr(int32(cpu.Reg.Get(rs1)) + instr.SImm())
	v := cpu.Reg.Get(rs2)

	switch instr.Funct3() {
	case 0b000: // SB
		return cpu.storeByte(addr, uint8(v))
	case 0b001: // SH
		return cpu.storeHalf(addr, uint16(v))
	case 0b010: // SW
		return cpu.storeWord(addr, v)
	default:
		return fmt.Errorf("%w: %s", ErrIllegalInstruction, instr)
	}
}

func (cpu *CPU) execOpImm(instr Instruction, rd, rs1 Reg) {
	a := cpu.Reg.Get(rs1)
	imm := instr.IImm()

	switch instr.Funct3() {
	case 0b000: // ADDI
		cpu.Reg.Set(rd, a+uint32(imm))
	case 0b010: // SLTI
		cpu.Reg.Set(rd, boolToWord(int32(a) < imm))
	case 0b011: // SLTIU
		cpu.Reg.Set(rd, boolToWord(a < uint32(imm)))
	case 0b100: // XORI
		cpu.Reg.Set(rd, a^uint32(imm))
	case 0b110: // ORI
		cpu.Reg.Set(rd, a|uint32(imm))
	case 0b111: // ANDI
		cpu.Reg.Set(rd, a&uint32(imm))
	case 0b001: // SLLI
		cpu.Reg.Set(rd, a<<(uint32(imm)&0x1f))
	case 0b101: // SRLI/SRAI
		shamt := uint32(imm) & 0x1f
		if instr.Funct7()&0x20 != 0 {
			cpu.Reg.Set(rd, uint32(int32(a)>>shamt))
		} else {
			cpu.Reg.Set(rd, a>>shamt)
		}
	}
}

func (cpu *CPU) execOpReg(instr Instruction, rd, rs1, rs2 Reg) {
	a := cpu.Reg.Get(rs1)
	b := cpu.Reg.Get(rs2)

	switch instr.Funct3() {
	case 0b000: // ADD/SUB
		if instr.Funct7()&0x20 != 0 {
			cpu.Reg.Set(rd, a-b)
		} else {
			cpu.Reg.Set(rd, a+b)
		}
	case 0b001: // SLL
		cpu.Reg.Set(rd, a<<(b&0x1f))
	case 0b010: // SLT
		cpu.Reg.Set(rd, boolToWord(int32(a) < int32(b)))
	case 0b011: // SLTU
		cpu.Reg.Set(rd, boolToWord(a < b))
	case 0b100: // XOR
		cpu.Reg.Set(rd, a^b)
	case 0b101: // SRL/SRA
		if instr.Funct7()&0x20 != 0 {
			cpu.Reg.Set(rd, uint32(int32(a)>>(b&0x1f)))
		} else {
			cpu.Reg.Set(rd, a>>(b&0x1f))
		}
	case 0b110: // OR
		cpu.Reg.Set(rd, a|b)
	case 0b111: // AND
		cpu.Reg.Set(rd, a&b)
	}
}

// execSystem handles ecall; the kernel never emits ebreak, csrrw, or the
// other SYSTEM-opcode instructions, so anything but ecall is illegal.
func (cpu *CPU) execSystem(instr Instruction) error {
	if instr.Funct3() != 0 || instr.IImm() != 0 {
		return fmt.Errorf("%w: %s", ErrIllegalInstruction, instr)
	}

	if cpu.ecall == nil {
		return fmt.Errorf("rvcpu: ecall with no handler installed")
	}

	return cpu.ecall.HandleECall(cpu)
}

func boolToWord(b bool) uint32 {
	if b {
		return 1
	}

	return 0
}
