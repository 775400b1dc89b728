package proc

// sched.go implements round-robin scheduling. Grounded on
// 17_refactoring_kernel/src/process.rs's Process::yield_proc: search the
// table starting at (current.pid + i) % PROCS_MAX for the first Runnable
// process with pid > 0, falling back to the idle process if none is
// found.
//
// The original's yield_proc also performs the literal context switch
// (install the next process's satp and sscratch, then switch_context to
// swap the kernel call stack). This simulator has no native call stack to
// swap: each Process already owns its own *rvcpu.CPU with its own
// register file, PC, and page table, so "switching" is simply changing
// which CPU the kernel's step loop is driving. Yield therefore only
// updates Table.current; internal/kernel's scheduler loop reads it back
// after every ecall to decide which CPU to step next.

// Yield selects the next runnable process, in round-robin order starting
// just after the currently running one, and makes it current. It returns
// the newly current process. If no other process is runnable, the
// currently running process is kept if it is still runnable; otherwise
// (it has exited, or only the idle process was running) the idle process
// becomes current.
//
// The scan starts at index (current.Pid + i) % ProcsMax, exactly as
// yield_proc does, rather than (current.Pid - 1 + i): the original walks
// the table by pid value used as an array index, one past the process's
// own slot, not by slot index. Preserved as-is rather than "corrected".
func (t *Table) Yield() *Process {
	next := t.idle

	if t.current != nil && t.current != t.idle {
		for i := 0; i < ProcsMax; i++ {
			idx := (t.current.Pid + i) % ProcsMax
			p := t.processes[idx]

			if p != nil && p.State == Runnable && p.Pid > 0 {
				next = p

				break
			}
		}
	} else {
		for _, p := range t.processes {
			if p != nil && p.State == Runnable && p.Pid > 0 {
				next = p

				break
			}
		}
	}

	if next == t.current {
		return t.current
	}

	t.log.Debug("yield", "from", t.current, "to", next)

	t.current = next

	return t.current
}
