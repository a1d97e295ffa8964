package kernel

import (
	"math/rand"

	"github.com/sarchlab/kernelsim/mem/vm"
	"github.com/sarchlab/kernelsim/proc"
	"github.com/sarchlab/kernelsim/sim/id"
)

// A WorkloadGenerator creates synthetic processes. The same seed always
// produces the same programs.
type WorkloadGenerator struct {
	rng           *rand.Rand
	pids          id.PIDGenerator
	maxPrio       int
	programLength int
	numRegions    int
	maxRegionSize uint32
}

// NewWorkloadGenerator creates a generator of programs with about
// programLength instructions each.
func NewWorkloadGenerator(
	seed int64,
	pids id.PIDGenerator,
	maxPrio, programLength, numRegions int,
) *WorkloadGenerator {
	return &WorkloadGenerator{
		rng:           rand.New(rand.NewSource(seed)),
		pids:          pids,
		maxPrio:       maxPrio,
		programLength: programLength,
		numRegions:    min(numRegions, 4),
		maxRegionSize: 1024,
	}
}

// Generate creates n processes.
func (g *WorkloadGenerator) Generate(n int) []*proc.Proc {
	procs := make([]*proc.Proc, 0, n)

	for i := 0; i < n; i++ {
		procs = append(procs, proc.New(
			vm.PID(g.pids.Generate()),
			g.rng.Intn(g.maxPrio),
			uint32(g.rng.Intn(100)),
			g.program(),
		))
	}

	return procs
}

// program allocates region 0 first, so that it starts at address 0 and
// register 0, which is never written, can serve as its base. Extra regions
// are allocated and freed without being accessed.
func (g *WorkloadGenerator) program() []proc.Instruction {
	size := uint32(g.rng.Intn(int(g.maxRegionSize))) + 1

	code := []proc.Instruction{
		{Op: proc.OpAlloc, Args: [3]uint32{size, 0}},
	}

	var extra []uint32

	for len(code) < g.programLength-1 {
		offset := uint32(g.rng.Intn(int(size)))

		switch r := g.rng.Intn(10); {
		case r < 3:
			code = append(code, proc.Instruction{
				Op:   proc.OpWrite,
				Args: [3]uint32{uint32(g.rng.Intn(256)), 0, offset},
			})
		case r < 6:
			dst := uint32(g.rng.Intn(proc.NumRegs-1)) + 1
			code = append(code, proc.Instruction{
				Op:   proc.OpRead,
				Args: [3]uint32{0, offset, dst},
			})
		case r < 7 && len(extra) < g.numRegions-1:
			region := uint32(len(extra)) + 1
			extra = append(extra, region)
			code = append(code, proc.Instruction{
				Op:   proc.OpAlloc,
				Args: [3]uint32{uint32(g.rng.Intn(512)) + 1, region},
			})
		case r < 8 && len(extra) > 0:
			last := extra[len(extra)-1]
			extra = extra[:len(extra)-1]
			code = append(code, proc.Instruction{
				Op:   proc.OpFree,
				Args: [3]uint32{last},
			})
		default:
			code = append(code, proc.Instruction{Op: proc.OpCalc})
		}
	}

	return append(code, proc.Instruction{Op: proc.OpFree, Args: [3]uint32{0}})
}
