package pool

// Parallel is the "parallel" option. The zero value means no workers.
type Parallel struct {
	// Auto asks for one worker per core, minus the core the scheduler uses.
	Auto bool
	// Max is an explicit worker count, capped by the core count.
	Max int
}

// AvailableConcurrency turns the option into a worker count for a machine
// with the given number of logical cores.
func AvailableConcurrency(p Parallel, cores int) int {
	limit := cores - 1
	n := limit
	if !p.Auto {
		n = min(p.Max, limit)
	}
	return max(n, 0)
}

// Size is the number of workers worth starting for a pass over tasks
// assets. Zero or less means run everything in-process.
func Size(p Parallel, cores, tasks int) int {
	return min(AvailableConcurrency(p, cores), tasks)
}
