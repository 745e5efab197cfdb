package optimizer

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/uzarakhq/bpsr-uza-modules/internal/logging"
	"github.com/uzarakhq/bpsr-uza-modules/internal/model"
)

// Params holds the GA's tunable defaults.
type Params struct {
	PopulationSize  int
	Generations     int
	TournamentSize  int
	CrossoverRate   float64
	MutationRate    float64
	ElitismRate     float64
	LocalSearchRate float64
	NumCampaigns    int

	// Progress, when non-nil, is invoked once per campaign as it
	// completes, reporting the highest combat-power score among every
	// campaign finished so far.
	Progress func(taskIndex, totalTasks int, highestScoreSoFar uint32)
}

// DefaultParams returns the stock GA configuration.
func DefaultParams() Params {
	return Params{
		PopulationSize:  150,
		Generations:     50,
		TournamentSize:  5,
		CrossoverRate:   0.8,
		MutationRate:    0.1,
		ElitismRate:     0.1,
		LocalSearchRate: 0.3,
		NumCampaigns:    0, // 0 means auto-detect from hardware parallelism
	}
}

// chromosome is a canonicalized 4-module combination: modules sorted
// ascending by uuid so two chromosomes with the same membership compare
// equal by CanonicalID.
type chromosome struct {
	modules [4]model.ModuleInfo
}

func canonicalize(mods [4]model.ModuleInfo) chromosome {
	sort.Slice(mods[:], func(i, j int) bool { return mods[i].UUID < mods[j].UUID })
	return chromosome{modules: mods}
}

func (c chromosome) canonicalID() [4]uint64 {
	var id [4]uint64
	for i, m := range c.modules {
		id[i] = m.UUID
	}
	return id
}

func (c chromosome) contains(uuid uint64) bool {
	for _, m := range c.modules {
		if m.UUID == uuid {
			return true
		}
	}
	return false
}

func (c chromosome) solution() model.ModuleSolution {
	sol, _ := model.NewModuleSolution(c.modules)
	return sol
}

// bestScore returns the highest combat-power Score among population, or 0
// for an empty population.
func bestScore(population []chromosome) uint32 {
	var best uint32
	for _, c := range population {
		if s := Score(c.solution()); s > best {
			best = s
		}
	}
	return best
}

// NumCampaigns resolves the configured campaign count, defaulting to
// hardware parallelism minus one (floored at 1).
func NumCampaigns(configured int) int {
	if configured > 0 {
		return configured
	}
	n := runtime.GOMAXPROCS(0) - 1
	if n < 1 {
		n = 1
	}
	return n
}

// Run executes numCampaigns independent GA campaigns over pool in
// parallel, each with its own RNG seed, and returns every campaign's
// final population pooled together. On a worker failure, the remaining
// campaigns run sequentially instead.
func Run(ctx context.Context, pool []model.ModuleInfo, criteria Criteria, params Params, log logging.Logger) ([]model.ModuleSolution, error) {
	if len(pool) < 4 {
		return nil, ErrInsufficientModules
	}

	numCampaigns := NumCampaigns(params.NumCampaigns)
	seeds := make([]int64, numCampaigns)
	for i := range seeds {
		seeds[i] = int64(i*2654435761 + 1)
	}

	results := make([][]chromosome, numCampaigns)

	var progressMu sync.Mutex
	completed := 0
	var highestScore uint32
	reportDone := func(population []chromosome) {
		if params.Progress == nil {
			return
		}
		progressMu.Lock()
		defer progressMu.Unlock()
		completed++
		if s := bestScore(population); s > highestScore {
			highestScore = s
		}
		params.Progress(completed, numCampaigns, highestScore)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < numCampaigns; i++ {
		i := i
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("campaign %d panicked: %v", i, r)
				}
			}()
			rng := rand.New(rand.NewSource(seeds[i]))
			results[i] = runCampaign(gctx, pool, criteria, params, rng)
			reportDone(results[i])
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if log != nil {
			log.WithError(err).Warn("GA campaign worker failed, falling back to sequential execution")
		}
		for i := 0; i < numCampaigns; i++ {
			if results[i] != nil {
				continue
			}
			rng := rand.New(rand.NewSource(seeds[i]))
			results[i] = runCampaign(ctx, pool, criteria, params, rng)
			reportDone(results[i])
		}
	}

	var solutions []model.ModuleSolution
	for _, population := range results {
		for _, c := range population {
			solutions = append(solutions, c.solution())
		}
	}
	return solutions, nil
}

// runCampaign runs one full GA campaign: initialization, generations of
// selection/crossover/mutation/elitism/local-search, returning the final
// population.
func runCampaign(ctx context.Context, pool []model.ModuleInfo, criteria Criteria, params Params, rng *rand.Rand) []chromosome {
	population := initializePopulation(pool, params.PopulationSize, rng)
	if len(population) == 0 {
		return nil
	}

	for gen := 0; gen < params.Generations; gen++ {
		select {
		case <-ctx.Done():
			return population
		default:
		}

		population = nextGeneration(population, pool, criteria, params, rng)
	}
	return population
}

// initializePopulation draws distinct uniform random 4-combinations,
// capped at min(populationSize, C(|pool|,4)).
func initializePopulation(pool []model.ModuleInfo, populationSize int, rng *rand.Rand) []chromosome {
	maxCombos := combinations(len(pool), 4)
	target := populationSize
	if maxCombos < target {
		target = maxCombos
	}
	if target <= 0 {
		return nil
	}

	seen := make(map[[4]uint64]struct{}, target)
	var population []chromosome
	attempts := 0
	maxAttempts := target * 50
	for len(population) < target && attempts < maxAttempts {
		attempts++
		c := randomChromosome(pool, rng)
		id := c.canonicalID()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		population = append(population, c)
	}
	return population
}

func combinations(n, k int) int {
	if n < k {
		return 0
	}
	result := 1
	for i := 0; i < k; i++ {
		result = result * (n - i) / (i + 1)
	}
	return result
}

func randomChromosome(pool []model.ModuleInfo, rng *rand.Rand) chromosome {
	idx := rng.Perm(len(pool))[:4]
	var mods [4]model.ModuleInfo
	for i, j := range idx {
		mods[i] = pool[j]
	}
	return canonicalize(mods)
}

// nextGeneration produces one generation: elitism, then tournament
// selection + crossover + mutation to fill the rest, then local search on
// the top slice.
func nextGeneration(population []chromosome, pool []model.ModuleInfo, criteria Criteria, params Params, rng *rand.Rand) []chromosome {
	ranked := rankByFitness(population, criteria)

	eliteCount := int(float64(len(ranked)) * params.ElitismRate)
	next := make([]chromosome, 0, len(ranked))
	for i := 0; i < eliteCount && i < len(ranked); i++ {
		next = append(next, ranked[i].c)
	}

	for len(next) < len(ranked) {
		parentA := tournamentSelect(ranked, params.TournamentSize, rng)
		parentB := tournamentSelect(ranked, params.TournamentSize, rng)

		childA, childB := parentA, parentB
		if rng.Float64() < params.CrossoverRate {
			childA, childB = crossover(parentA, parentB)
		}
		childA = mutate(childA, pool, params.MutationRate, rng)
		next = append(next, childA)
		if len(next) < len(ranked) {
			childB = mutate(childB, pool, params.MutationRate, rng)
			next = append(next, childB)
		}
	}

	localSearchCount := int(float64(len(next)) * params.LocalSearchRate)
	rankedNext := rankByFitness(next, criteria)
	for i := 0; i < localSearchCount && i < len(rankedNext); i++ {
		rankedNext[i].c = hillClimb(rankedNext[i].c, pool, criteria)
	}

	out := make([]chromosome, len(rankedNext))
	for i, r := range rankedNext {
		out[i] = r.c
	}
	return out
}

type ranked struct {
	c       chromosome
	fitness float64
}

func rankByFitness(population []chromosome, criteria Criteria) []ranked {
	out := make([]ranked, len(population))
	for i, c := range population {
		out[i] = ranked{c: c, fitness: Fitness(c.solution(), criteria)}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].fitness > out[j].fitness })
	return out
}

func tournamentSelect(ranked []ranked, size int, rng *rand.Rand) chromosome {
	if len(ranked) == 0 {
		return chromosome{}
	}
	best := ranked[rng.Intn(len(ranked))]
	for i := 1; i < size; i++ {
		candidate := ranked[rng.Intn(len(ranked))]
		if candidate.fitness > best.fitness {
			best = candidate
		}
	}
	return best.c
}

// crossover builds child A from parent A's first two modules plus parent
// B's first two modules not already present, and child B symmetrically.
// If a child can't reach 4 distinct modules this way, it falls back to a
// copy of its own parent.
func crossover(a, b chromosome) (chromosome, chromosome) {
	childA := buildChild(a, b)
	childB := buildChild(b, a)
	return childA, childB
}

func buildChild(primary, secondary chromosome) chromosome {
	var mods [4]model.ModuleInfo
	mods[0], mods[1] = primary.modules[0], primary.modules[1]
	count := 2
	for _, m := range secondary.modules {
		if count == 4 {
			break
		}
		if m.UUID == mods[0].UUID || m.UUID == mods[1].UUID {
			continue
		}
		dup := false
		for i := 2; i < count; i++ {
			if mods[i].UUID == m.UUID {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		mods[count] = m
		count++
	}
	if count < 4 {
		return primary
	}
	return canonicalize(mods)
}

func mutate(c chromosome, pool []model.ModuleInfo, rate float64, rng *rand.Rand) chromosome {
	if rng.Float64() >= rate {
		return c
	}
	pos := rng.Intn(4)

	candidates := make([]model.ModuleInfo, 0, len(pool))
	for _, m := range pool {
		if !c.contains(m.UUID) {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return c
	}

	mods := c.modules
	mods[pos] = candidates[rng.Intn(len(candidates))]
	return canonicalize(mods)
}

// hillClimb applies first-improvement-over-positions, best-improvement-
// over-candidates local search until no position improves.
func hillClimb(c chromosome, pool []model.ModuleInfo, criteria Criteria) chromosome {
	current := c
	currentFitness := Fitness(current.solution(), criteria)

	for {
		improved := false
		for pos := 0; pos < 4; pos++ {
			bestCandidate := current
			bestFitness := currentFitness
			found := false

			for _, m := range pool {
				if current.contains(m.UUID) {
					continue
				}
				mods := current.modules
				mods[pos] = m
				candidate := canonicalize(mods)
				f := Fitness(candidate.solution(), criteria)
				if f > bestFitness {
					bestFitness = f
					bestCandidate = candidate
					found = true
				}
			}

			if found {
				current = bestCandidate
				currentFitness = bestFitness
				improved = true
				break
			}
		}
		if !improved {
			break
		}
	}
	return current
}
