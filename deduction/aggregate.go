package deduction

import (
	"slices"
	"strconv"
	"strings"
)

// Status summarizes how an analysis ended.
type Status string

const (
	StatusConclusive   Status = "conclusive"
	StatusNoWorlds     Status = "no_worlds"
	StatusInconclusive Status = "inconclusive"
)

// Result is the outcome of one analysis. Probabilities are percentages.
type Result struct {
	Status      Status                        `json:"status"`
	Worlds      int                           `json:"worlds"`
	Evil        map[string]float64            `json:"evil"`
	Demon       map[string]float64            `json:"demon"`
	Correlation map[string]map[string]float64 `json:"correlation"`
	Malformed   []Malformed                   `json:"malformed,omitempty"`
}

func (t *table) emptyResult(status Status) *Result {
	res := &Result{
		Status:      status,
		Evil:        make(map[string]float64, len(t.players)),
		Demon:       make(map[string]float64, len(t.players)),
		Correlation: make(map[string]map[string]float64, len(t.players)),
		Malformed:   t.malformed,
	}
	for _, p := range t.players {
		res.Evil[p] = 0
		res.Demon[p] = 0
		res.Correlation[p] = make(map[string]float64, len(t.players))
		for _, q := range t.players {
			res.Correlation[p][q] = 0
		}
	}
	return res
}

// aggregate weighs deduplicated worlds into marginal probabilities and the
// co-suspicion matrix.
func (t *table) aggregate(worlds []*World) *Result {
	if len(worlds) == 0 {
		return t.emptyResult(StatusNoWorlds)
	}
	res := t.emptyResult(StatusConclusive)
	res.Worlds = len(worlds)

	n := len(t.players)
	evil := make([]float64, n)
	demon := make([]float64, n)
	total := 0.0
	teams := make(map[string][]int)
	for _, w := range worlds {
		weight := Weight(w)
		total += weight
		var team []int
		for seat := range n {
			if t.evil(w, seat) {
				evil[seat] += weight
				team = append(team, seat)
			}
		}
		if d := w.Demon(); d != NoSeat {
			demon[d] += weight
		}
		teams[teamKey(team)] = team
	}

	for seat, p := range t.players {
		res.Evil[p] = 100 * evil[seat] / total
		res.Demon[p] = 100 * demon[seat] / total
	}

	// Correlation counts distinct evil teams, unweighted: the share of teams
	// containing p that also contain q.
	with := make([]int, n)
	both := make([][]int, n)
	for i := range both {
		both[i] = make([]int, n)
	}
	keys := make([]string, 0, len(teams))
	for k := range teams {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		team := teams[k]
		for _, a := range team {
			with[a]++
			for _, b := range team {
				both[a][b]++
			}
		}
	}
	for a, p := range t.players {
		if with[a] == 0 {
			continue
		}
		for b, q := range t.players {
			res.Correlation[p][q] = float64(both[a][b]) / float64(with[a])
		}
	}
	return res
}

func teamKey(team []int) string {
	parts := make([]string, len(team))
	for i, s := range team {
		parts[i] = strconv.Itoa(s)
	}
	return strings.Join(parts, ",")
}
