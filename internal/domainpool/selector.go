package domainpool

import (
	"math/rand"
	"sort"
)

// activeDomains filters to selection-eligible domains.
func activeDomains(domains []*Domain) []*Domain {
	out := make([]*Domain, 0, len(domains))
	for _, d := range domains {
		if d.Status == StatusActive {
			out = append(out, d)
		}
	}
	return out
}

func sortByOrder(domains []*Domain) {
	sort.Slice(domains, func(i, j int) bool {
		if domains[i].Order != domains[j].Order {
			return domains[i].Order < domains[j].Order
		}
		return domains[i].ID < domains[j].ID
	})
}

// pickRoundRobin picks from the active set using the persisted cursor. The
// cursor holds an `order` value: the domain whose order equals it is served;
// when no order matches (the cursor's domain was banned or deleted) the scan
// restarts at the head. The returned nextCursor is the order of the element
// after the chosen one, wrapping around.
//
// domains must be non-empty and sorted by (order, id).
func pickRoundRobin(domains []*Domain, cursor int) (chosen *Domain, nextCursor int) {
	idx := 0
	for i, d := range domains {
		if d.Order == cursor {
			idx = i
			break
		}
	}
	chosen = domains[idx]
	nextCursor = domains[(idx+1)%len(domains)].Order
	return chosen, nextCursor
}

// pickRandom picks uniformly from a non-empty set.
func pickRandom(domains []*Domain, rng *rand.Rand) *Domain {
	return domains[rng.Intn(len(domains))]
}

// pickWeighted samples proportionally to Weight over a non-empty set. A
// non-positive total weight degrades to a uniform pick so a misconfigured
// pool still serves.
func pickWeighted(domains []*Domain, rng *rand.Rand) *Domain {
	total := 0
	for _, d := range domains {
		if d.Weight > 0 {
			total += d.Weight
		}
	}
	if total <= 0 {
		return pickRandom(domains, rng)
	}
	r := rng.Intn(total)
	for _, d := range domains {
		if d.Weight <= 0 {
			continue
		}
		r -= d.Weight
		if r < 0 {
			return d
		}
	}
	return domains[len(domains)-1]
}
