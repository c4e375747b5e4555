package catalog

import (
	"sort"
	"strings"

	"github.com/junegunn/fzf/src/algo"
	"github.com/junegunn/fzf/src/util"

	"github.com/erazemk/filial/internal/model"
)

func init() {
	// Bonus and character-class tables are empty until a scheme is set.
	algo.Init("default")
}

type scored struct {
	p     model.Product
	score int
}

// rankByName keeps the products whose name matches every whitespace
// separated term of query and orders them best first. Matching ignores
// case and accents, so "dipirona sodica" finds "Dipirona Sódica 500mg".
func rankByName(products []model.Product, query string, limit int) []model.Product {
	var terms [][]rune
	for _, f := range strings.Fields(strings.ToLower(query)) {
		terms = append(terms, algo.NormalizeRunes([]rune(f)))
	}
	if len(terms) == 0 {
		return nil
	}

	slab := util.MakeSlab(100*1024, 2048)
	var matches []scored
	for _, p := range products {
		chars := util.ToChars([]byte(p.Name))
		total := 0
		matched := true
		for _, term := range terms {
			res, _ := algo.FuzzyMatchV2(false, true, true, &chars, term, false, slab)
			if res.Start < 0 {
				matched = false
				break
			}
			total += res.Score
		}
		if matched {
			matches = append(matches, scored{p: p, score: total})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		if len(matches[i].p.Name) != len(matches[j].p.Name) {
			return len(matches[i].p.Name) < len(matches[j].p.Name)
		}
		return matches[i].p.Name < matches[j].p.Name
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]model.Product, len(matches))
	for i, m := range matches {
		out[i] = m.p
	}
	return out
}
