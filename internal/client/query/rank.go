package query

import (
	"strings"

	"github.com/dmitrijs2005/gophsync/internal/entity"
	sfuzzy "github.com/sahilm/fuzzy"
)

// entitySource exposes one string per entity to the ranker. Fields are
// joined with spaces so a pattern may span them.
type entitySource struct {
	list   []*entity.Entity
	fields []string
}

func (s entitySource) Len() int { return len(s.list) }

func (s entitySource) String(i int) string {
	parts := make([]string, 0, len(s.fields))
	for _, f := range s.fields {
		if str, ok := s.list[i].Get(f).(entity.String); ok {
			parts = append(parts, string(str))
		}
	}
	return strings.Join(parts, " ")
}

// Rank orders the entities that fuzzily match pattern on the given string
// fields, best match first. Non-matching entities are dropped. An empty
// pattern returns list unchanged.
func Rank(list []*entity.Entity, pattern string, fields ...string) []*entity.Entity {
	if strings.TrimSpace(pattern) == "" {
		return list
	}
	matches := sfuzzy.FindFrom(pattern, entitySource{list: list, fields: fields})
	out := make([]*entity.Entity, 0, len(matches))
	for _, m := range matches {
		out = append(out, list[m.Index])
	}
	return out
}
