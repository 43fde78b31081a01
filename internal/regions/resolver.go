package regions

import (
	"log"
	"strings"

	"github.com/google/uuid"
)

// defaultMappings associates canonical region names with their pre-assigned
// stable identifiers. Regions listed here keep the same identifier across
// runs; anything else gets a fresh one per generation.
var defaultMappings = map[string]string{
	"kotawaringin barat": "region-kobar",
	"kotawaringin timur": "region-kotim",
	"seruyan":            "region-seruyan",
	"sukamara":           "region-sukamara",
	"lamandau":           "region-lamandau",
	"pangkalan bun":      "region-pbun",
}

// Resolver maps human-readable region names to stable identifiers. Known
// regions resolve by normalized name or by a name-derived short code;
// unknown regions get a freshly generated identifier, which is deliberate —
// callers that need idempotent identifiers across runs must pre-register
// the region.
type Resolver struct {
	byName map[string]string
	byCode map[string]string
}

// NewResolver builds a resolver over the builtin mapping table
func NewResolver() *Resolver {
	return NewResolverWithMappings(defaultMappings)
}

// NewResolverWithMappings builds a resolver over a caller-supplied table of
// canonical name -> stable identifier
func NewResolverWithMappings(mappings map[string]string) *Resolver {
	r := &Resolver{
		byName: make(map[string]string, len(mappings)),
		byCode: make(map[string]string, len(mappings)),
	}
	for name, id := range mappings {
		normalized := Normalize(name)
		r.byName[normalized] = id
		if code := ShortCode(normalized); code != "" {
			r.byCode[code] = id
		}
	}
	return r
}

// Resolve returns the stable identifier for a region name, or a fresh
// random identifier when the region is not registered. The fallback is not
// cached: resolving the same unknown name twice yields two identifiers.
func (r *Resolver) Resolve(regionName string) string {
	normalized := Normalize(regionName)

	if id, ok := r.byName[normalized]; ok {
		return id
	}
	if id, ok := r.byCode[normalized]; ok {
		return id
	}

	id := uuid.New().String()
	log.Printf("[Regions] No mapping for %q, generated identifier %s", regionName, id)
	return id
}

// Normalize case-folds a region name and treats underscores and spaces as
// interchangeable, collapsing runs of them
func Normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "_", " ")
	return strings.Join(strings.Fields(name), " ")
}

// ShortCode derives the secondary lookup key from a canonical name: the
// first letter of each word. Initials are runes, not bytes, so multi-byte
// letters stay intact.
func ShortCode(name string) string {
	var b strings.Builder
	letters := 0
	for _, word := range strings.Fields(Normalize(name)) {
		b.WriteRune([]rune(word)[0])
		letters++
	}
	if letters < 2 {
		return ""
	}
	return b.String()
}
