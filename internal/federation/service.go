package federation

import "regexp"

var (
	schemaBlockRE  = regexp.MustCompile(`(?ms)^\s*schema\b[^{]*\{[^}]*\}[ \t]*\n?`)
	queryTypeRE    = regexp.MustCompile(`(?m)^([ \t]*)type[ \t]+Query\b`)
	mutationTypeRE = regexp.MustCompile(`(?m)^([ \t]*)type[ \t]+Mutation\b`)
)

// serviceSDL prepares the SDL exposed through _service { sdl }. The
// gateway composes it with every other subgraph's contribution, so this
// subgraph's root types must read as extensions of the shared roots, and
// any local schema block must go.
func serviceSDL(sdl string) string {
	out := schemaBlockRE.ReplaceAllString(sdl, "")
	out = queryTypeRE.ReplaceAllString(out, "${1}extend type Query")
	out = mutationTypeRE.ReplaceAllString(out, "${1}extend type Mutation")
	return out
}
