// Package dot renders chains and subtrees as Graphviz DOT source. It is a
// pure function of its inputs (§9): it owns no state and never touches the
// network.
package dot

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/structs"

	"github.com/inahga/trustfed/internal/explorer"
	"github.com/inahga/trustfed/internal/statement"
)

// nodeLabel is flattened via fatih/structs into a Graphviz label's field
// rows, keeping the label layout decoupled from Statement's own field order
// and tags.
type nodeLabel struct {
	ID    string
	Types string
}

// Chains renders a set of trust chains as a single digraph: one edge per
// subordinate statement, nodes labelled with the entity id and its entity
// types.
func Chains(chains []explorer.Chain) string {
	var b strings.Builder
	b.WriteString("digraph trustchains {\n")
	b.WriteString("  rankdir=BT;\n  node [shape=box, fontname=\"monospace\"];\n\n")

	seen := make(map[string]bool)
	for _, chain := range chains {
		for i := 0; i < len(chain); i += 2 {
			self := chain[i]
			writeNode(&b, seen, self.Subject.String(), entityTypeStrings(self.EntityTypes()))
		}
		for i := 1; i < len(chain); i += 2 {
			sub := chain[i]
			fmt.Fprintf(&b, "  %q -> %q;\n", sub.Subject.String(), sub.Issuer.String())
		}
	}

	b.WriteString("}\n")
	return b.String()
}

// Subtree renders a downward-discovered subtree as a digraph, one edge per
// superior->child relationship recorded during exploration.
func Subtree(nodes []explorer.SubtreeNode) string {
	var b strings.Builder
	b.WriteString("digraph subtree {\n")
	b.WriteString("  rankdir=LR;\n  node [shape=box, fontname=\"monospace\"];\n\n")

	seen := make(map[string]bool)
	for _, n := range nodes {
		writeNode(&b, seen, n.ID.String(), entityTypeStrings(n.EntityTypes))
		if n.Superior != "" {
			fmt.Fprintf(&b, "  %q -> %q;\n", n.Superior.String(), n.ID.String())
		}
	}

	b.WriteString("}\n")
	return b.String()
}

func entityTypeStrings(types []statement.EntityType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	sort.Strings(out)
	return out
}

func writeNode(b *strings.Builder, seen map[string]bool, id string, types []string) {
	if seen[id] {
		return
	}
	seen[id] = true

	label := nodeLabel{ID: id, Types: strings.Join(types, ",")}
	fields := structs.Map(label)
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var rows strings.Builder
	for _, name := range names {
		v := fmt.Sprintf("%v", fields[name])
		if v == "" {
			continue
		}
		rows.WriteString(name)
		rows.WriteString(": ")
		rows.WriteString(v)
		rows.WriteString("\\n")
	}

	fmt.Fprintf(b, "  %q [label=%q];\n", id, rows.String())
}
