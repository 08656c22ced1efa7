package prompts

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"text/template/parse"
)

// ExtractVariables lists the fields a template references, sorted and
// deduplicated. Chained fields are joined with dots ({{.Record.Question}}
// gives "Record.Question"); fields inside range blocks are reported relative
// to the element. Unparseable text yields nil.
func ExtractVariables(text string) []string {
	trees, err := parse.Parse("vars", text, "", "", builtinFuncs)
	if err != nil {
		return nil
	}
	seen := make(map[string]bool)
	for _, tree := range trees {
		walkFields(tree.Root, seen)
	}
	vars := make([]string, 0, len(seen))
	for v := range seen {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	return vars
}

// builtinFuncs lets parse accept the text/template builtins.
var builtinFuncs = map[string]any{
	"and": true, "or": true, "not": true, "len": true, "index": true, "slice": true,
	"print": true, "printf": true, "println": true, "html": true, "js": true, "urlquery": true,
	"eq": true, "ne": true, "lt": true, "le": true, "gt": true, "ge": true, "call": true,
}

func walkFields(node parse.Node, seen map[string]bool) {
	switch n := node.(type) {
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, c := range n.Nodes {
			walkFields(c, seen)
		}
	case *parse.ActionNode:
		walkFields(n.Pipe, seen)
	case *parse.PipeNode:
		if n == nil {
			return
		}
		for _, cmd := range n.Cmds {
			for _, arg := range cmd.Args {
				walkFields(arg, seen)
			}
		}
	case *parse.FieldNode:
		seen[strings.Join(n.Ident, ".")] = true
	case *parse.IfNode:
		walkBranch(&n.BranchNode, seen)
	case *parse.RangeNode:
		walkBranch(&n.BranchNode, seen)
	case *parse.WithNode:
		walkBranch(&n.BranchNode, seen)
	}
}

func walkBranch(b *parse.BranchNode, seen map[string]bool) {
	walkFields(b.Pipe, seen)
	walkFields(b.List, seen)
	walkFields(b.ElseList, seen)
}

// HashText fingerprints prompt text so a run can tell which version of a
// prompt it used.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:8])
}
