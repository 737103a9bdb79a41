package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/samber/lo"
)

// CompletionCmd generates shell completions
type CompletionCmd struct {
	Shell string `arg:"" enum:"bash,zsh" help:"Shell type (bash, zsh)"`
}

// completionIndex maps a command path ("" for the root, "records list"
// for nested commands) to the words that may follow it
type completionIndex map[string][]string

// Run executes the completion command. It takes *kong.Context so the
// output always matches the parsed CLI model.
func (c *CompletionCmd) Run(globals *Globals, ctx *kong.Context) error {
	var model *kong.Node
	if ctx != nil && ctx.Model != nil {
		model = ctx.Model.Node
	}
	idx := buildCompletionIndex(model)

	script := bashCompletion(idx)
	if c.Shell == "zsh" {
		script = "autoload -U +X bashcompinit && bashcompinit\n" + script
	}
	_, err := fmt.Fprint(globals.Stdout, script)
	return err
}

func buildCompletionIndex(model *kong.Node) completionIndex {
	idx := completionIndex{}
	if model == nil {
		idx[""] = nil
		return idx
	}

	var walk func(n *kong.Node, path []string)
	walk = func(n *kong.Node, path []string) {
		children := lo.Filter(n.Children, func(child *kong.Node, _ int) bool {
			return child != nil && child.Type == kong.CommandNode && !child.Hidden
		})

		words := lo.Map(children, func(child *kong.Node, _ int) string { return child.Name })
		for _, group := range n.AllFlags(true) {
			for _, f := range group {
				if f == nil || f.Hidden {
					continue
				}
				words = append(words, "--"+f.Name)
				if f.Short != 0 {
					words = append(words, "-"+string(f.Short))
				}
			}
		}
		words = lo.Uniq(words)
		sort.Strings(words)
		idx[strings.Join(path, " ")] = words

		for _, child := range children {
			walk(child, append(append([]string(nil), path...), child.Name))
		}
	}
	walk(model, nil)
	return idx
}

func bashCompletion(idx completionIndex) string {
	paths := lo.Keys(map[string][]string(idx))
	// longest paths first so nested commands win
	sort.Slice(paths, func(i, j int) bool {
		if len(paths[i]) != len(paths[j]) {
			return len(paths[i]) > len(paths[j])
		}
		return paths[i] < paths[j]
	})

	var b strings.Builder
	b.WriteString("# bash completion for crashwatch\n")
	b.WriteString("_crashwatch() {\n")
	b.WriteString("  local cur=\"${COMP_WORDS[COMP_CWORD]}\"\n")
	b.WriteString("  local cmd=\"\"\n")
	b.WriteString("  local w\n")
	b.WriteString("  for w in \"${COMP_WORDS[@]:1:COMP_CWORD-1}\"; do\n")
	b.WriteString("    [[ \"$w\" == -* ]] || cmd=\"${cmd:+$cmd }$w\"\n")
	b.WriteString("  done\n")
	b.WriteString("  local words=\"\"\n")
	b.WriteString("  case \"$cmd\" in\n")
	for _, p := range paths {
		pattern := "\"\""
		if p != "" {
			pattern = fmt.Sprintf("%q*", p)
		}
		fmt.Fprintf(&b, "    %s) words=%q ;;\n", pattern, strings.Join(idx[p], " "))
	}
	b.WriteString("  esac\n")
	b.WriteString("  COMPREPLY=($(compgen -W \"$words\" -- \"$cur\"))\n")
	b.WriteString("}\n")
	b.WriteString("complete -F _crashwatch crashwatch\n")
	return b.String()
}
