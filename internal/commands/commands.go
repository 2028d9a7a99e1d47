package commands

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"sort"
	"strings"
)

const prefix = "cmd "

// ErrHelp is returned by Execute for -h/-help; the usage text is in the error chain.
var ErrHelp = flag.ErrHelp

// Setup defines a subcommand's flags on fs and returns the function to run once
// they are parsed. It is called once per execution.
type Setup func(fs *flag.FlagSet) (run func() error)

// Command is a subcommand with its own flags.
type Command struct {
	Name  string
	Usage string
	Setup Setup
}

// Registry holds subcommands by name. Add commands with Register; run with Execute.
type Registry struct {
	cmds map[string]*Command
}

// NewRegistry returns an empty command registry.
func NewRegistry() *Registry {
	return &Registry{cmds: make(map[string]*Command)}
}

// Register adds a subcommand. name is the first token after "cmd" (e.g. "fov").
func (r *Registry) Register(name, usage string, setup Setup) {
	r.cmds[name] = &Command{Name: name, Usage: usage, Setup: setup}
}

// Names returns the registered subcommands in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.cmds))
	for n := range r.cmds {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Help describes every subcommand, one per line.
func (r *Registry) Help() []string {
	var out []string
	for _, n := range r.Names() {
		out = append(out, fmt.Sprintf("%s: %s", n, r.cmds[n].Usage))
	}
	return out
}

// Parse interprets line as a terminal line. If line starts with "cmd " (case-sensitive),
// the rest is tokenized by spaces and returned with ok true. Otherwise nil, false.
func Parse(line string) (args []string, ok bool) {
	if !strings.HasPrefix(line, prefix) {
		return nil, false
	}
	rest := strings.TrimSpace(line[len(prefix):])
	if rest == "" {
		return nil, true
	}
	return strings.Fields(rest), true
}

// Execute runs the subcommand in args[0] with args[1:] as flag/positional arguments.
// Returns an error for unknown command, parse error, or from Run().
func (r *Registry) Execute(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing subcommand")
	}
	name := args[0]
	cmd, ok := r.cmds[name]
	if !ok {
		return fmt.Errorf("unknown command: %s", name)
	}
	var out bytes.Buffer
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(&out)
	run := cmd.Setup(fs)
	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return fmt.Errorf("%w\n%s", ErrHelp, strings.TrimSpace(out.String()))
		}
		return err
	}
	return run()
}
