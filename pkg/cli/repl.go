package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-logr/logr"

	"indextree/pkg/budget"
	"indextree/pkg/cache"
	"indextree/pkg/config"
	"indextree/pkg/kv"
	"indextree/pkg/node"
	"indextree/pkg/pager"
	"indextree/pkg/tree"
)

// REPL is an interactive front end over a uint64-keyed, uint64-valued
// index: insert, get, remove, flush, stats, print.
type REPL struct {
	tree      *tree.Tree[uint64, uint64]
	store     *pager.BlockStore
	shell     *Shell
	output    io.Writer
	errOutput io.Writer
	log       logr.Logger
	running   bool
}

// Open opens (or creates) an index at opts.Path, or an in-memory-only
// index if opts.Path is empty, and wraps it in a REPL reading from stdin.
func Open(opts config.Options, output, errOutput io.Writer) (*REPL, error) {
	opts = opts.Defaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	cmp := kv.Ordered[uint64]()
	leafCodec := node.LeafCodec[uint64, uint64]{Cmp: cmp, KeyCodec: kv.Uint64Codec{}, ValCodec: kv.Uint64Codec{}}
	indexCodec := node.IndexCodec[uint64]{Cmp: cmp, KeyCodec: kv.Uint64Codec{}}

	var store *pager.BlockStore
	var mb *budget.MemoryBudget
	if opts.Path != "" {
		if opts.MemoryBudgetBytes > 0 {
			mb = budget.NewMemoryBudget(opts.MemoryBudgetBytes)
			s, err := pager.OpenWithBudget(opts.Path, pager.Options{PageSize: opts.PageSize, CacheSize: opts.CacheNodes, ReadOnly: opts.ReadOnly}, mb)
			if err != nil {
				return nil, fmt.Errorf("cli: failed to open store: %w", err)
			}
			store = s
		} else {
			s, err := pager.Open(opts.Path, pager.Options{PageSize: opts.PageSize, CacheSize: opts.CacheNodes, ReadOnly: opts.ReadOnly})
			if err != nil {
				return nil, fmt.Errorf("cli: failed to open store: %w", err)
			}
			store = s
		}
	}

	c := cache.New[uint64, uint64](cmp, leafCodec, indexCodec, cache.Options{
		Store:    store,
		Budget:   mb,
		Capacity: opts.CacheNodes,
		Logger:   opts.Logger,
	})
	tr := tree.New(cmp, c, tree.Config{Degree: opts.Degree, Logger: opts.Logger})
	tr.Init()

	return &REPL{
		tree:      tr,
		store:     store,
		shell:     NewShell(os.Stdin, output),
		output:    output,
		errOutput: errOutput,
		log:       opts.Logger,
	}, nil
}

// Close flushes the tree and releases the backing store.
func (r *REPL) Close() error {
	if err := r.tree.Flush(); err != nil {
		return err
	}
	if r.store != nil {
		return r.store.Close()
	}
	return nil
}

// Run starts the read-eval-print loop until EOF or ".exit".
func (r *REPL) Run() {
	r.running = true
	fmt.Fprintln(r.output, "indextree 0.1.0 — a B+-tree ordered key/value index")
	fmt.Fprintln(r.output, `Enter ".help" for usage hints.`)

	for r.running {
		line, eof := r.shell.ReadLine()
		line = strings.TrimSpace(line)
		if line != "" {
			r.dispatch(line)
		}
		if eof {
			fmt.Fprintln(r.output)
			return
		}
	}
}

func (r *REPL) dispatch(line string) {
	fields := strings.Fields(line)
	cmd := strings.TrimPrefix(fields[0], ".")
	args := fields[1:]

	switch cmd {
	case "help":
		r.printHelp()
	case "exit", "quit":
		r.running = false
	case "insert":
		r.cmdInsert(args)
	case "get":
		r.cmdGet(args)
	case "remove", "delete":
		r.cmdRemove(args)
	case "flush":
		r.cmdFlush()
	case "stats":
		r.cmdStats()
	case "print":
		if err := r.tree.Print(r.output); err != nil {
			r.printError(err)
		}
	default:
		fmt.Fprintf(r.errOutput, "unknown command %q; try .help\n", fields[0])
	}
}

func (r *REPL) printHelp() {
	fmt.Fprintln(r.output, `.insert <key> <value>   insert or overwrite a key
.get <key>              look up a key
.remove <key>           delete a key
.flush                  persist dirty nodes to disk
.stats                  report resident/mapped node counts
.print                  dump the tree shape (debug only)
.exit                   leave the shell`)
}

func (r *REPL) cmdInsert(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(r.errOutput, "usage: .insert <key> <value>")
		return
	}
	k, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Fprintf(r.errOutput, "invalid key %q: %v\n", args[0], err)
		return
	}
	v, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		fmt.Fprintf(r.errOutput, "invalid value %q: %v\n", args[1], err)
		return
	}
	if err := r.tree.Insert(k, v); err != nil {
		r.printError(err)
		return
	}
	fmt.Fprintln(r.output, "Ok")
}

func (r *REPL) cmdGet(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(r.errOutput, "usage: .get <key>")
		return
	}
	k, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Fprintf(r.errOutput, "invalid key %q: %v\n", args[0], err)
		return
	}
	v, err := r.tree.Get(k)
	if err != nil {
		r.printError(err)
		return
	}
	fmt.Fprintln(r.output, v)
}

func (r *REPL) cmdRemove(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(r.errOutput, "usage: .remove <key>")
		return
	}
	k, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Fprintf(r.errOutput, "invalid key %q: %v\n", args[0], err)
		return
	}
	if err := r.tree.Remove(k); err != nil {
		r.printError(err)
		return
	}
	fmt.Fprintln(r.output, "Ok")
}

func (r *REPL) cmdFlush() {
	if err := r.tree.Flush(); err != nil {
		r.printError(err)
		return
	}
	fmt.Fprintln(r.output, "Ok")
}

func (r *REPL) cmdStats() {
	resident, mapped := r.tree.CacheState()
	fmt.Fprintf(r.output, "resident=%d mapped=%d\n", resident, mapped)
}

func (r *REPL) printError(err error) {
	fmt.Fprintf(r.errOutput, "error: %v\n", err)
}
