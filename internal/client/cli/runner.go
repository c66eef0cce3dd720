package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/dmitrijs2005/gophsync/internal/client/app"
	"github.com/dmitrijs2005/gophsync/internal/client/config"
	"github.com/dmitrijs2005/gophsync/internal/entity"
	"github.com/dmitrijs2005/gophsync/internal/flagx"
)

// Runner carries what every subcommand shares: the engine flags, the I/O
// streams and the lazily opened App.
type Runner struct {
	cfgArgs []string
	out     io.Writer
	in      *bufio.Reader

	newApp func(ctx context.Context, cfg *config.Config) (*app.App, error)
	app    *app.App
}

func NewRunner(cfgArgs []string, out io.Writer, in io.Reader) *Runner {
	return &Runner{
		cfgArgs: cfgArgs,
		out:     out,
		in:      bufio.NewReader(in),
		newApp:  app.New,
	}
}

// session opens the App on first use.
func (r *Runner) session(ctx context.Context) (*app.App, error) {
	if r.app != nil {
		return r.app, nil
	}
	cfg, err := config.Load(r.cfgArgs)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	a, err := r.newApp(ctx, cfg)
	if err != nil {
		return nil, err
	}
	r.app = a
	return a, nil
}

// Close releases the App if one was opened.
func (r *Runner) Close() error {
	if r.app == nil {
		return nil
	}
	err := r.app.Close()
	r.app = nil
	return err
}

func (r *Runner) printEntity(e *entity.Entity) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(r.out, string(data))
	return err
}

func (r *Runner) printList(list []*entity.Entity) error {
	for _, e := range list {
		if err := r.printEntity(e); err != nil {
			return err
		}
	}
	return nil
}

// Execute runs syncctl with the full argument list.
func Execute(ctx context.Context, args []string, out, errOut io.Writer, in io.Reader) error {
	valueFlags, boolFlags := config.Flags()
	cfgArgs := flagx.FilterArgs(args, append(append([]string{}, valueFlags...), boolFlags...))

	r := NewRunner(cfgArgs, out, in)
	defer r.Close()

	root := NewRootCmd(r)
	root.SetArgs(flagx.Positional(args, valueFlags, boolFlags))
	root.SetOut(out)
	root.SetErr(errOut)
	return root.ExecuteContext(ctx)
}
