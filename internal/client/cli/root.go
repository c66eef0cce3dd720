package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/gophsync/internal/client/facade"
	"github.com/dmitrijs2005/gophsync/internal/client/query"
	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/entity"
	"github.com/dmitrijs2005/gophsync/internal/wire"
	"github.com/spf13/cobra"
)

// NewRootCmd builds the syncctl command tree around r.
func NewRootCmd(r *Runner) *cobra.Command {
	root := &cobra.Command{
		Use:           "syncctl",
		Short:         "Inspect and edit a local sync store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		listCmd(r),
		getCmd(r),
		saveCmd(r),
		deleteCmd(r),
		queryCmd(r),
		searchCmd(r),
		pendingCmd(r),
		syncCmd(r),
		importCmd(r),
		watchCmd(r),
		registerCmd(r),
		loginCmd(r),
		shellCmd(r),
	)
	return root
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("bad id %q: %w", s, common.ErrValidation)
	}
	return id, nil
}

func listCmd(r *Runner) *cobra.Command {
	return &cobra.Command{
		Use:   "list <type>",
		Short: "Print every entity of a type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := r.session(cmd.Context())
			if err != nil {
				return err
			}
			list, err := a.Engine.List(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return r.printList(list)
		},
	}
}

// getCmd and deleteCmd take negative IDs of unsynced entities, so cobra
// must not read them as flags.
func getCmd(r *Runner) *cobra.Command {
	return &cobra.Command{
		Use:                "get <type> <id>",
		Short:              "Print one entity",
		DisableFlagParsing: true,
		Args:               cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[1])
			if err != nil {
				return err
			}
			a, err := r.session(cmd.Context())
			if err != nil {
				return err
			}
			e, err := a.Engine.Get(cmd.Context(), args[0], id)
			if err != nil {
				return err
			}
			return r.printEntity(e)
		},
	}
}

func deleteCmd(r *Runner) *cobra.Command {
	return &cobra.Command{
		Use:                "delete <type> <id>",
		Short:              "Delete an entity",
		DisableFlagParsing: true,
		Args:               cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[1])
			if err != nil {
				return err
			}
			a, err := r.session(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.Engine.Delete(cmd.Context(), args[0], id); err != nil {
				return err
			}
			fmt.Fprintf(r.out, "deleted %s %d\n", args[0], id)
			return nil
		},
	}
}

func saveCmd(r *Runner) *cobra.Command {
	return &cobra.Command{
		Use:   "save <type> [json]",
		Short: "Create or update an entity",
		Long: "Create or update an entity. Without a JSON argument the fields are read\n" +
			"from stdin as name=value lines. An entity without ID is created.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e := entity.New(args[0], 0, nil)
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), e); err != nil {
					return fmt.Errorf("bad entity: %w", err)
				}
				e.Type = args[0]
			} else {
				fields, err := GetFields(r.in, r.out)
				if err != nil {
					return err
				}
				e.Fields = fields
			}

			a, err := r.session(cmd.Context())
			if err != nil {
				return err
			}
			var saved *entity.Entity
			if e.ID == 0 {
				saved, err = a.Engine.Create(cmd.Context(), e)
			} else {
				saved, err = a.Engine.Update(cmd.Context(), e)
			}
			if saved != nil {
				if perr := r.printEntity(saved); perr != nil {
					return perr
				}
			}
			return err
		},
	}
}

func queryCmd(r *Runner) *cobra.Command {
	return &cobra.Command{
		Use:     "query <type> <where>",
		Short:   "Print the entities matching a where expression",
		Example: `  syncctl query Contact "age >= 18 and name like 'A%'"`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := query.ParseWhere(strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			a, err := r.session(cmd.Context())
			if err != nil {
				return err
			}
			list, err := a.Engine.Query(cmd.Context(), args[0], filter)
			if err != nil {
				return err
			}
			return r.printList(list)
		},
	}
}

func searchCmd(r *Runner) *cobra.Command {
	var fields []string
	cmd := &cobra.Command{
		Use:   "search <type> <text>",
		Short: "Fuzzy search, best matches first",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := r.session(cmd.Context())
			if err != nil {
				return err
			}
			list, err := a.Engine.List(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return r.printList(query.Rank(list, strings.Join(args[1:], " "), fields...))
		},
	}
	cmd.Flags().StringSliceVarP(&fields, "field", "f", nil, "fields to search (default: all string fields)")
	return cmd
}

func pendingCmd(r *Runner) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "Show local changes not yet accepted by the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := r.session(cmd.Context())
			if err != nil {
				return err
			}
			saves, deletes, err := a.Engine.Pending(cmd.Context())
			if err != nil {
				return err
			}
			for _, typ := range wire.SortedTypes(saves) {
				for _, e := range saves[typ] {
					fmt.Fprintf(r.out, "save\t%s\t%d\n", typ, e.ID)
				}
			}
			for _, typ := range wire.SortedTypes(deletes) {
				for _, id := range deletes[typ] {
					fmt.Fprintf(r.out, "delete\t%s\t%d\n", typ, id)
				}
			}
			return nil
		},
	}
}

// preloader is implemented by the lazy facade.
type preloader interface {
	Preload(ctx context.Context, types ...string) error
}

func syncCmd(r *Runner) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push local changes and pull the server's",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := r.session(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.Login(cmd.Context()); err != nil {
				a.Log.Warn(cmd.Context(), "login failed", "error", err)
			}
			if p, ok := a.Engine.(preloader); ok && all {
				if err := p.Preload(cmd.Context()); err != nil {
					return err
				}
			}
			report, err := a.Engine.Sync(cmd.Context())
			if report != nil {
				fmt.Fprintf(r.out, "pushed=%d rejected=%d pulled=%d removed=%d skipped=%d watermark=%d offline=%t\n",
					report.Pushed, report.Rejected, report.Pulled, report.Removed, report.Skipped, report.Watermark, report.Offline)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "in lazy mode, also load types never read")
	return cmd
}

func watchCmd(r *Runner) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Sync whenever the server announces a change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := r.session(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.Login(cmd.Context()); err != nil {
				return err
			}
			err = a.Watch(cmd.Context(), func(rep *facade.SyncReport) {
				fmt.Fprintf(r.out, "synced: pulled=%d removed=%d watermark=%d\n", rep.Pulled, rep.Removed, rep.Watermark)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}
