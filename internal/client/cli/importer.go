package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/entity"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Fixture is a YAML document mapping entity types to lists of field sets:
//
//	Contact:
//	  - Name: Ann
//	    Born: 1990-05-01
//	Task:
//	  - Title: call Ann
//	    Done: false
//
// Unquoted YAML timestamps become dates. An ID key is ignored; imported
// entities are always created.
type Fixture map[string][]*entity.Entity

// ParseFixture decodes a fixture from r.
func ParseFixture(r io.Reader) (Fixture, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return Fixture{}, nil
		}
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("fixture line %d: expected a mapping of types", root.Line)
	}

	out := make(Fixture)
	for i := 0; i+1 < len(root.Content); i += 2 {
		typ, items := root.Content[i].Value, root.Content[i+1]
		if items.Kind != yaml.SequenceNode {
			return nil, fmt.Errorf("fixture line %d: %s must be a list", items.Line, typ)
		}
		for _, item := range items.Content {
			v, err := nodeValue(item)
			if err != nil {
				return nil, err
			}
			obj, ok := v.(entity.Object)
			if !ok {
				return nil, fmt.Errorf("fixture line %d: %s item must be a mapping", item.Line, typ)
			}
			delete(obj, entity.IDField)
			out[typ] = append(out[typ], entity.New(typ, 0, obj))
		}
	}
	return out, nil
}

func nodeValue(n *yaml.Node) (entity.Value, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return entity.Null{}, nil
		}
		return nodeValue(n.Content[0])
	case yaml.AliasNode:
		return nodeValue(n.Alias)
	case yaml.SequenceNode:
		arr := make(entity.Array, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := nodeValue(c)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		return arr, nil
	case yaml.MappingNode:
		obj := make(entity.Object, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			v, err := nodeValue(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			obj[n.Content[i].Value] = v
		}
		return obj, nil
	case yaml.ScalarNode:
		if n.ShortTag() == "!!timestamp" {
			var t time.Time
			if err := n.Decode(&t); err != nil {
				return nil, fmt.Errorf("fixture line %d: %w", n.Line, err)
			}
			return entity.NewDate(t), nil
		}
		var raw any
		if err := n.Decode(&raw); err != nil {
			return nil, fmt.Errorf("fixture line %d: %w", n.Line, err)
		}
		return entity.FromAny(raw), nil
	}
	return nil, fmt.Errorf("fixture line %d: unsupported node", n.Line)
}

// Import creates every fixture entity, type by type in name order, and
// returns how many were created.
func Import(ctx context.Context, create func(context.Context, *entity.Entity) (*entity.Entity, error), f Fixture) (int, error) {
	types := make([]string, 0, len(f))
	for t := range f {
		types = append(types, t)
	}
	sort.Strings(types)

	n := 0
	for _, typ := range types {
		for _, e := range f[typ] {
			if _, err := create(ctx, e); err != nil {
				return n, fmt.Errorf("import %s: %w", typ, err)
			}
			n++
		}
	}
	return n, nil
}

func importCmd(r *Runner) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Create entities from a YAML fixture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()

			fixture, err := ParseFixture(file)
			if err != nil {
				return err
			}
			a, err := r.session(cmd.Context())
			if err != nil {
				return err
			}
			n, err := Import(cmd.Context(), a.Engine.Create, fixture)
			fmt.Fprintf(r.out, "imported %d entities\n", n)
			return err
		},
	}
}
