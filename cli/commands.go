package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/norvik/vatn/internal/branch"
	"github.com/norvik/vatn/internal/id"
	"github.com/norvik/vatn/internal/keys"
	"github.com/norvik/vatn/internal/tiered"
	"github.com/norvik/vatn/internal/tree"
	"github.com/norvik/vatn/internal/values"
)

var (
	putIceberg string
	putSQL     string
	putDialect string
	putHiveDB  string
	logLimit   int
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a store with a main branch",
	Run: func(cmd *cobra.Command, args []string) {
		vs, closer, err := openStore()
		if err != nil {
			fatal(err)
		}
		defer closer()
		if _, err := vs.CreateBranch(context.Background(), "main"); err != nil {
			fatal(err)
		}
		fmt.Println("initialized store with branch main")
	},
}

var branchCmd = &cobra.Command{
	Use:   "branch",
	Short: "Manage branches",
}

var branchCreateCmd = &cobra.Command{
	Use:   "create <name> [l1-id]",
	Short: "Create a branch, optionally at an existing commit",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		vs, closer, err := openStore()
		if err != nil {
			fatal(err)
		}
		defer closer()
		ctx := context.Background()
		if len(args) == 2 {
			target, err := id.FromString(args[1])
			if err != nil {
				fatal(err)
			}
			if _, err := vs.CreateBranchAt(ctx, args[0], target); err != nil {
				fatal(err)
			}
		} else if _, err := vs.CreateBranch(ctx, args[0]); err != nil {
			fatal(err)
		}
		fmt.Printf("created branch %s\n", args[0])
	},
}

var branchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List references",
	Run: func(cmd *cobra.Command, args []string) {
		vs, closer, err := openStore()
		if err != nil {
			fatal(err)
		}
		defer closer()
		refs, err := vs.ListRefs(context.Background())
		if err != nil {
			fatal(err)
		}
		for _, ref := range refs {
			switch r := ref.(type) {
			case *branch.Branch:
				anchor, err := r.LastDefinedParent()
				if err != nil {
					fatal(err)
				}
				pending := 0
				for _, c := range r.Commits() {
					if !c.Saved() {
						pending++
					}
				}
				fmt.Printf("branch  %-20s %s  (%d pending)\n", r.Name(), anchor, pending)
			case *branch.Tag:
				fmt.Printf("tag     %-20s %s\n", r.Name(), r.CommitID())
			}
		}
	},
}

var branchRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a branch",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		vs, closer, err := openStore()
		if err != nil {
			fatal(err)
		}
		defer closer()
		if err := vs.DeleteRef(context.Background(), args[0]); err != nil {
			fatal(err)
		}
		fmt.Printf("removed %s\n", args[0])
	},
}

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Manage tags",
}

var tagCreateCmd = &cobra.Command{
	Use:   "create <name> <l1-id>",
	Short: "Tag a commit",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		vs, closer, err := openStore()
		if err != nil {
			fatal(err)
		}
		defer closer()
		target, err := id.FromString(args[1])
		if err != nil {
			fatal(err)
		}
		if _, err := vs.CreateTag(context.Background(), args[0], target); err != nil {
			fatal(err)
		}
		fmt.Printf("created tag %s\n", args[0])
	},
}

var tagRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a tag",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		vs, closer, err := openStore()
		if err != nil {
			fatal(err)
		}
		defer closer()
		if err := vs.DeleteRef(context.Background(), args[0]); err != nil {
			fatal(err)
		}
		fmt.Printf("removed %s\n", args[0])
	},
}

var putCmd = &cobra.Command{
	Use:   "put <branch> <key>",
	Short: "Commit a value at a key",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		val, err := valueFromFlags()
		if err != nil {
			fatal(err)
		}
		vs, closer, err := openStore()
		if err != nil {
			fatal(err)
		}
		defer closer()
		k, err := keys.FromPathString(args[1])
		if err != nil {
			fatal(err)
		}
		l1, err := vs.Commit(context.Background(), args[0], commitMeta(fmt.Sprintf("put %s", args[1])),
			[]tiered.Operation{{Key: k, Value: &val}})
		if err != nil {
			fatal(err)
		}
		fmt.Printf("committed %s -> %s\n", args[1], l1.ID())
	},
}

var getCmd = &cobra.Command{
	Use:   "get <ref> <key>",
	Short: "Read the value at a key",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		vs, closer, err := openStore()
		if err != nil {
			fatal(err)
		}
		defer closer()
		k, err := keys.FromPathString(args[1])
		if err != nil {
			fatal(err)
		}
		val, err := vs.GetValue(context.Background(), args[0], k)
		if err != nil {
			fatal(err)
		}
		switch val.Kind() {
		case values.Iceberg:
			fmt.Printf("iceberg %s\n", val.MetadataLocation())
		case values.SQLView:
			text, dialect := val.SQL()
			fmt.Printf("view (%s) %s\n", dialect, text)
		default:
			fmt.Printf("value kind %d, id %s\n", val.Kind(), val.ID())
		}
	},
}

var delCmd = &cobra.Command{
	Use:   "del <branch> <key>",
	Short: "Commit a key removal",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		vs, closer, err := openStore()
		if err != nil {
			fatal(err)
		}
		defer closer()
		k, err := keys.FromPathString(args[1])
		if err != nil {
			fatal(err)
		}
		l1, err := vs.Commit(context.Background(), args[0], commitMeta(fmt.Sprintf("delete %s", args[1])),
			[]tiered.Operation{{Key: k}})
		if err != nil {
			fatal(err)
		}
		fmt.Printf("removed %s -> %s\n", args[1], l1.ID())
	},
}

var logCmd = &cobra.Command{
	Use:   "log <ref>",
	Short: "Show the commit log of a reference",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		vs, closer, err := openStore()
		if err != nil {
			fatal(err)
		}
		defer closer()
		metas, err := vs.Log(context.Background(), args[0], logLimit)
		if err != nil {
			fatal(err)
		}
		for _, m := range metas {
			t := time.UnixMilli(m.CommitTimeMillis).Format(time.RFC3339)
			fmt.Printf("%s  %s  %s\n", t, m.Committer, m.Message)
		}
	},
}

var collapseCmd = &cobra.Command{
	Use:   "collapse <branch>",
	Short: "Collapse the intention log of a branch",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		vs, closer, err := openStore()
		if err != nil {
			fatal(err)
		}
		defer closer()
		b, err := vs.Collapse(context.Background(), args[0])
		if err != nil {
			fatal(err)
		}
		anchor, err := b.LastDefinedParent()
		if err != nil {
			fatal(err)
		}
		fmt.Printf("collapsed %s -> %s\n", args[0], anchor)
	},
}

func valueFromFlags() (values.Value, error) {
	switch {
	case putIceberg != "":
		return values.NewIceberg(putIceberg), nil
	case putSQL != "":
		return values.NewSQLView(putSQL, putDialect), nil
	case putHiveDB != "":
		data, err := os.ReadFile(putHiveDB)
		if err != nil {
			return values.Value{}, fmt.Errorf("read hive database bytes: %w", err)
		}
		return values.NewHiveDatabase(data), nil
	default:
		return values.Value{}, fmt.Errorf("one of --iceberg, --sql or --hive-db is required")
	}
}

func commitMeta(message string) tree.CommitMeta {
	user := os.Getenv("USER")
	if user == "" {
		user = "vatn"
	}
	return tree.CommitMeta{
		Committer:        user,
		Author:           user,
		Message:          message,
		CommitTimeMillis: time.Now().UnixMilli(),
	}
}
