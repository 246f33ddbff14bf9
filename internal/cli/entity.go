package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// NewEntityCommand groups card commands.
func NewEntityCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entity",
		Short: "Issue and look up QR cards",
	}
	cmd.AddCommand(newEntityIssueCommand(rootOpts), newEntityLookupCommand(rootOpts))
	return cmd
}

func newEntityIssueCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "issue <label>",
		Short: "Register a new unassigned card (supervisor only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, rootOpts, func(ctx context.Context, env *Env) error {
				entity, err := env.Gateway.IssueEntity(ctx, args[0])
				if err != nil {
					return err
				}
				return printEntity(cmd.OutOrStdout(), rootOpts.Format, *entity)
			})
		},
	}
}

func newEntityLookupCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <kind> <code>",
		Short: "Check whether a code is acceptable for a wizard, without changing it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			return withEnv(cmd, rootOpts, func(ctx context.Context, env *Env) error {
				entity, err := env.Resolver.Resolve(ctx, kind, args[1])
				if err != nil {
					return err
				}
				return printEntity(cmd.OutOrStdout(), rootOpts.Format, entity)
			})
		},
	}
}
