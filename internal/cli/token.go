package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	pkgAuth "github.com/angelmondragon/posflow/pkg/auth"
	"github.com/angelmondragon/posflow/pkg/config"
	"github.com/angelmondragon/posflow/pkg/enums"
)

type tokenOptions struct {
	Operator string
	Terminal string
	Role     string
}

// NewTokenCommand mints operator tokens from the shared signing secret. It
// is meant for provisioning terminals and for local development.
func NewTokenCommand(_ *RootOptions) *cobra.Command {
	opts := &tokenOptions{}
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Operator token tooling",
	}
	mint := &cobra.Command{
		Use:   "mint",
		Short: "Print a signed operator token (reads POSFLOW_JWT_*)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := enums.ParseOperatorRole(opts.Role)
			if err != nil {
				return err
			}
			cfg, err := config.LoadJWT()
			if err != nil {
				return err
			}
			token, err := pkgAuth.MintOperatorToken(*cfg, time.Now(), pkgAuth.OperatorTokenPayload{
				OperatorID: opts.Operator,
				TerminalID: opts.Terminal,
				Role:       role,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	mint.Flags().StringVar(&opts.Operator, "operator", "", "operator id (required)")
	mint.Flags().StringVar(&opts.Terminal, "terminal", "", "terminal id")
	mint.Flags().StringVar(&opts.Role, "role", string(enums.OperatorRoleCashier), "operator role (cashier|supervisor)")
	_ = mint.MarkFlagRequired("operator")
	cmd.AddCommand(mint)
	return cmd
}
