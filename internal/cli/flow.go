package cli

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/angelmondragon/posflow/internal/capture"
	"github.com/angelmondragon/posflow/internal/flow"
	"github.com/angelmondragon/posflow/internal/flowstate"
	"github.com/angelmondragon/posflow/pkg/enums"
	"github.com/angelmondragon/posflow/pkg/money"
)

// NewFlowCommand groups the wizard subcommands.
func NewFlowCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flow",
		Short: "Drive a sales, registration, checkout or refunds wizard",
	}
	cmd.AddCommand(
		newFlowStatusCommand(rootOpts),
		newFlowEnterCommand(rootOpts),
		newFlowSubmitCommand(rootOpts),
		newFlowScanCommand(rootOpts),
		newFlowCommitCommand(rootOpts),
		newFlowCancelCommand(rootOpts),
	)
	return cmd
}

func newFlowStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <kind>",
		Short: "Show completed steps and collected data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			return withEnv(cmd, rootOpts, func(ctx context.Context, env *Env) error {
				snap, err := env.Orchestrator.Status(ctx, kind)
				if err != nil {
					return err
				}
				return printStatus(cmd.OutOrStdout(), rootOpts.Format, snap)
			})
		},
	}
}

func newFlowEnterCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "enter <kind|route> [step]",
		Short: "Mount a step; earlier incomplete steps redirect",
		Long: `Mount a step of a wizard. The target is either a kind plus a step number
or a route such as /sales/step2. Without a step the flow resumes at its
lowest incomplete step.

Example:
  posctl flow enter sales 2
  posctl flow enter /refunds/step3
  posctl flow enter checkout`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, step, resume, err := parseTarget(args)
			if err != nil {
				return err
			}
			return withEnv(cmd, rootOpts, func(ctx context.Context, env *Env) error {
				var nav flow.Navigation
				if resume {
					nav, err = env.Orchestrator.Resume(ctx, kind)
				} else {
					nav, err = env.Orchestrator.Enter(ctx, kind, step)
				}
				if err != nil {
					return err
				}
				return printNavigation(cmd.OutOrStdout(), rootOpts.Format, nav)
			})
		},
	}
}

type submitOptions struct {
	Amount   string
	Method   string
	Name     string
	Phone    string
	RefundOf string
}

func (o submitOptions) patch() (flowstate.FlowData, error) {
	patch := flowstate.FlowData{
		CustomerName:  strings.TrimSpace(o.Name),
		CustomerPhone: strings.TrimSpace(o.Phone),
		RefundOfID:    strings.TrimSpace(o.RefundOf),
	}
	if o.Amount != "" {
		cents, err := money.ParseCents(o.Amount)
		if err != nil {
			return flowstate.FlowData{}, err
		}
		patch.AmountCents = cents
	}
	if o.Method != "" {
		method, err := enums.ParsePaymentMethod(strings.ToLower(strings.TrimSpace(o.Method)))
		if err != nil {
			return flowstate.FlowData{}, err
		}
		patch.PaymentMethod = method
	}
	return patch, nil
}

func newFlowSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &submitOptions{}
	cmd := &cobra.Command{
		Use:   "submit <kind> <step>",
		Short: "Complete a data step and advance",
		Long: `Complete a data step with the given fields and advance to the next step.
Entity steps use "flow scan"; the last step uses "flow commit".

Example:
  posctl flow submit sales 2 --amount 75.50
  posctl flow submit checkout 2 --amount 120 --method card
  posctl flow submit registration 1 --name "Thandi M" --phone 0821234567
  posctl flow submit refunds 2 --refund-of 3f0c...`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, step, _, err := parseTarget(args)
			if err != nil {
				return err
			}
			patch, err := opts.patch()
			if err != nil {
				return err
			}
			return withEnv(cmd, rootOpts, func(ctx context.Context, env *Env) error {
				if err := mount(ctx, env, kind, step); err != nil {
					return err
				}
				nav, err := env.Orchestrator.Complete(ctx, kind, step, patch)
				if err != nil {
					return err
				}
				return printNavigation(cmd.OutOrStdout(), rootOpts.Format, nav)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Amount, "amount", "", "amount, e.g. 75.50")
	cmd.Flags().StringVar(&opts.Method, "method", "", "payment method (cash|card)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "customer name")
	cmd.Flags().StringVar(&opts.Phone, "phone", "", "customer phone")
	cmd.Flags().StringVar(&opts.RefundOf, "refund-of", "", "id of the commit being refunded")
	return cmd
}

type scanOptions struct {
	Device  bool
	Timeout time.Duration
}

func newFlowScanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan <kind> [code]",
		Short: "Resolve the card for the wizard's entity step",
		Long: `Resolve a QR card on the entity step. With a code argument the code is
validated as manual entry. With --device, one decoded value is read from a
line oriented handheld scanner attached to stdin. With neither, codes are
read from stdin one per line until one resolves.

Example:
  posctl flow scan sales CARD-42
  posctl flow scan registration --device --timeout 20s`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			step := flow.ResolveStep(kind)
			return withEnv(cmd, rootOpts, func(ctx context.Context, env *Env) error {
				if err := mount(ctx, env, kind, step); err != nil {
					return err
				}
				var (
					nav flow.Navigation
					err error
				)
				switch {
				case len(args) == 2:
					nav, err = env.Orchestrator.ResolveEntity(ctx, kind, step, args[1])
				case opts.Device:
					nav, err = scanDevice(ctx, cmd, env, kind, step, opts.Timeout)
				default:
					nav, err = typeCodes(ctx, cmd, env, kind, step)
				}
				if err != nil {
					return err
				}
				return printNavigation(cmd.OutOrStdout(), rootOpts.Format, nav)
			})
		},
	}
	cmd.Flags().BoolVar(&opts.Device, "device", false, "read one decoded value from a handheld scanner on stdin")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "capture timeout (defaults to POSFLOW_CAPTURE_TIMEOUT)")
	return cmd
}

func scanDevice(ctx context.Context, cmd *cobra.Command, env *Env, kind enums.FlowKind, step int, timeout time.Duration) (flow.Navigation, error) {
	if timeout <= 0 {
		timeout = env.Config.Flow.CaptureTimeout
	}
	session, err := capture.NewSession(
		capture.NewLineCamera(cmd.InOrStdin(), "handheld scanner"),
		capture.WithTimeout(timeout),
		capture.WithLogger(env.Logger),
		capture.WithMetrics(env.Metrics),
	)
	if err != nil {
		return flow.Navigation{}, err
	}
	defer session.Close(ctx)

	if err := session.StartPreview(ctx); err != nil {
		return flow.Navigation{}, err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "scan a card (%s)...\n", timeout)
	return env.Orchestrator.ScanEntity(ctx, kind, step, session)
}

// typeCodes feeds stdin lines into a resolver session until one completes the
// step. Rejected codes are reported and the operator can type another.
func typeCodes(ctx context.Context, cmd *cobra.Command, env *Env, kind enums.FlowKind, step int) (flow.Navigation, error) {
	var (
		advanced   bool
		nav        flow.Navigation
		advanceErr error
	)
	session, err := env.Orchestrator.OpenEntityInput(ctx, kind, step, func(n flow.Navigation, err error) {
		advanced = true
		nav, advanceErr = n, err
	})
	if err != nil {
		return flow.Navigation{}, err
	}
	defer session.Close()

	out := cmd.ErrOrStderr()
	scanner := bufio.NewScanner(cmd.InOrStdin())
	fmt.Fprint(out, "code: ")
	for scanner.Scan() {
		code := strings.TrimSpace(scanner.Text())
		if code == "" {
			fmt.Fprint(out, "code: ")
			continue
		}
		session.SetInput(ctx, code)
		session.Wait()
		if advanced {
			return nav, advanceErr
		}
		if st := session.Status(); st.Err != nil {
			fmt.Fprintf(out, "%v\n", st.Err)
		}
		fmt.Fprint(out, "code: ")
	}
	if err := scanner.Err(); err != nil {
		return flow.Navigation{}, err
	}
	return flow.Navigation{}, fmt.Errorf("no valid code entered")
}

func newFlowCommitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "commit <kind>",
		Short: "Send the finished wizard to the commit gateway",
		Long: `Send the wizard to the commit gateway with the key it has carried since
its first step. A failed commit leaves the wizard as it was; running commit
again retries with the same key and cannot apply the mutation twice.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			return withEnv(cmd, rootOpts, func(ctx context.Context, env *Env) error {
				if err := mount(ctx, env, kind, flow.CommitStep(kind)); err != nil {
					return err
				}
				nav, err := env.Orchestrator.Commit(ctx, kind)
				if err != nil {
					return err
				}
				return printNavigation(cmd.OutOrStdout(), rootOpts.Format, nav)
			})
		},
	}
}

func newFlowCancelCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <kind>",
		Short: "Abandon the wizard and forget its data and key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			return withEnv(cmd, rootOpts, func(ctx context.Context, env *Env) error {
				nav, err := env.Orchestrator.Cancel(ctx, kind)
				if err != nil {
					return err
				}
				return printNavigation(cmd.OutOrStdout(), rootOpts.Format, nav)
			})
		},
	}
}

// mount enters step the way a screen does before accepting input, so the flow
// owns its idempotency key from the first step on. A redirect is not an error
// here; the following call reports the locked step.
func mount(ctx context.Context, env *Env, kind enums.FlowKind, step int) error {
	_, err := env.Orchestrator.Enter(ctx, kind, step)
	return err
}

func parseKind(raw string) (enums.FlowKind, error) {
	return enums.ParseFlowKind(strings.ToLower(strings.TrimSpace(raw)))
}

// parseTarget accepts "<kind> <step>", "<kind>" (resume) or a single route.
func parseTarget(args []string) (enums.FlowKind, int, bool, error) {
	if strings.HasPrefix(args[0], "/") {
		if len(args) > 1 {
			return "", 0, false, fmt.Errorf("a route takes no step argument")
		}
		kind, step, err := flow.ParseRoute(args[0])
		return kind, step, false, err
	}
	kind, err := parseKind(args[0])
	if err != nil {
		return "", 0, false, err
	}
	if len(args) == 1 {
		return kind, 0, true, nil
	}
	step, err := strconv.Atoi(args[1])
	if err != nil {
		return "", 0, false, fmt.Errorf("invalid step %q", args[1])
	}
	return kind, step, false, nil
}
