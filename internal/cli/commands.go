package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/vk/stagegrid/internal/app"
	"github.com/vk/stagegrid/internal/catalog"
	"github.com/vk/stagegrid/internal/config"
	"github.com/vk/stagegrid/internal/hcl"
	"github.com/vk/stagegrid/internal/orchestrator"
	"github.com/vk/stagegrid/internal/params"
	"github.com/vk/stagegrid/internal/registry"
	"github.com/vk/stagegrid/internal/state"
)

func newServeCommand(flags *globalFlags, modules []registry.Module) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, flags)
			if err != nil {
				return err
			}
			a, err := app.NewApp(cmd.OutOrStdout(), cfg, hcl.NewLoader(), modules...)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return a.Serve(ctx, nil)
		},
	}
}

// runFlags are the flags of the run subcommand.
type runFlags struct {
	inputs []string
	vars   []string
	branch string
	event  string
	actor  string
}

func newRunCommand(flags *globalFlags, modules []registry.Module) *cobra.Command {
	rf := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run DEFINITION_ID",
		Short: "Run one definition to completion and print the status of every stage.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, flags)
			if err != nil {
				return err
			}
			a, err := app.NewApp(cmd.ErrOrStderr(), cfg, hcl.NewLoader(), modules...)
			if err != nil {
				return err
			}

			defID := args[0]
			def, ok := a.Catalog().Get(defID)
			if !ok {
				_ = a.Close(context.Background())
				return &ExitError{Code: ExitUsage, Message: fmt.Sprintf("unknown definition %q", defID)}
			}
			inputs, err := parseInputs(def, rf.inputs)
			if err != nil {
				_ = a.Close(context.Background())
				return &ExitError{Code: ExitUsage, Message: err.Error()}
			}
			vars, err := parsePairs(rf.vars)
			if err != nil {
				_ = a.Close(context.Background())
				return &ExitError{Code: ExitUsage, Message: err.Error()}
			}
			trigger := config.Trigger{Branch: rf.branch, Event: rf.event, Actor: rf.actor, Vars: vars}

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			status, err := a.RunOnce(ctx, defID, inputs, trigger)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), status)

			switch status.Overall {
			case state.RunFailed:
				return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("run %s failed", status.RunID)}
			case state.RunCancelled:
				return &ExitError{Code: ExitCancelled, Message: fmt.Sprintf("run %s cancelled", status.RunID)}
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringArrayVarP(&rf.inputs, "input", "i", nil, "Input as name=value; repeatable.")
	f.StringArrayVar(&rf.vars, "var", nil, "Trigger variable as name=value; repeatable.")
	f.StringVar(&rf.branch, "branch", "", "Branch the run is triggered for.")
	f.StringVar(&rf.event, "event", "manual", "Event that triggered the run.")
	f.StringVar(&rf.actor, "actor", "", "Who triggered the run.")
	return cmd
}

func newValidateCommand(flags *globalFlags, modules []registry.Module) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load every definition, check its graph and that every stage kind has an executor.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, flags)
			if err != nil {
				return err
			}
			cat := catalog.New(hcl.NewLoader(), cfg.DefinitionsPath)
			if err := cat.Load(cmd.Context()); err != nil {
				return &ExitError{Code: ExitFailure, Message: err.Error()}
			}

			reg := registry.New()
			reg.RegisterModules(modules...)
			var problems []error
			for _, def := range cat.List() {
				for _, s := range def.Stages {
					if _, err := reg.Lookup(s.Kind); err != nil {
						problems = append(problems, fmt.Errorf("definition %q stage %q: %w", def.ID, s.Name, err))
					}
				}
			}
			if len(problems) > 0 {
				return &ExitError{Code: ExitFailure, Message: errors.Join(problems...).Error()}
			}

			out := cmd.OutOrStdout()
			for _, def := range cat.List() {
				fmt.Fprintf(out, "✅ %s (%d stages)\n", def.ID, len(def.Stages))
			}
			fmt.Fprintf(out, "%d definitions valid\n", cat.Len())
			return nil
		},
	}
}

// parseInputs converts name=value pairs to values of the parameter type the
// definition declares. Undeclared names stay strings and are rejected at
// submission.
func parseInputs(def *config.Definition, raw []string) (map[string]any, error) {
	pairs, err := parsePairs(raw)
	if err != nil {
		return nil, err
	}
	inputs := make(map[string]any, len(pairs))
	for name, value := range pairs {
		inputs[name] = value
		for _, s := range def.Stages {
			p, ok := s.Params[name]
			if !ok {
				continue
			}
			v, err := params.ParseInput(p, value)
			if err != nil {
				return nil, err
			}
			inputs[name] = v
			break
		}
	}
	return inputs, nil
}

func parsePairs(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(raw))
	for _, kv := range raw {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid pair %q: want name=value", kv)
		}
		out[name] = value
	}
	return out, nil
}

// printStatus writes one line per stage in definition order.
func printStatus(w io.Writer, status *orchestrator.Status) {
	order := status.Order
	if len(order) == 0 {
		for name := range status.Stages {
			order = append(order, name)
		}
		sort.Strings(order)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "RUN\t%s\t%s\n", status.RunID, status.Overall)
	fmt.Fprintln(tw, "STAGE\tSTATUS\tDETAIL")
	for _, name := range order {
		st := status.Stages[name]
		detail := st.Reason
		if st.SkipReason != state.SkipNone {
			detail = string(st.SkipReason)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, st.Status, detail)
	}
	_ = tw.Flush()
}
