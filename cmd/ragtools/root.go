package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/ragtools/callbacks"
	"github.com/effective-security/ragtools/pkg/config"
	"github.com/effective-security/ragtools/rag"
	"github.com/effective-security/ragtools/tools"
	"github.com/effective-security/ragtools/tools/search"
	"github.com/effective-security/xlog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/ragtools", "cmd")

type options struct {
	cfgFile string
	output  string
	verbose bool
}

// app holds the tools of one command invocation.
type app struct {
	opts       *options
	reg        *tools.Registry
	tools      *rag.Tools
	scratchpad *callbacks.Scratchpad
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "ragtools",
		Short:         "Knowledge base tools for the realtime middle tier",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch opts.output {
			case "yaml", "json":
			default:
				return errors.Errorf("unsupported output format: %s", opts.output)
			}
			if opts.verbose {
				xlog.SetFormatter(xlog.NewStringFormatter(cmd.ErrOrStderr()))
				xlog.SetGlobalLogLevel(xlog.DEBUG)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default is the environment)")
	rootCmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "yaml", "output format: yaml|json")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(newDefinitionsCmd(opts))
	rootCmd.AddCommand(newSearchCmd(opts))
	rootCmd.AddCommand(newGroundCmd(opts))
	rootCmd.AddCommand(newCallCmd(opts))

	return rootCmd
}

func newApp(ctx context.Context, opts *options, out io.Writer) (*app, error) {
	cfg, err := config.Load(opts.cfgFile)
	if err != nil {
		return nil, err
	}

	mode := callbacks.ModeDefault
	if opts.verbose {
		mode = callbacks.ModeVerbose
	}
	scratchpad := callbacks.NewScratchpad(mode)
	cb := callbacks.NewFanout(scratchpad, callbacks.NewPackageLogger(logger))
	if opts.verbose {
		cb.Add(callbacks.NewPrinter(out, mode))
	}

	reg := tools.NewRegistry(tools.WithCallback(cb))
	t, err := rag.Attach(ctx, reg, cfg)
	if err != nil {
		return nil, err
	}
	return &app{
		opts:       opts,
		reg:        reg,
		tools:      t,
		scratchpad: scratchpad,
	}, nil
}

func (a *app) print(w io.Writer, v any) error {
	if a.opts.output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	// schemas and payloads are JSON shaped, convert them through a node
	// to keep the key order.
	js, err := json.Marshal(v)
	if err != nil {
		return errors.WithStack(err)
	}
	var node yaml.Node
	if err = yaml.Unmarshal(js, &node); err != nil {
		return errors.WithStack(err)
	}
	blockStyle(&node)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err = enc.Encode(&node); err != nil {
		return errors.WithStack(err)
	}
	return enc.Close()
}

func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}

func (a *app) printTranscript(ctx context.Context, w io.Writer) {
	stats, transcript := a.scratchpad.EndRun(ctx)
	if stats == nil || !a.opts.verbose {
		return
	}
	_, _ = w.Write(transcript)
}

func newDefinitionsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "definitions",
		Short: "Print the function definitions of the registered tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), a.reg.Definitions())
		},
	}
}

func newSearchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search the knowledge base and print the formatted results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			res, err := a.tools.Search.Run(cmd.Context(), &search.Request{Query: args[0]})
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), res.String())
			return err
		},
	}
}

func newGroundCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ground <id>...",
		Short: "Resolve chunk identifiers to their sources",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			resp := a.tools.Grounding.Ground(cmd.Context(), args)
			if err = a.print(cmd.OutOrStdout(), resp); err != nil {
				return err
			}
			if resp.Error != "" {
				return errors.Errorf("grounding failed: %s", resp.Error)
			}
			return nil
		},
	}
}

func newCallCmd(opts *options) *cobra.Command {
	var callID, previousItemID, runID string

	cmd := &cobra.Command{
		Use:   "call <tool> <arguments>",
		Short: "Invoke a tool by name and print the routed realtime events",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := callbacks.WithRunID(cmd.Context(), runID)
			a, err := newApp(ctx, opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			a.scratchpad.StartRun(ctx)
			defer a.printTranscript(ctx, cmd.ErrOrStderr())

			routed, err := a.reg.Handle(ctx, &tools.Call{
				CallID:         callID,
				Name:           args[0],
				Arguments:      args[1],
				PreviousItemID: previousItemID,
			})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "server: %s\n", routed.Server)
			if routed.Client != nil {
				fmt.Fprintf(w, "client: %s\n", routed.Client)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&callID, "call-id", "", "function call ID (default is generated)")
	cmd.Flags().StringVar(&previousItemID, "previous-item-id", "", "conversation item of the call")
	cmd.Flags().StringVar(&runID, "run-id", "", "run ID of the transcript (default is generated)")
	return cmd
}

