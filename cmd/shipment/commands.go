package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"shipment/internal/client"
	"shipment/internal/tracker"
)

// parseArgs decodes the --args flag; an empty value means no arguments.
func parseArgs(raw string) (json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("--args must be valid JSON")
	}
	return json.RawMessage(raw), nil
}

func newCallCommand(cli *CLI) *cobra.Command {
	var argsJSON string
	var noCapture bool

	cmd := &cobra.Command{
		Use:   "call <action>",
		Short: "Call an action and stream its lifecycle, data and log lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.initialize(cmd); err != nil {
				return err
			}
			actionArgs, err := parseArgs(argsJSON)
			if err != nil {
				return err
			}

			r := newRenderer(cli.out, !cli.noColor && isTTY(cli.out))
			opts := []client.CallOption{
				client.WithLifecycle(r.Lifecycle),
				client.WithDataReceiver(r.Data),
				client.WithLogReceiver(r.Log),
			}
			if noCapture {
				opts = append(opts, client.WithoutResultCapture())
			}

			tr, err := cli.client.Call(cmd.Context(), args[0], actionArgs, opts...)
			if err != nil {
				return err
			}
			out, err := tr.Wait(cmd.Context())
			if err != nil {
				tr.Cancel()
				return err
			}
			if out.Result != nil {
				fmt.Fprintln(cli.out, prettyJSON(out.Result))
			}
			if out.Status != tracker.StatusSucceeded {
				return out.Err
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&argsJSON, "args", "a", "", "Action arguments as a JSON object")
	cmd.Flags().BoolVar(&noCapture, "no-capture", false, "Do not capture the root result")
	return cmd
}

func newInvokeCommand(cli *CLI) *cobra.Command {
	var argsJSON string

	cmd := &cobra.Command{
		Use:   "invoke <action>",
		Short: "Call an action and print only its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.initialize(cmd); err != nil {
				return err
			}
			actionArgs, err := parseArgs(argsJSON)
			if err != nil {
				return err
			}

			result, err := cli.client.Invoke(cmd.Context(), args[0], actionArgs)
			if err != nil {
				return err
			}
			if result == nil {
				result = json.RawMessage("null")
			}
			fmt.Fprintln(cli.out, prettyJSON(result))
			return nil
		},
	}
	cmd.Flags().StringVarP(&argsJSON, "args", "a", "", "Action arguments as a JSON object")
	return cmd
}

func newActionsCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "actions",
		Short: "List the actions the server exposes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.initialize(cmd); err != nil {
				return err
			}
			table, err := cli.client.Discover(cmd.Context(), cli.cfg.AppName)
			if err != nil {
				return err
			}

			fmt.Fprintf(cli.out, "%s %s\n", bold("App:"), table.App())
			tw := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ACTION\tALIAS\tDESCRIPTION")
			for _, name := range table.Names() {
				action, _ := table.Lookup(name)
				fmt.Fprintf(tw, "%s\t%s\t%s\n", action.Name, action.Alias, describe(action.Info))
			}
			return tw.Flush()
		},
	}
}

func describe(info json.RawMessage) string {
	var fields struct {
		Description string `json:"description"`
	}
	if err := json.Unmarshal(info, &fields); err != nil {
		return ""
	}
	return fields.Description
}

// parseBatchRequest accepts "action" or "action=<json args>".
func parseBatchRequest(spec string) (client.Request, error) {
	name, raw, found := strings.Cut(spec, "=")
	name = strings.TrimSpace(name)
	if name == "" {
		return client.Request{}, fmt.Errorf("empty action in %q", spec)
	}
	if !found {
		return client.Request{Action: name}, nil
	}
	args, err := parseArgs(raw)
	if err != nil {
		return client.Request{}, fmt.Errorf("%s: %w", name, err)
	}
	return client.Request{Action: name, Args: args}, nil
}

func newBatchCommand(cli *CLI) *cobra.Command {
	var concurrency int
	var failFast bool
	var stream bool

	cmd := &cobra.Command{
		Use:   "batch <action[=json]>...",
		Short: "Run several actions concurrently",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.initialize(cmd); err != nil {
				return err
			}

			requests := make([]client.Request, 0, len(args))
			for _, spec := range args {
				req, err := parseBatchRequest(spec)
				if err != nil {
					return err
				}
				requests = append(requests, req)
			}

			opts := client.BatchOptions{Concurrency: cli.cfg.Batch.Concurrency, FailFast: cli.cfg.Batch.FailFast}
			if cmd.Flags().Changed("concurrency") {
				opts.Concurrency = concurrency
			}
			if cmd.Flags().Changed("fail-fast") {
				opts.FailFast = failFast
			}

			var callOpts []client.CallOption
			if stream {
				r := newRenderer(cli.out, !cli.noColor && isTTY(cli.out))
				callOpts = append(callOpts, client.WithLogReceiver(r.Log), client.WithDataReceiver(r.Data))
			}

			responses, err := cli.client.InvokeAll(cmd.Context(), requests, opts, callOpts...)

			tw := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ACTION\tSTATUS\tDURATION\tRESULT")
			failed := 0
			for _, resp := range responses {
				if resp.Action == "" {
					continue
				}
				status, detail := green("ok"), compactJSON(resp.Result)
				if resp.Err != nil {
					failed++
					status, detail = red("failed"), userMessage(resp.Err)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", resp.Action, status, resp.Duration.Round(time.Millisecond), detail)
			}
			if flushErr := tw.Flush(); flushErr != nil {
				return flushErr
			}

			if err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d actions failed", failed, len(requests))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Maximum concurrent invocations")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "Cancel remaining invocations after the first failure")
	cmd.Flags().BoolVar(&stream, "stream", false, "Print log and data lines as they arrive")
	return cmd
}

func compactJSON(raw json.RawMessage) string {
	if raw == nil {
		return "null"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
