// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// srr is the command line client of srrd.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/juju/srr/config"
	"github.com/juju/srr/rpc/params"
)

const requestTimeout = 30 * time.Minute

func main() {
	os.Exit(Main(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

type options struct {
	operation  string
	passphrase string
	groups     string
	file       string
	force      bool
	addr       string
}

// Main runs the client and returns the exit code.
func Main(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if errors.Is(err, gnuflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "srr: %v\n", err)
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	c := newClient(opts.addr, &http.Client{})
	cmd := &command{opts: opts, client: c, stdin: stdin, stdout: stdout, stderr: stderr}
	if err := cmd.run(ctx); err != nil {
		fmt.Fprintf(stderr, "srr: %v\n", err)
		return 1
	}
	return 0
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	opts := options{addr: "http://" + config.DefaultHTTPListen}
	fs := gnuflag.NewFlagSet("srr", gnuflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.operation, "o", "", "operation: list, save, restore or reset")
	fs.StringVar(&opts.operation, "operation", "", "")
	fs.StringVar(&opts.passphrase, "p", "", "passphrase protecting the saved data")
	fs.StringVar(&opts.passphrase, "passphrase", "", "")
	fs.StringVar(&opts.groups, "g", "", "comma separated groups to save or reset (default all)")
	fs.StringVar(&opts.groups, "groups", "", "")
	fs.StringVar(&opts.file, "f", "", "file to save to or restore from (default stdout or stdin)")
	fs.StringVar(&opts.file, "file", "", "")
	fs.BoolVar(&opts.force, "force", false, "restore even if the data integrity check fails")
	fs.StringVar(&opts.addr, "addr", opts.addr, "address of srrd")
	if err := fs.Parse(true, args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, errors.Errorf("unrecognized arguments: %v", fs.Args())
	}
	switch opts.operation {
	case "list", "reset":
	case "save", "restore":
		if opts.passphrase == "" {
			return options{}, errors.Errorf("%s requires a passphrase", opts.operation)
		}
	case "":
		return options{}, errors.New("no operation specified")
	default:
		return options{}, errors.Errorf("unknown operation %q", opts.operation)
	}
	return opts, nil
}

type command struct {
	opts   options
	client *client
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func (c *command) run(ctx context.Context) error {
	switch c.opts.operation {
	case "list":
		return c.list(ctx)
	case "save":
		return c.save(ctx)
	case "restore":
		return c.restore(ctx)
	case "reset":
		return c.reset(ctx)
	}
	return errors.Errorf("unknown operation %q", c.opts.operation)
}

func (c *command) groups(ctx context.Context) ([]string, error) {
	if c.opts.groups != "" {
		var groups []string
		for _, g := range strings.Split(c.opts.groups, ",") {
			if g = strings.TrimSpace(g); g != "" {
				groups = append(groups, g)
			}
		}
		return groups, nil
	}
	list, err := c.client.List(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	groups := make([]string, len(list.Groups))
	for i, g := range list.Groups {
		groups[i] = g.GroupID
	}
	return groups, nil
}

func (c *command) list(ctx context.Context) error {
	list, err := c.client.List(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	table := uitable.New()
	table.MaxColWidth = 60
	table.Wrap = true
	table.AddRow("Group", "Name", "Features")
	for _, g := range list.Groups {
		features := make([]string, len(g.Features))
		for i, f := range g.Features {
			features[i] = f.Name
		}
		table.AddRow(g.GroupID, g.GroupName, strings.Join(features, ", "))
	}
	fmt.Fprintln(c.stdout, table)
	fmt.Fprintf(c.stdout, "\nProtocol version %s. %s.\n", list.Version, list.PassphraseDescription)
	return nil
}

func (c *command) save(ctx context.Context) error {
	groups, err := c.groups(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	resp, err := c.client.Save(ctx, params.SaveRequest{Passphrase: c.opts.passphrase, GroupList: groups})
	if err != nil {
		return errors.Trace(err)
	}
	if resp.Status == "FAILED" {
		return errors.Errorf("save failed: %s", resp.Error)
	}

	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return errors.Annotate(err, "encoding saved data")
	}
	data = append(data, '\n')
	if c.opts.file == "" {
		if _, err := c.stdout.Write(data); err != nil {
			return errors.Trace(err)
		}
	} else if err := os.WriteFile(c.opts.file, data, 0600); err != nil {
		return errors.Annotatef(err, "writing %q", c.opts.file)
	} else {
		fmt.Fprintf(c.stderr, "saved %d groups (%s) to %s\n", len(resp.Data), humanize.Bytes(uint64(len(data))), c.opts.file)
	}
	if resp.Status != "SUCCESS" {
		return errors.Errorf("save %s: %s", resp.Status, resp.Error)
	}
	return nil
}

func (c *command) restore(ctx context.Context) error {
	var (
		data []byte
		err  error
	)
	if c.opts.file == "" {
		data, err = io.ReadAll(c.stdin)
	} else {
		data, err = os.ReadFile(c.opts.file)
	}
	if err != nil {
		return errors.Annotate(err, "reading saved data")
	}

	var saved struct {
		Version  string          `json:"version"`
		Checksum string          `json:"checksum"`
		Data     json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &saved); err != nil {
		return errors.Annotate(err, "decoding saved data")
	}
	resp, err := c.client.Restore(ctx, params.RestoreRequest{
		Version:    saved.Version,
		Passphrase: c.opts.passphrase,
		Checksum:   saved.Checksum,
		Data:       saved.Data,
	}, c.opts.force)
	if err != nil {
		return errors.Trace(err)
	}

	table := uitable.New()
	table.MaxColWidth = 80
	table.Wrap = true
	table.AddRow("Name", "Status", "Error")
	for _, st := range resp.StatusList {
		table.AddRow(st.Name, st.Status, st.Error)
	}
	fmt.Fprintln(c.stdout, table)
	if resp.Status != "SUCCESS" {
		if resp.Error != "" {
			return errors.Errorf("restore %s: %s", resp.Status, resp.Error)
		}
		return errors.Errorf("restore %s", resp.Status)
	}
	return nil
}

func (c *command) reset(ctx context.Context) error {
	groups, err := c.groups(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	resp, err := c.client.Reset(ctx, params.ResetRequest{GroupList: groups})
	if err != nil {
		return errors.Trace(err)
	}
	fmt.Fprintln(c.stdout, resp.Status)
	return nil
}
