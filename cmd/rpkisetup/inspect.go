package main

import (
	"github.com/bwesterb/rpki/idstore"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"bufio"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
)

// Get the message to inspect for a subcommand, by either reading it from
// stdin or the file given after the kind.
func inspectGetReader(cc *cli.Context) (io.ReadCloser, error) {
	if cc.Args().Len() < 2 {
		return io.NopCloser(os.Stdin), nil
	}
	r, err := os.Open(cc.Args().Get(1))
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Parses the message given by the <kind> [path] arguments.
func inspectGetMessage(cc *cli.Context) (kind, idstore.Message, error) {
	if cc.Args().Len() != 1 && cc.Args().Len() != 2 {
		cli.ShowSubcommandHelp(cc)
		return kind{}, nil, errArgs
	}
	k, err := kindFromString(cc.Args().Get(0))
	if err != nil {
		return kind{}, nil, err
	}
	r, err := inspectGetReader(cc)
	if err != nil {
		return kind{}, nil, err
	}
	defer r.Close()

	m, err := k.parse(bufio.NewReader(r), validationTime(cc))
	if err != nil {
		return kind{}, nil, err
	}
	return k, m, nil
}

func handleInspect(cc *cli.Context) error {
	_, m, err := inspectGetMessage(cc)
	if err != nil {
		return err
	}
	printMessage(cc.App.Writer, m)
	return nil
}

func handleReencode(cc *cli.Context) error {
	_, m, err := inspectGetMessage(cc)
	if err != nil {
		return err
	}
	return m.WriteXML(cc.App.Writer)
}

func handleVerify(cc *cli.Context) error {
	if cc.Args().Len() < 2 {
		cli.ShowSubcommandHelp(cc)
		return errArgs
	}
	k, err := kindFromString(cc.Args().First())
	if err != nil {
		return err
	}
	paths := cc.Args().Tail()
	when := validationTime(cc)

	// Errors per file are reported, not returned, so that every file is
	// checked.
	errs := make([]error, len(paths))
	var g errgroup.Group
	g.SetLimit(max(cc.Int("jobs"), 1))
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			f, err := os.Open(path)
			if err != nil {
				errs[i] = err
				return nil
			}
			defer f.Close()
			_, errs[i] = k.parse(bufio.NewReader(f), when)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	failed := 0
	w := tabwriter.NewWriter(cc.App.Writer, 1, 1, 1, ' ', 0)
	for i, path := range paths {
		if errs[i] != nil {
			failed++
			fmt.Fprintf(w, "%s\t❌\t%v\n", path, errs[i])
			continue
		}
		fmt.Fprintf(w, "%s\t✅\n", path)
	}
	w.Flush()

	if failed != 0 {
		return fmt.Errorf("%d of %d files failed to verify", failed, len(paths))
	}
	return nil
}
