package main

import (
	"github.com/bwesterb/rpki/idexchange"
	"github.com/bwesterb/rpki/idstore"
	"github.com/bwesterb/rpki/idstore/boltstore"
	"github.com/bwesterb/rpki/idstore/filestore"

	"github.com/urfave/cli/v2"

	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"
)

func openStore(cc *cli.Context) (idstore.Store, error) {
	path := cc.String("store")
	switch backend := cc.String("backend"); backend {
	case "fs":
		return filestore.Open(path, filestore.Opts{})
	case "bbolt":
		return boltstore.Open(path, boltstore.Opts{})
	default:
		return nil, fmt.Errorf("Unknown backend %q: expected fs or bbolt", backend)
	}
}

// Parses the <role> <handle> arguments.
func storeGetKey(cc *cli.Context) (idstore.Role, idexchange.Handle, error) {
	if cc.Args().Len() != 2 {
		cli.ShowSubcommandHelp(cc)
		return 0, "", errArgs
	}
	role, err := idstore.ParseRole(cc.Args().Get(0))
	if err != nil {
		return 0, "", err
	}
	handle, err := idexchange.ParseHandle(cc.Args().Get(1))
	if err != nil {
		return 0, "", fmt.Errorf("%s: %w", cc.Args().Get(1), err)
	}
	return role, handle, nil
}

func handleStoreAdd(cc *cli.Context) error {
	_, m, err := inspectGetMessage(cc)
	if err != nil {
		return err
	}
	e, err := idstore.NewEntry(m, time.Now())
	if err != nil {
		return err
	}

	s, err := openStore(cc)
	if err != nil {
		return err
	}
	defer s.Close()

	isNew, err := s.Put(cc.Context, e)
	if err != nil {
		return err
	}
	verb := "Replaced"
	if isNew {
		verb = "Added"
	}
	fmt.Fprintf(cc.App.Writer, "%s %s %s\n", verb, e.Role, e.Handle)
	return nil
}

func handleStoreList(cc *cli.Context) error {
	roles := idstore.Roles
	switch cc.Args().Len() {
	case 0:
	case 1:
		role, err := idstore.ParseRole(cc.Args().First())
		if err != nil {
			return err
		}
		roles = []idstore.Role{role}
	default:
		cli.ShowSubcommandHelp(cc)
		return errArgs
	}

	s, err := openStore(cc)
	if err != nil {
		return err
	}
	defer s.Close()

	count := 0
	w := tabwriter.NewWriter(cc.App.Writer, 1, 1, 1, ' ', 0)
	for _, role := range roles {
		es, err := s.List(cc.Context, role)
		if err != nil {
			return err
		}
		for _, e := range es {
			count++
			fmt.Fprintf(w, "%s\t%s\t%s\n", e.Role, e.Handle,
				e.Added.Format(time.RFC3339))
		}
	}
	w.Flush()
	slog.Debug("Listed store", "path", cc.String("store"), "entries", count)
	return nil
}

func handleStoreShow(cc *cli.Context) error {
	role, handle, err := storeGetKey(cc)
	if err != nil {
		return err
	}

	s, err := openStore(cc)
	if err != nil {
		return err
	}
	defer s.Close()

	e, err := s.Get(cc.Context, role, handle)
	if err != nil {
		return fmt.Errorf("%s %s: %w", role, handle, err)
	}

	if cc.Bool("xml") {
		_, err = cc.App.Writer.Write(e.Message)
		return err
	}

	m, err := e.Decode(validationTime(cc))
	if err != nil {
		return err
	}
	fmt.Fprintf(cc.App.Writer, "added %s as %s\n",
		e.Added.Format(time.RFC3339), kindFromRole(e.Role).name)
	printMessage(cc.App.Writer, m)
	return nil
}

func handleStoreRemove(cc *cli.Context) error {
	role, handle, err := storeGetKey(cc)
	if err != nil {
		return err
	}

	s, err := openStore(cc)
	if err != nil {
		return err
	}
	defer s.Close()

	found, err := s.Delete(cc.Context, role, handle)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%s %s: %w", role, handle, idstore.ErrNotFound)
	}
	fmt.Fprintf(cc.App.Writer, "Removed %s %s\n", role, handle)
	return nil
}
