package main

import (
	"github.com/bwesterb/rpki"
	"github.com/bwesterb/rpki/idcert"
	"github.com/bwesterb/rpki/idexchange"
	"github.com/bwesterb/rpki/idstore"

	"github.com/urfave/cli/v2"

	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"
)

var errArgs = errors.New("Wrong number of arguments")

// A kind of out-of-band setup message.
type kind struct {
	name  string
	role  idstore.Role
	parse func(r io.Reader, when time.Time) (idstore.Message, error)
}

func parser[M idstore.Message](f func(io.Reader, time.Time) (M, error)) func(
	io.Reader, time.Time) (idstore.Message, error) {
	return func(r io.Reader, when time.Time) (idstore.Message, error) {
		m, err := f(r, when)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}

var kinds = []kind{
	{"child-request", idstore.RoleChild,
		parser(idexchange.ParseChildRequestAt)},
	{"parent-response", idstore.RoleParent,
		parser(idexchange.ParseParentResponseAt)},
	{"publisher-request", idstore.RolePublisher,
		parser(idexchange.ParsePublisherRequestAt)},
	{"repository-response", idstore.RoleRepository,
		parser(idexchange.ParseRepositoryResponseAt)},
}

func kindNames() []string {
	ret := make([]string, len(kinds))
	for i, k := range kinds {
		ret[i] = k.name
	}
	return ret
}

func kindFromString(name string) (kind, error) {
	for _, k := range kinds {
		if k.name == name {
			return k, nil
		}
	}
	return kind{}, fmt.Errorf("Unknown kind %q: expected one of %s",
		name, kindNames())
}

func kindFromRole(role idstore.Role) kind {
	for _, k := range kinds {
		if k.role == role {
			return k
		}
	}
	panic("no kind for role")
}

// Returns the time at which to validate identity certificates.
func validationTime(cc *cli.Context) time.Time {
	if at := cc.Timestamp("at"); at != nil {
		return *at
	}
	return time.Now()
}

// Writes the fields of the message in two columns.
func printMessage(w io.Writer, m idstore.Message) {
	tw := tabwriter.NewWriter(w, 1, 1, 1, ' ', 0)
	tag := func(tag string, ok bool) {
		if ok {
			fmt.Fprintf(tw, "tag\t%s\n", tag)
		}
	}

	var cert *idcert.IdCert
	switch m := m.(type) {
	case *idexchange.ChildRequest:
		cert = m.IdCert()
		fmt.Fprintf(tw, "type\tchild_request\n")
		fmt.Fprintf(tw, "child_handle\t%s\n", m.ChildHandle())
		tag(m.Tag())
	case *idexchange.ParentResponse:
		cert = m.IdCert()
		fmt.Fprintf(tw, "type\tparent_response\n")
		fmt.Fprintf(tw, "parent_handle\t%s\n", m.ParentHandle())
		fmt.Fprintf(tw, "child_handle\t%s\n", m.ChildHandle())
		fmt.Fprintf(tw, "service_uri\t%s\n", m.ServiceURI())
		tag(m.Tag())
	case *idexchange.PublisherRequest:
		cert = m.IdCert()
		fmt.Fprintf(tw, "type\tpublisher_request\n")
		fmt.Fprintf(tw, "publisher_handle\t%s\n", m.PublisherHandle())
		tag(m.Tag())
	case *idexchange.RepositoryResponse:
		cert = m.IdCert()
		fmt.Fprintf(tw, "type\trepository_response\n")
		fmt.Fprintf(tw, "publisher_handle\t%s\n", m.PublisherHandle())
		fmt.Fprintf(tw, "service_uri\t%s\n", m.ServiceURI())
		fmt.Fprintf(tw, "sia_base\t%s\n", m.SIABase())
		if u, ok := m.RRDPNotificationURI(); ok {
			fmt.Fprintf(tw, "rrdp_notification_uri\t%s\n", u)
		}
		tag(m.Tag())
	}

	if cert != nil {
		c := cert.Certificate()
		v, err := rpki.NewVerifier(c.PublicKey)
		if err == nil {
			fmt.Fprintf(tw, "public_key fingerprint\t%s\n",
				rpki.VerifierFingerprint(v))
		}
		fmt.Fprintf(tw, "id_cert subject\t%s\n", c.Subject)
		fmt.Fprintf(tw, "id_cert subject_key_id\t%s\n", cert.SubjectKeyID())
		fmt.Fprintf(tw, "id_cert not_before\t%s\n", c.NotBefore.UTC())
		fmt.Fprintf(tw, "id_cert not_after\t%s\n", c.NotAfter.UTC())
		fmt.Fprintf(tw, "id_cert signature_algorithm\t%s\n",
			cert.SignatureAlgorithm())
		fmt.Fprintf(tw, "id_cert fingerprint\t%s\n", cert.Fingerprint())
	}
	tw.Flush()
}

func newApp() *cli.App {
	kindUsage := fmt.Sprintf("<kind> is one of %s", kindNames())
	return &cli.App{
		Name:  "rpkisetup",
		Usage: "handles RFC 8183 out-of-band setup messages",
		Flags: []cli.Flag{
			&cli.TimestampFlag{
				Name:   "at",
				Usage:  "validate identity certificates at this time instead of now",
				Layout: time.RFC3339,
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log debug messages",
			},
		},
		Commands: []*cli.Command{
			{
				Name:        "inspect",
				Usage:       "parses a message and prints its fields",
				Description: kindUsage,
				Action:      handleInspect,
				ArgsUsage:   "<kind> [path]",
			},
			{
				Name:        "reencode",
				Usage:       "parses a message and writes it out in canonical form",
				Description: kindUsage,
				Action:      handleReencode,
				ArgsUsage:   "<kind> [path]",
			},
			{
				Name:        "verify",
				Usage:       "checks several messages",
				Description: kindUsage,
				Action:      handleVerify,
				ArgsUsage:   "<kind> <path>...",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "jobs",
						Usage: "number of files to check at the same time",
						Value: 4,
					},
				},
			},
			{
				Name:  "store",
				Usage: "keeps messages from parents, children, publishers and repositories",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "store",
						Usage: "path to the store",
						Value: "idstore",
					},
					&cli.StringFlag{
						Name:  "backend",
						Usage: "fs (a directory) or bbolt (a single file)",
						Value: "fs",
					},
				},
				Subcommands: []*cli.Command{
					{
						Name:        "add",
						Usage:       "adds or replaces a message",
						Description: kindUsage,
						Action:      handleStoreAdd,
						ArgsUsage:   "<kind> [path]",
					},
					{
						Name:      "list",
						Usage:     "lists stored messages",
						Action:    handleStoreList,
						ArgsUsage: "[role]",
					},
					{
						Name:      "show",
						Usage:     "prints a stored message",
						Action:    handleStoreShow,
						ArgsUsage: "<role> <handle>",
						Flags: []cli.Flag{
							&cli.BoolFlag{
								Name:  "xml",
								Usage: "print the message itself",
							},
						},
					},
					{
						Name:      "remove",
						Usage:     "removes a stored message",
						Action:    handleStoreRemove,
						ArgsUsage: "<role> <handle>",
					},
				},
			},
		},
		Before: func(cc *cli.Context) error {
			level := slog.LevelInfo
			if cc.Bool("verbose") {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(
				cc.App.ErrWriter,
				&slog.HandlerOptions{Level: level},
			)))
			return nil
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		if err != errArgs {
			fmt.Printf("error: %v\n", err.Error())
		}
		os.Exit(1)
	}
}
