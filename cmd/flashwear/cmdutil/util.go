// Package cmdutil provides shared utilities for flashwear commands.
package cmdutil

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/marmos91/flashwear/internal/cli/credentials"
	"github.com/marmos91/flashwear/internal/cli/output"
	"github.com/marmos91/flashwear/pkg/apiclient"
)

// EnvToken supplies the operator token when --token is not set.
const EnvToken = "FLASHWEAR_TOKEN"

// DefaultServerURL is used when neither --server nor a saved session names
// a daemon.
const DefaultServerURL = "http://localhost:8080"

// Flags stores global flag values accessible by subcommands.
var Flags = &GlobalFlags{}

// GlobalFlags holds the global flag values.
type GlobalFlags struct {
	ConfigFile string
	ServerURL  string
	Token      string
	Output     string
	NoColor    bool
}

// Target is the daemon a remote command talks to.
type Target struct {
	ServerURL string
	Token     string
}

// ResolveTarget picks the server URL and token. Flags win over the
// environment, which wins over the saved session. An expired saved token is
// reported instead of being sent.
func ResolveTarget(flags GlobalFlags, envToken string, sess *credentials.Session, requireToken bool) (Target, error) {
	if sess == nil {
		sess = &credentials.Session{}
	}

	t := Target{ServerURL: firstNonEmpty(flags.ServerURL, sess.ServerURL, DefaultServerURL)}

	switch {
	case flags.Token != "":
		t.Token = flags.Token
	case envToken != "":
		t.Token = envToken
	case sess.Token != "":
		if sess.IsExpired() {
			return t, errors.New("saved token expired. Run 'flashwear token --save' to mint a new one")
		}
		t.Token = sess.Token
	}

	if requireToken && t.Token == "" {
		return t, fmt.Errorf("no operator token. Pass --token, set %s or run 'flashwear token --save'", EnvToken)
	}
	return t, nil
}

// GetClient returns an API client for the resolved target. Read-only
// commands pass requireToken=false.
func GetClient(requireToken bool) (*apiclient.Client, error) {
	sess, err := loadSession()
	if err != nil {
		return nil, err
	}
	t, err := ResolveTarget(*Flags, os.Getenv(EnvToken), sess, requireToken)
	if err != nil {
		return nil, err
	}
	return apiclient.New(t.ServerURL).WithToken(t.Token), nil
}

func loadSession() (*credentials.Session, error) {
	store, err := credentials.NewStore()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential store: %w", err)
	}
	sess, err := store.Load()
	if errors.Is(err, credentials.ErrNoSession) {
		return nil, nil
	}
	return sess, err
}

// GetOutputFormatParsed returns the parsed output format.
func GetOutputFormatParsed() (output.Format, error) {
	return output.ParseFormat(Flags.Output)
}

// NewPrinter returns a printer for w honoring --output and --no-color.
func NewPrinter(w io.Writer) (*output.Printer, error) {
	format, err := GetOutputFormatParsed()
	if err != nil {
		return nil, err
	}
	return output.NewPrinter(w, format, !Flags.NoColor), nil
}

// PrintOutput prints data as JSON or YAML, or renders table in table mode.
func PrintOutput(w io.Writer, data any, table output.TableRenderer) error {
	p, err := NewPrinter(w)
	if err != nil {
		return err
	}
	return p.PrintStructured(data, table)
}

// PrintSuccess prints a success message if the output format is table.
func PrintSuccess(w io.Writer, msg string) {
	p, err := NewPrinter(w)
	if err != nil || p.IsStructured() {
		return
	}
	p.Success(msg)
}

// PrintWarning prints a warning if the output format is table.
func PrintWarning(w io.Writer, msg string) {
	p, err := NewPrinter(w)
	if err != nil || p.IsStructured() {
		return
	}
	p.Warning(msg)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
