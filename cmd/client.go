package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/apex/log"
	"github.com/pqrdesk/pqrclient/auth"
	"github.com/pqrdesk/pqrclient/client"
	"github.com/pqrdesk/pqrclient/common"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// Output formats
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// OutputCLIArgs output arguments shared by the client commands
type OutputCLIArgs struct {
	Format string `validate:"required,oneof=json yaml"`
}

// GetOutputCLIFlags retrieve the set of CMD flags controlling command output
func GetOutputCLIFlags(args *OutputCLIArgs) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "output",
			Usage:       "Output format: [json yaml]",
			Aliases:     []string{"o"},
			EnvVars:     []string{"PQR_OUTPUT"},
			Value:       FormatJSON,
			DefaultText: FormatJSON,
			Destination: &args.Format,
			Required:    false,
		},
	}
}

// Printer writes command results in the selected format
type Printer struct {
	lock   sync.Mutex
	format string
	out    io.Writer
}

// NewPrinter define a new Printer
func NewPrinter(format string, out io.Writer) (*Printer, error) {
	if format != FormatJSON && format != FormatYAML {
		return nil, fmt.Errorf("unsupported output format '%s'", format)
	}
	return &Printer{format: format, out: out}, nil
}

// Print write one value. YAML documents are separated with "---".
func (p *Printer) Print(value interface{}) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.format == FormatYAML {
		// Round trip through JSON so the JSON field names are kept
		serialized, err := json.Marshal(value)
		if err != nil {
			return err
		}
		var generic interface{}
		if err := yaml.Unmarshal(serialized, &generic); err != nil {
			return err
		}
		if _, err := fmt.Fprintln(p.out, "---"); err != nil {
			return err
		}
		encoder := yaml.NewEncoder(p.out)
		encoder.SetIndent(2)
		if err := encoder.Encode(generic); err != nil {
			return err
		}
		return encoder.Close()
	}
	encoder := json.NewEncoder(p.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

// ClientContext the state shared by the client commands
type ClientContext struct {
	common.Component
	Config  *common.SystemConfig
	Client  *client.RequestClient
	Printer *Printer
}

// NewClientContext define a ClientContext. The session token is read from the
// configured token file.
func NewClientContext(
	config *common.SystemConfig, output OutputCLIArgs, out io.Writer, instance string,
) (*ClientContext, error) {
	logTags := log.Fields{"module": "cmd", "component": "client", "instance": instance}
	if config == nil {
		return nil, fmt.Errorf("no config provided")
	}
	credentials, err := auth.NewFileCredentialStore(config.Auth.TokenFile)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to open token file")
		return nil, err
	}
	return newClientContext(config, credentials, output, out, logTags)
}

func newClientContext(
	config *common.SystemConfig,
	credentials auth.CredentialStore,
	output OutputCLIArgs,
	out io.Writer,
	logTags log.Fields,
) (*ClientContext, error) {
	rc, err := client.NewRequestClient(config.Backend, credentials)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define request client")
		return nil, err
	}
	printer, err := NewPrinter(output.Format, out)
	if err != nil {
		return nil, err
	}
	return &ClientContext{
		Component: common.Component{LogTags: logTags},
		Config:    config,
		Client:    rc,
		Printer:   printer,
	}, nil
}

// RequireRoles fetch the current user and check they hold one of the roles. An
// empty role list only requires a session.
func (c *ClientContext) RequireRoles(ctxt context.Context, roles ...string) (client.User, error) {
	if c.Client.Credentials().Token() == "" {
		return client.User{}, fmt.Errorf("not logged in")
	}
	user, err := c.Client.Me(ctxt)
	if err != nil {
		if client.IsUnauthorized(err) {
			return client.User{}, fmt.Errorf("session expired, log in again")
		}
		return client.User{}, err
	}
	identity := user.Identity()
	if !auth.Allowed(&identity, roles...) {
		log.WithFields(c.LogTags).Debugf("Role %s denied, needs one of %v", user.Role, roles)
		return client.User{}, fmt.Errorf("role %s may not run this command", user.Role)
	}
	return user, nil
}
