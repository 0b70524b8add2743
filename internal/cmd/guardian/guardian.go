// Package guardian implements the guardian command.
package guardian

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/aquaguardian/guardian/internal/adoption"
	"github.com/aquaguardian/guardian/internal/catalog"
	"github.com/aquaguardian/guardian/internal/gateway"
	"github.com/aquaguardian/guardian/internal/platform/config"
	"github.com/aquaguardian/guardian/internal/provider"
	"github.com/aquaguardian/guardian/internal/session/domain"
	"github.com/aquaguardian/guardian/internal/session/service"
	"github.com/aquaguardian/guardian/internal/session/storage/sqlite"
)

// Config holds guardian command configuration.
type Config struct {
	APIURL       string `env:"GUARDIAN_API_URL" envDefault:"http://localhost:8000"`
	AuthURL      string `env:"GUARDIAN_AUTH_URL" envDefault:"http://localhost:9999"`
	AuthAnonKey  string `env:"GUARDIAN_AUTH_ANON_KEY"`
	StatePath    string `env:"GUARDIAN_STATE_PATH" envDefault:"guardian.db"`
	DemoIdentity bool   `env:"GUARDIAN_DEMO_IDENTITY" envDefault:"false"`
}

// ParseConfig loads configuration from the environment and parses flags over
// it. Remaining arguments select the subcommand.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, []string, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, nil, err
	}

	fs.StringVar(&cfg.APIURL, "api-url", cfg.APIURL, "The conservation backend base URL")
	fs.StringVar(&cfg.AuthURL, "auth-url", cfg.AuthURL, "The identity provider base URL")
	fs.StringVar(&cfg.StatePath, "state", cfg.StatePath, "The local session database path")
	fs.BoolVar(&cfg.DemoIdentity, "demo", cfg.DemoIdentity, "Restore the demo identity when no session is saved")
	if err := fs.Parse(args); err != nil {
		return Config{}, nil, err
	}
	return cfg, fs.Args(), nil
}

// Run wires the client core and dispatches the subcommand.
func Run(ctx context.Context, cfg Config, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return usageError()
	}

	prov, err := provider.New(cfg.AuthURL, cfg.AuthAnonKey)
	if err != nil {
		return fmt.Errorf("configure identity provider: %w", err)
	}

	api, err := gateway.New(cfg.APIURL, gateway.WithTokenSource(prov))
	if err != nil {
		return fmt.Errorf("configure gateway: %w", err)
	}

	identities, err := sqlite.Open(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer func() {
		if closeErr := identities.Close(); closeErr != nil {
			log.Printf("close session store: %v", closeErr)
		}
	}()

	sessions := service.New(prov, prov, identities, service.WithDemoIdentity(cfg.DemoIdentity))
	aggregator := catalog.NewAggregator(api)
	workflow := adoption.New(api, sessions)

	command, rest := args[0], args[1:]
	switch command {
	case "login":
		return runLogin(ctx, sessions, rest, stdout)
	case "signup":
		return runSignup(ctx, sessions, rest, stdout)
	case "logout":
		return runLogout(ctx, sessions, stdout)
	case "whoami":
		return runWhoami(ctx, sessions, stdout)
	case "catalog":
		return runCatalog(ctx, aggregator, stdout)
	case "adopt":
		return runAdopt(ctx, sessions, aggregator, workflow, rest, stdout)
	}
	return usageError()
}

func usageError() error {
	return errors.New("usage: guardian <login|signup|logout|whoami|catalog|adopt> [args]")
}

func parseRoleArg(value string) (domain.Role, error) {
	if strings.TrimSpace(value) == "" {
		return domain.RoleCitizen, nil
	}
	return domain.ParseRole(value)
}

func runLogin(ctx context.Context, sessions *service.Store, args []string, stdout io.Writer) error {
	if len(args) < 2 {
		return errors.New("usage: guardian login <email> <password> [role]")
	}
	role := domain.RoleCitizen
	if len(args) > 2 {
		parsed, err := parseRoleArg(args[2])
		if err != nil {
			return err
		}
		role = parsed
	}

	result := sessions.Login(ctx, args[0], args[1], role)
	if !result.OK {
		return fmt.Errorf("login failed: %s", result.Message)
	}

	identity := sessions.Current()
	fmt.Fprintf(stdout, "signed in as %s (%s)\n", identity.DisplayName, identity.Email)
	return nil
}

func runSignup(ctx context.Context, sessions *service.Store, args []string, stdout io.Writer) error {
	if len(args) < 3 {
		return errors.New("usage: guardian signup <email> <password> <name> [role]")
	}
	role := domain.RoleCitizen
	if len(args) > 3 {
		parsed, err := parseRoleArg(args[3])
		if err != nil {
			return err
		}
		role = parsed
	}

	result := sessions.Signup(ctx, args[0], args[1], args[2], role)
	if !result.OK {
		return fmt.Errorf("signup failed: %s", result.Message)
	}

	identity := sessions.Current()
	fmt.Fprintf(stdout, "account created for %s (%s)\n", identity.DisplayName, identity.Email)
	return nil
}

func runLogout(ctx context.Context, sessions *service.Store, stdout io.Writer) error {
	if err := sessions.Logout(ctx); err != nil {
		// The session is cleared regardless; the cleanup failure is advisory.
		log.Printf("logout cleanup: %v", err)
	}
	fmt.Fprintln(stdout, "signed out")
	return nil
}

func runWhoami(ctx context.Context, sessions *service.Store, stdout io.Writer) error {
	if err := sessions.Restore(ctx); err != nil {
		return err
	}

	identity := sessions.Current()
	if identity == nil {
		fmt.Fprintln(stdout, "not signed in")
		return nil
	}
	fmt.Fprintf(stdout, "%s <%s> role=%s reports=%d cleanups=%d adoptions=%d\n",
		identity.DisplayName, identity.Email, identity.Role,
		identity.ReportsSubmitted, identity.CleanUpsJoined, identity.NFTsAdopted)
	return nil
}

func runCatalog(ctx context.Context, aggregator *catalog.Aggregator, stdout io.Writer) error {
	views, err := aggregator.ListAdoptableEntities(ctx)
	if err != nil {
		return err
	}

	for _, view := range views {
		line := fmt.Sprintf("%s\t%s (%s)\thealth=%d\tprice=%.0f", view.ID, view.Name, view.LocationName, view.HealthScore, view.Price)
		if view.Adopted {
			line += "\tadopted by " + view.AdoptedBy
		} else {
			line += "\tavailable"
		}
		if view.Impact != nil {
			line += fmt.Sprintf("\treports=%d cleanups=%d", view.Impact.Reports, view.Impact.Cleanups)
		}
		fmt.Fprintln(stdout, line)
	}
	return nil
}

func runAdopt(ctx context.Context, sessions *service.Store, aggregator *catalog.Aggregator, workflow *adoption.Workflow, args []string, stdout io.Writer) error {
	if len(args) < 1 {
		return errors.New("usage: guardian adopt <water-body-id> [pledge text]")
	}
	entityID := args[0]

	if err := sessions.Restore(ctx); err != nil {
		return err
	}

	views, err := aggregator.ListAdoptableEntities(ctx)
	if err != nil {
		return err
	}
	var target *catalog.Entity
	for _, view := range views {
		if view.ID == entityID {
			entity := view.Entity
			target = &entity
			break
		}
	}
	if target == nil {
		return fmt.Errorf("water body %q is not in the catalog", entityID)
	}

	if err := workflow.SelectForAdoption(*target); err != nil {
		return err
	}
	if err := workflow.OpenPledgeEditor(); err != nil {
		return err
	}
	if len(args) > 1 {
		if err := workflow.SetPledgeText(strings.Join(args[1:], " ")); err != nil {
			return err
		}
	}

	certificate, err := workflow.ConfirmAdoption(ctx)
	if err != nil {
		return err
	}
	if certificate == nil {
		return errors.New("adoption is already submitting")
	}

	fmt.Fprintf(stdout, "adopted %s\n", target.Name)
	fmt.Fprintf(stdout, "guardian: %s\n", certificate.GuardianName)
	fmt.Fprintf(stdout, "tx: %s\n", certificate.BlockchainTx)
	fmt.Fprintf(stdout, "token: %s\n", certificate.TokenID)
	if certificate.CertificateURL != "" {
		fmt.Fprintf(stdout, "certificate: %s\n", certificate.CertificateURL)
	}
	return nil
}
