package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"syscall"

	"github.com/goliatone/go-authguard"
	"github.com/goliatone/go-authguard/internal/logger"
	"github.com/goliatone/go-authguard/internal/views"
	"github.com/goliatone/go-authguard/metrics"
	goerrors "github.com/goliatone/go-errors"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// NewConsoleCmd creates the console command
func NewConsoleCmd(opts *Options) *cobra.Command {
	var start string

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Browse the view table interactively as a guarded client",
		Long: `Starts an interactive session over the view table. Every location is
resolved through the outlet, so protected views redirect exactly like the
web application would. Sign in, sign up and sign out go through the identity
provider and the session is kept in the configured storage.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			storage, err := newStorage(cfg)
			if err != nil {
				return err
			}

			client, err := newClient(cfg, storage)
			if err != nil {
				return err
			}
			defer client.Close()

			console := &Console{
				Provider: client,
				Routes:   cfg.AuthRoutes(),
				Start:    start,
				In:       cmd.InOrStdin(),
				Out:      cmd.OutOrStdout(),
				Logger:   logger.NewAdapter(logger.Logger, "console"),
			}
			if term.IsTerminal(int(syscall.Stdin)) && cmd.InOrStdin() == os.Stdin {
				console.ReadSecret = func(prompt string) (string, error) {
					return readPassword(os.Stdin, console.Out, prompt)
				}
			}

			return console.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&start, "start", "/", "Initial location")

	return cmd
}

// Console is a line oriented client of the view table.
type Console struct {
	Provider authguard.IdentityProvider
	Routes   authguard.Routes
	// Pages defaults to views.Pages(Routes).
	Pages []views.Page
	Start string

	In  io.Reader
	Out io.Writer
	// ReadSecret reads a password. Defaults to reading a line from In.
	ReadSecret func(prompt string) (string, error)

	// Registry receives the console metrics. Defaults to a private registry.
	Registry *prometheus.Registry
	Logger   authguard.Logger

	reader    *bufio.Reader
	store     *authguard.Store
	history   *authguard.MemoryHistory
	outlet    *authguard.Outlet
	collector *metrics.Collector
}

type consoleCommand struct {
	usage string
	help  string
	run   func(c *Console, ctx context.Context, args []string) error
}

var errQuit = errors.New("quit")

var consoleCommands map[string]consoleCommand

func init() {
	consoleCommands = map[string]consoleCommand{
		"go":      {"go <path>", "navigate to a location", (*Console).cmdGo},
		"back":    {"back", "go back in history", (*Console).cmdBack},
		"forward": {"forward", "go forward in history", (*Console).cmdForward},
		"where":   {"where", "show the current location and view", (*Console).cmdWhere},
		"history": {"history", "list visited locations", (*Console).cmdHistory},
		"views":   {"views", "list views and whether they are accessible", (*Console).cmdViews},
		"login":   {"login <email>", "sign in with email and password", (*Console).cmdLogin},
		"signup":  {"signup <email> [full name]", "create an account", (*Console).cmdSignup},
		"logout":  {"logout", "sign out", (*Console).cmdLogout},
		"reset":   {"reset <email>", "send a password reset email", (*Console).cmdReset},
		"passwd":  {"passwd", "change the password of the signed in user", (*Console).cmdPasswd},
		"whoami":  {"whoami", "show the signed in user", (*Console).cmdWhoami},
		"stats":   {"stats", "show session and guard metrics", (*Console).cmdStats},
		"help":    {"help", "list commands", (*Console).cmdHelp},
		"quit":    {"quit", "leave the console", (*Console).cmdQuit},
	}
}

// Run reads commands until quit or end of input.
func (c *Console) Run(ctx context.Context) error {
	if c.Provider == nil {
		return fmt.Errorf("console: a provider is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if c.In == nil {
		c.In = os.Stdin
	}
	if c.Out == nil {
		c.Out = os.Stdout
	}
	if c.Routes.Login == "" {
		c.Routes = authguard.DefaultRoutes()
	}
	if len(c.Pages) == 0 {
		c.Pages = views.Pages(c.Routes)
	}
	if c.Start == "" {
		c.Start = "/"
	}
	if c.Registry == nil {
		c.Registry = prometheus.NewRegistry()
	}
	if c.Logger == nil {
		c.Logger = authguard.NopLogger{}
	}

	c.reader = bufio.NewReader(c.In)
	if c.ReadSecret == nil {
		c.ReadSecret = c.readSecretLine
	}

	collector, err := metrics.NewCollector(c.Registry)
	if err != nil {
		return err
	}
	c.collector = collector

	c.history = authguard.NewMemoryHistory(c.Start)
	c.store = authguard.NewStore(c.Provider,
		authguard.WithStoreRoutes(c.Routes),
		authguard.WithStoreLogger(c.Logger),
		authguard.WithStoreActivitySink(collector),
		authguard.WithStoreNavigator(c.history),
	)
	unwatch := collector.Watch(c.store)
	defer unwatch()

	c.outlet = authguard.NewOutlet(c.store, c.history, viewsOf(c.Pages),
		authguard.WithOutletRoutes(c.Routes),
		authguard.WithOutletLogger(c.Logger),
		authguard.WithOutletObserver(collector),
	)

	state := c.store.Open(ctx)
	defer c.store.Close()

	c.outlet.Start()
	defer c.outlet.Stop()

	fmt.Fprintf(c.Out, "authguard console, %s. Type help for commands.\n", describeState(state))
	c.printFrame()

	for {
		fmt.Fprintf(c.Out, "%s> ", c.history.Location())

		line, err := c.reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(c.Out)
				return nil
			}
			return err
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		name := strings.ToLower(fields[0])
		if name == "exit" {
			name = "quit"
		}

		command, ok := consoleCommands[name]
		if !ok {
			fmt.Fprintf(c.Out, "unknown command %q, type help\n", fields[0])
			continue
		}

		if err := command.run(c, ctx, fields[1:]); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintf(c.Out, "error: %s\n", consoleMessage(err))
		}
	}
}

func (c *Console) readSecretLine(prompt string) (string, error) {
	fmt.Fprint(c.Out, prompt)
	line, err := c.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *Console) printFrame() {
	frame := c.outlet.Current()

	switch {
	case frame.View == nil:
		fmt.Fprintf(c.Out, "[%s] no view matches this location\n", frame.Location)
	case !frame.Visible && frame.Guard == authguard.GuardChecking:
		fmt.Fprintf(c.Out, "[%s] loading...\n", frame.Location)
	case !frame.Visible:
		fmt.Fprintf(c.Out, "[%s] %s is not accessible\n", frame.Location, frame.View.Name)
	default:
		page, _ := views.Lookup(c.Pages, frame.View.Name)
		fmt.Fprintf(c.Out, "[%s] %s: %s\n", frame.Location, page.Title, page.Summary)
	}
}

func (c *Console) navigate(target string) {
	before := c.history.Location()
	c.history.Navigate(target)
	c.reportRedirect(before, target)
}

// reportRedirect prints where the guards sent us when it is not where we asked to go.
func (c *Console) reportRedirect(before, requested string) {
	after := c.history.Location()
	if requested != "" && after != requested && after != before {
		fmt.Fprintf(c.Out, "redirected to %s\n", after)
	}
	c.printFrame()
}

func (c *Console) cmdGo(_ context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: go <path>")
	}
	target := args[0]
	if !strings.HasPrefix(target, "/") {
		target = "/" + target
	}
	c.navigate(target)
	return nil
}

func (c *Console) cmdBack(_ context.Context, _ []string) error {
	c.history.Back()
	c.printFrame()
	return nil
}

func (c *Console) cmdForward(_ context.Context, _ []string) error {
	c.history.Forward()
	c.printFrame()
	return nil
}

func (c *Console) cmdWhere(_ context.Context, _ []string) error {
	c.printFrame()
	return nil
}

func (c *Console) cmdHistory(_ context.Context, _ []string) error {
	current := c.history.Location()
	for i, entry := range c.history.Entries() {
		marker := " "
		if entry == current {
			marker = "*"
		}
		fmt.Fprintf(c.Out, "%s %d %s\n", marker, i, entry)
	}
	return nil
}

func (c *Console) cmdViews(_ context.Context, _ []string) error {
	state := c.store.State()
	for _, page := range c.Pages {
		access := "public"
		if !page.Public {
			required := page.RequiredRole
			if required == "" {
				required = authguard.RoleUser
			}
			if authguard.Decide(state, page.Path, required, c.Routes).Allowed() {
				access = "allowed"
			} else {
				access = "requires " + required.String()
			}
		}
		fmt.Fprintf(c.Out, "  %-16s %-16s %s\n", page.Path, page.Title, access)
	}
	return nil
}

func (c *Console) cmdLogin(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: login <email>")
	}

	password, err := c.ReadSecret("Password: ")
	if err != nil {
		return err
	}

	before := c.history.Location()
	if _, err := c.store.SignIn(ctx, args[0], password); err != nil {
		return err
	}

	fmt.Fprintf(c.Out, "signed in as %s\n", describeState(c.store.State()))
	c.reportRedirect(before, "")
	return nil
}

func (c *Console) cmdSignup(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: signup <email> [full name]")
	}

	password, err := c.ReadSecret("Password: ")
	if err != nil {
		return err
	}

	result, err := c.store.SignUp(ctx, args[0], password, authguard.ProfileMetadata{
		FullName: strings.Join(args[1:], " "),
	})
	if err != nil {
		return err
	}

	if result.Session == nil {
		fmt.Fprintln(c.Out, "account created, check your email to confirm it")
		return nil
	}

	fmt.Fprintf(c.Out, "account created, signed in as %s\n", describeState(c.store.State()))
	c.printFrame()
	return nil
}

func (c *Console) cmdLogout(ctx context.Context, _ []string) error {
	if !c.store.State().Authenticated() {
		fmt.Fprintln(c.Out, "not signed in")
		return nil
	}
	c.store.SignOut(ctx)
	fmt.Fprintln(c.Out, "signed out")
	c.printFrame()
	return nil
}

func (c *Console) cmdReset(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: reset <email>")
	}
	if err := c.store.ResetPassword(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintln(c.Out, "if that address has an account, a reset link is on its way")
	return nil
}

func (c *Console) cmdPasswd(ctx context.Context, _ []string) error {
	if !c.store.State().Authenticated() {
		return authguard.ErrNotAuthenticated.Clone()
	}

	password, err := c.ReadSecret("New password: ")
	if err != nil {
		return err
	}

	if _, err := c.store.UpdatePassword(ctx, password); err != nil {
		return err
	}
	fmt.Fprintln(c.Out, "password updated")
	return nil
}

func (c *Console) cmdWhoami(_ context.Context, _ []string) error {
	state := c.store.State()
	fmt.Fprintln(c.Out, describeState(state))
	if state.Authenticated() && state.User.Metadata.FullName != "" {
		fmt.Fprintf(c.Out, "  name: %s\n", state.User.Metadata.FullName)
	}
	return nil
}

func (c *Console) cmdStats(_ context.Context, _ []string) error {
	families, err := c.Registry.Gather()
	if err != nil {
		return err
	}

	for _, family := range families {
		for _, metric := range family.GetMetric() {
			value, ok := metricValue(metric)
			if !ok || value == 0 {
				continue
			}
			fmt.Fprintf(c.Out, "  %s%s %g\n", family.GetName(), formatLabels(metric.GetLabel()), value)
		}
	}
	return nil
}

func (c *Console) cmdHelp(_ context.Context, _ []string) error {
	names := make([]string, 0, len(consoleCommands))
	for name := range consoleCommands {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		command := consoleCommands[name]
		fmt.Fprintf(c.Out, "  %-28s %s\n", command.usage, command.help)
	}
	return nil
}

func (c *Console) cmdQuit(_ context.Context, _ []string) error {
	return errQuit
}

// consoleMessage shows taxonomy errors the way the web pages do and usage
// errors verbatim.
func consoleMessage(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return authguard.UserMessage(err)
	}
	return err.Error()
}

func metricValue(m *dto.Metric) (float64, bool) {
	switch {
	case m.Counter != nil:
		return m.GetCounter().GetValue(), true
	case m.Gauge != nil:
		return m.GetGauge().GetValue(), true
	default:
		return 0, false
	}
}

func formatLabels(labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, 0, len(labels))
	for _, label := range labels {
		parts = append(parts, fmt.Sprintf("%s=%q", label.GetName(), label.GetValue()))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func viewsOf(pages []views.Page) []authguard.View {
	out := make([]authguard.View, 0, len(pages))
	for _, p := range pages {
		out = append(out, p.View)
	}
	return out
}
