package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/jrsteele09/go-auth-session/session"
	"github.com/jrsteele09/go-auth-session/token/jwt"
)

const passwordEnvVar = "AUTHSESSION_PASSWORD"

var (
	email       string
	metricsAddr string

	loginCmd = &cobra.Command{
		Use:   "login",
		Short: "Sign in with e-mail and password",
		RunE:  runLogin,
	}
	logoutCmd = &cobra.Command{
		Use:   "logout",
		Short: "Sign out and revoke the stored credentials",
		RunE:  runLogout,
	}
	whoamiCmd = &cobra.Command{
		Use:   "whoami",
		Short: "Validate the stored session and show the signed-in user",
		RunE:  runWhoami,
	}
	refreshCmd = &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the stored refresh token for new credentials",
		RunE:  runRefresh,
	}
	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Keep the session fresh until interrupted",
		Long: `watch validates the stored session, refreshes it on the configured
interval and follows sign-ins and sign-outs made by other processes sharing
the store. Each line read from stdin counts as user activity.`,
		RunE: runWatch,
	}
)

func init() {
	loginCmd.Flags().StringVarP(&email, "email", "e", "", "account e-mail")
	_ = loginCmd.MarkFlagRequired("email")
	watchCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
}

func runLogin(cmd *cobra.Command, args []string) error {
	password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), config.New())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.mgr.Login(cmd.Context(), email, password); err != nil {
		return err
	}
	printSnapshot(cmd.OutOrStdout(), a)
	return nil
}

// readPassword takes the password from the environment, or the first line of in.
func readPassword(in io.Reader, prompt io.Writer) (string, error) {
	if password := os.Getenv(passwordEnvVar); password != "" {
		return password, nil
	}
	fmt.Fprint(prompt, "Password: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", errors.Wrap(err, "reading password")
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("a password is required")
	}
	return password, nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), config.New())
	if err != nil {
		return err
	}
	defer a.Close()

	if a.store.Load() == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "Not signed in")
		return nil
	}
	if err := a.mgr.SignOut(cmd.Context()); err != nil {
		log.Warn().Err(err).Msg("Signed out locally")
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), config.New())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.mgr.Bootstrap(cmd.Context()); err != nil {
		log.Debug().Err(err).Msg("Bootstrap")
	}
	printSnapshot(cmd.OutOrStdout(), a)
	return nil
}

func runRefresh(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), config.New())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.mgr.Bootstrap(cmd.Context()); err != nil {
		log.Debug().Err(err).Msg("Bootstrap")
	}
	if !a.mgr.Snapshot().IsAuthenticated {
		printSnapshot(cmd.OutOrStdout(), a)
		return session.ErrNotAuthenticated
	}
	if err := a.mgr.RefreshAuth(cmd.Context()); err != nil {
		printSnapshot(cmd.OutOrStdout(), a)
		return err
	}
	printSnapshot(cmd.OutOrStdout(), a)
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg := config.New()
	displayAppname(cfg.GetAppName())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return runUntilStopped(ctx, func(ctx context.Context) error {
		return watch(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout())
	})
}

func watch(ctx context.Context, cfg config.Config, in io.Reader, out io.Writer) error {
	registry := prometheus.NewRegistry()
	a, err := newApp(ctx, cfg, session.WithMetrics(metrics.New(registry)))
	if err != nil {
		return err
	}
	defer a.Close()

	scheduler, err := session.NewScheduler(a.mgr, cfg.GetRefreshInterval())
	if err != nil {
		return err
	}
	activity, err := session.NewActivityMonitor(a.mgr, cfg.GetIdleThreshold())
	if err != nil {
		return err
	}
	crossTab, err := session.NewCrossTabSync(a.mgr, a.repo)
	if err != nil {
		return err
	}
	if err := crossTab.Start(); err != nil {
		return err
	}
	defer crossTab.Stop()

	g, ctx := errgroup.WithContext(ctx)

	changes := a.mgr.Changes(ctx)
	g.Go(func() error {
		for snap := range changes {
			fmt.Fprintf(out, "%s  %s\n", snap.ChangedAt.Format(time.TimeOnly), describe(snap))
		}
		return nil
	})

	if err := a.mgr.Bootstrap(ctx); err != nil {
		log.Warn().Err(err).Str("outcome", session.Outcome(err)).Msg("Initial validation failed")
	}

	g.Go(func() error { return scheduler.Run(ctx) })

	signals := make(chan session.Signal)
	g.Go(func() error { return activity.Run(ctx, signals) })
	go readActivity(ctx, in, signals)

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info().Str("addr", metricsAddr).Msg("Serving metrics")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "server.ListenAndServe")
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// readActivity turns stdin lines into keyboard activity. It stops at EOF;
// the goroutine may outlive ctx while blocked on a read.
func readActivity(ctx context.Context, in io.Reader, signals chan<- session.Signal) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		select {
		case signals <- session.SignalKeyboard:
		case <-ctx.Done():
			return
		}
	}
}

func printSnapshot(out io.Writer, a *app) {
	snap := a.mgr.Snapshot()
	fmt.Fprintln(out, describe(snap))
	if !snap.IsAuthenticated {
		return
	}
	access, err := a.mgr.AccessToken()
	if err != nil {
		return
	}
	info, err := jwt.Introspect(access)
	switch {
	case err != nil:
		fmt.Fprintln(out, "Token:   opaque")
	case info.HasExpiry():
		fmt.Fprintf(out, "Token:   expires %s (in %s)\n", info.ExpiresAt.Local().Format(time.RFC1123), info.Remaining().Round(time.Second))
	default:
		fmt.Fprintln(out, "Token:   no expiry")
	}
}

func describe(snap session.Snapshot) string {
	var b strings.Builder
	b.WriteString(snap.State.String())
	if snap.User != nil {
		fmt.Fprintf(&b, "  %s <%s> role=%s", snap.User.Name(), snap.User.Email, snap.User.Role)
		if snap.Optimistic() {
			b.WriteString(" (cached)")
		}
	}
	if snap.Err != nil {
		fmt.Fprintf(&b, "  error=%q", snap.Err.Error())
	}
	return b.String()
}
