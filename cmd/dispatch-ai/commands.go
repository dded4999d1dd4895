package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"dispatch-ai/internal/adapter/httpapi"
	"dispatch-ai/internal/domain"
	"dispatch-ai/internal/infra/config"
)

func runServe(args cliArgs) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c, cleanup, err := bootstrap(ctx, args)
	if err != nil {
		return err
	}
	defer cleanup()

	deps := httpapi.Deps{
		Generator: c.gateway,
		Batch:     c.batch,
		Catalog:   c.registry,
		Metrics:   c.metrics,
	}
	if c.monitor != nil {
		c.monitor.Start(ctx)
		defer c.monitor.Stop()
		deps.Health = c.monitor
	}

	c.log.Info("dispatch-ai starting",
		"addr", c.cfg.Server.Addr,
		"bots", len(c.registry.Bots()),
		"models", len(c.registry.Models()),
		"control", c.control != nil && c.control.Configured(),
		"circuit_breaker", c.cfg.Gateway.CircuitBreaker.Enabled,
	)

	return httpapi.NewServer(deps, c.cfg.Server, c.log).Start(ctx)
}

func runGenerate(args cliArgs) error {
	if args.bot == "" {
		return errors.New(`usage: dispatch-ai generate --bot NAME [--task TAG] "prompt"`)
	}
	prompt := strings.Join(args.positional, " ")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c, cleanup, err := bootstrap(ctx, args)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := c.gateway.GenerateForBot(ctx, args.bot, prompt, args.task)
	if err != nil {
		return err
	}
	printResult(os.Stdout, os.Stderr, *res)
	return nil
}

func runBatch(args cliArgs) error {
	if args.bot == "" || len(args.positional) == 0 {
		return errors.New(`usage: dispatch-ai batch --bot NAME [--task TAG] "prompt 1" "prompt 2" ...`)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c, cleanup, err := bootstrap(ctx, args)
	if err != nil {
		return err
	}
	defer cleanup()

	results, err := c.batch.GenerateBatch(ctx, args.bot, args.positional, args.task)
	if err != nil {
		return err
	}
	for i, res := range results {
		fmt.Fprintf(os.Stdout, "--- [%d] %s\n", i+1, res.ModelUsed)
		fmt.Fprintln(os.Stdout, res.Text)
	}
	return nil
}

func runModels(args cliArgs) error {
	c, cleanup, err := bootstrap(context.Background(), args)
	if err != nil {
		return err
	}
	defer cleanup()

	if args.bot != "" {
		return printCandidates(os.Stdout, args.bot, c.registry.ListFor(args.bot))
	}
	for _, bot := range c.registry.Bots() {
		if err := printCandidates(os.Stdout, bot, c.registry.ListFor(bot)); err != nil {
			return err
		}
	}
	// Unmapped identities get the default list.
	return printCandidates(os.Stdout, "(default)", c.registry.ListFor(""))
}

func runProbe(args cliArgs) error {
	c, cleanup, err := bootstrap(context.Background(), args)
	if err != nil {
		return err
	}
	defer cleanup()

	if c.control == nil {
		return errors.New("control path is disabled (providers.control.enabled)")
	}
	if err := c.control.Probe(context.Background()); err != nil {
		fmt.Fprintf(os.Stdout, "%s: unreachable\n", c.control.BaseURL())
		return err
	}
	fmt.Fprintf(os.Stdout, "%s: reachable\n", c.control.BaseURL())
	return nil
}

func runEncrypt(args cliArgs) error {
	if len(args.positional) != 1 {
		return errors.New("usage: dispatch-ai encrypt VALUE")
	}
	passphrase := os.Getenv(config.KeyEnv)
	if passphrase == "" {
		return fmt.Errorf("%s is not set", config.KeyEnv)
	}
	enc, err := config.EncryptValue(args.positional[0], passphrase)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, "enc:"+enc)
	return nil
}

// printResult writes the text to out and a one-line summary to info.
func printResult(out, info io.Writer, res domain.GenerationResult) {
	fmt.Fprintln(out, res.Text)
	fmt.Fprintf(info, "model: %s, ~%d tokens\n", res.ModelUsed, res.EstimatedTokens)
}

func printCandidates(w io.Writer, bot string, list []domain.ModelDescriptor) error {
	fmt.Fprintf(w, "%s\n", bot)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, m := range list {
		fmt.Fprintf(tw, "  %d.\t%s\t%s\t%s\tpriority %d\n", i+1, m.ID, m.Provider, m.BackendModelID, m.Priority)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w)
	return nil
}
