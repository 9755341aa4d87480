// echo-client runs on the host and exercises the example enclave.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Amnesic-Systems/pontifex"
	"github.com/Amnesic-Systems/pontifex/internal/echo"
	"github.com/Amnesic-Systems/pontifex/internal/errs"
	"github.com/Amnesic-Systems/pontifex/nonce"
	"github.com/Amnesic-Systems/pontifex/nsm"
	"github.com/fatih/color"
)

const (
	defaultCID  = 16
	defaultPort = 1000
)

var errFailedToParse = errors.New("failed to parse flags")

type config struct {
	details pontifex.ConnectionDetails
	message string
	attest  bool
	timeout time.Duration
}

func parseFlags(out io.Writer, args []string) (_ *config, err error) {
	defer errs.WrapErr(&err, errFailedToParse)

	fs := flag.NewFlagSet("echo-client", flag.ContinueOnError)
	fs.SetOutput(out)

	cid := fs.Uint(
		"cid",
		defaultCID,
		"vsock context ID of the enclave",
	)
	port := fs.Uint(
		"port",
		defaultPort,
		"vsock port of the enclave",
	)
	message := fs.String(
		"msg",
		"Hello, enclave!",
		"message for the enclave to echo",
	)
	attest := fs.Bool(
		"attest",
		false,
		"request and verify an attestation document",
	)
	timeout := fs.Duration(
		"timeout",
		5*time.Second,
		"per-call timeout",
	)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	return &config{
		details: pontifex.ConnectionDetails{
			CID:  uint32(*cid),
			Port: uint32(*port),
		},
		message: *message,
		attest:  *attest,
		timeout: *timeout,
	}, nil
}

func run(ctx context.Context, cfg *config) (err error) {
	call := func(fn func(context.Context) error) error {
		ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
		return fn(ctx)
	}

	if err := call(func(ctx context.Context) error {
		health, err := pontifex.Call(ctx, cfg.details, echo.RouteHealth, &echo.HealthRequest{})
		if err != nil {
			return err
		}
		color.Green("healthy=%v uptime=%ds", health.Healthy, health.Uptime)
		return nil
	}); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if err := call(func(ctx context.Context) error {
		resp, err := pontifex.Call(ctx, cfg.details, echo.RouteEcho,
			&echo.EchoRequest{Message: cfg.message})
		if err != nil {
			return err
		}
		color.Green("%s (at %d)", resp.Echoed, resp.Timestamp)
		return nil
	}); err != nil {
		return fmt.Errorf("echo failed: %w", err)
	}

	if !cfg.attest {
		return nil
	}
	return call(func(ctx context.Context) error { return verifyEnclave(ctx, cfg) })
}

// verifyEnclave asks the enclave for an attestation document embedding a
// fresh nonce, verifies it against the AWS Nitro root, and checks that the
// nonce made the round trip.
func verifyEnclave(ctx context.Context, cfg *config) (err error) {
	defer errs.Wrap(&err, "failed to verify enclave")

	n, err := nonce.New()
	if err != nil {
		return err
	}

	resp, err := pontifex.Call(ctx, cfg.details, echo.RouteAttest,
		&echo.AttestRequest{Nonce: n.ToSlice()})
	if err != nil {
		return err
	}

	doc, err := nsm.VerifyRaw(resp.Document, nsm.VerifyOptions{
		CurrentTime: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	theirNonce, err := nonce.FromSlice(doc.Nonce)
	if err != nil {
		return err
	}
	if *n != *theirNonce {
		return errors.New("nonce does not match")
	}
	if doc.PCRs.FromDebugMode() {
		color.Yellow("enclave runs in debug mode; do not trust its PCRs")
	}

	color.Green("attestation verified: module %s", doc.ModuleID)
	for i := uint(0); i <= 2; i++ {
		color.Green("PCR%d=%x", i, doc.PCRs[i])
	}
	return nil
}

func main() {
	cfg, err := parseFlags(os.Stderr, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := run(context.Background(), cfg); err != nil {
		color.Red("%v", err)
		os.Exit(1)
	}
}
