// echo-enclave runs inside the enclave and serves the example routes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/Amnesic-Systems/pontifex"
	"github.com/Amnesic-Systems/pontifex/internal/echo"
	"github.com/Amnesic-Systems/pontifex/nsm"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultPort = 1000

type config struct {
	port  uint
	debug bool
}

type state struct {
	started  time.Time
	module   *nsm.Module // nil when the NSM driver is unavailable
	requests atomic.Uint64
}

func parseFlags(out io.Writer, args []string) (*config, error) {
	fs := flag.NewFlagSet("echo-enclave", flag.ContinueOnError)
	fs.SetOutput(out)

	port := fs.Uint(
		"port",
		defaultPort,
		"vsock port to listen on",
	)
	debug := fs.Bool(
		"debug",
		false,
		"enable debug logging",
	)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *port == 0 || uint64(*port) > uint64(^uint32(0)) {
		return nil, errors.New("flag -port must be a valid vsock port")
	}

	return &config{
		port:  *port,
		debug: *debug,
	}, nil
}

func handleEcho(_ context.Context, s *state, req echo.EchoRequest) (echo.EchoResponse, error) {
	s.requests.Add(1)
	return echo.EchoResponse{
		Echoed:    fmt.Sprintf("You said: %s", req.Message),
		Timestamp: uint64(time.Now().Unix()),
	}, nil
}

func handleHealth(_ context.Context, s *state, _ echo.HealthRequest) (echo.HealthResponse, error) {
	s.requests.Add(1)
	return echo.HealthResponse{
		Healthy: true,
		Uptime:  uint64(time.Since(s.started).Seconds()),
	}, nil
}

func handleAttest(_ context.Context, s *state, req echo.AttestRequest) (echo.AttestResponse, error) {
	s.requests.Add(1)
	if s.module == nil {
		return echo.AttestResponse{}, errors.New("secure module is unavailable")
	}
	doc, err := s.module.RawAttest(&nsm.AuxInfo{Nonce: req.Nonce})
	if err != nil {
		return echo.AttestResponse{}, err
	}
	return echo.AttestResponse{Document: doc}, nil
}

func run(ctx context.Context, cfg *config) error {
	s := &state{started: time.Now()}

	// The driver is only present inside a Nitro Enclave. Without it, the
	// attest route reports a handler error and everything else works.
	if module, err := nsm.Open(); err == nil {
		s.module = module
		defer module.Close()
	} else {
		log.Warn().Err(err).Msg("attestation disabled")
	}

	router := pontifex.New(s)
	for _, err := range []error{
		pontifex.Handle(router, echo.RouteEcho, handleEcho),
		pontifex.Handle(router, echo.RouteHealth, handleHealth),
		pontifex.Handle(router, echo.RouteAttest, handleAttest),
	} {
		if err != nil {
			return err
		}
	}

	return router.ListenAndServe(ctx, uint32(cfg.port))
}

func main() {
	cfg, err := parseFlags(os.Stderr, os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse flags")
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("server failed")
	}
}
