package cmd

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/webriots/coreact/echo"
)

// BenchConfig is everything the bench command is configured with.
type BenchConfig struct {
	Addr     string
	Messages int
}

// BenchResult is the outcome of a Bench run.
type BenchResult struct {
	Messages int
	Elapsed  time.Duration
}

// Rate returns the round trips per second.
func (r BenchResult) Rate() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Messages) / r.Elapsed.Seconds()
}

func newBenchCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var cfg BenchConfig

	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure echo round trips.",
		Long: `coreact bench measures an echo server.

It opens one connection, then sends a single byte and waits for the
reply as many times as requested, and prints the rate in messages per
second.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := Bench(ctx, cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "%d messages in %v: %.0f msgs/sec\n", res.Messages, res.Elapsed, res.Rate())
			return nil
		},
	}

	flags := benchCmd.Flags()
	flags.StringVarP(&cfg.Addr, "addr", "a", "localhost"+echo.DefaultAddr, "host:port of the echo server.")
	flags.IntVarP(&cfg.Messages, "messages", "n", 100000, "Number of round trips to perform.")

	return benchCmd
}

// Bench connects to the echo server at cfg.Addr and performs
// cfg.Messages sequential round trips of a one-byte message.
func Bench(ctx context.Context, cfg BenchConfig) (BenchResult, error) {
	if cfg.Addr == "" {
		return BenchResult{}, errors.New("address required")
	}
	if cfg.Messages <= 0 {
		return BenchResult{}, errors.New("message count required")
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return BenchResult{}, errors.Wrap(err, "bench")
	}
	defer conn.Close()

	// Unblock a pending read or write once ctx is done.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	msg := []byte("x")
	buf := make([]byte, echo.DefaultMaxRead)

	start := time.Now()
	for i := 0; i < cfg.Messages; i++ {
		if _, err := conn.Write(msg); err != nil {
			return BenchResult{}, errors.Wrapf(err, "bench: message %d", i)
		}
		if _, err := conn.Read(buf); err != nil {
			return BenchResult{}, errors.Wrapf(err, "bench: reply %d", i)
		}
	}
	return BenchResult{Messages: cfg.Messages, Elapsed: time.Since(start)}, nil
}
