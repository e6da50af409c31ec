package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"mercator-hq/webrelay/pkg/cli"
	"mercator-hq/webrelay/pkg/pow"
)

var powFlags struct {
	seed        string
	difficulty  string
	userAgent   string
	screen      int
	maxAttempts int

	wasmPath  string
	challenge string
	salt      string
	expireAt  int64
	target    float64

	benchmark int
	output    string
}

var powCmd = &cobra.Command{
	Use:   "pow",
	Short: "Proof-of-work tools",
}

var powSolveCmd = &cobra.Command{
	Use:   "solve",
	Short: "Solve a challenge offline",
	Long: `Solve a sentinel or kernel challenge without contacting a backend.

With --wasm the challenge is run through the hash module; otherwise the
sentinel search is used.

Examples:
  # Sentinel challenge
  relay pow solve --seed 0.42 --difficulty 0fffff

  # Kernel challenge
  relay pow solve --wasm sha3.wasm --challenge 2f1c... --salt abc --expire-at 1700000000 --target 144000

  # Time 50 sentinel searches with varying seeds
  relay pow solve --difficulty 00ffff --benchmark 50`,
	RunE: runPowSolve,
}

func init() {
	rootCmd.AddCommand(powCmd)
	powCmd.AddCommand(powSolveCmd)

	f := powSolveCmd.Flags()
	f.StringVar(&powFlags.seed, "seed", "", "sentinel seed")
	f.StringVar(&powFlags.difficulty, "difficulty", "", "sentinel difficulty (hex prefix)")
	f.StringVar(&powFlags.userAgent, "user-agent", "Mozilla/5.0", "user agent folded into the sentinel config")
	f.IntVar(&powFlags.screen, "screen", 3000, "screen size folded into the sentinel config")
	f.IntVar(&powFlags.maxAttempts, "max-attempts", pow.DefaultMaxAttempts, "sentinel nonce ceiling")
	f.StringVar(&powFlags.wasmPath, "wasm", "", "hash module for kernel challenges")
	f.StringVar(&powFlags.challenge, "challenge", "", "kernel challenge")
	f.StringVar(&powFlags.salt, "salt", "", "kernel salt")
	f.Int64Var(&powFlags.expireAt, "expire-at", 0, "kernel challenge expiry")
	f.Float64Var(&powFlags.target, "target", 0, "kernel difficulty")
	f.IntVar(&powFlags.benchmark, "benchmark", 0, "solve N challenges and report timings")
	f.StringVarP(&powFlags.output, "output", "o", "text", "output format (text, json, csv)")
}

func runPowSolve(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(powFlags.output)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	solver, ch, cleanup, err := powSolver(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	pool := pow.NewPool(1)
	defer pool.Close()
	bound := pool.Bind(solver)
	hint := pow.Hint{ScreenSize: powFlags.screen, UserAgent: powFlags.userAgent}

	runs := 1
	if powFlags.benchmark > 0 {
		runs = powFlags.benchmark
	}

	var progress cli.ProgressReporter
	if runs > 1 {
		progress = cli.NewProgressReporter(cmd.ErrOrStderr(), "solves")
		progress.Start(int64(runs))
	}

	table := cli.Table{Headers: []string{"Run", "Token", "Attempts", "Fallback", "Duration"}}
	for i := 0; i < runs; i++ {
		c := ch
		if runs > 1 && c.Seed != "" {
			c.Seed = fmt.Sprintf("%s-%d", ch.Seed, i)
		}
		started := time.Now()
		ans, err := bound.Solve(ctx, c, hint)
		if err != nil {
			if progress != nil {
				progress.Error(err)
			}
			return cli.NewCommandError("pow solve", err)
		}
		table.Append(
			strconv.Itoa(i+1),
			ans.Token,
			strconv.Itoa(ans.Attempts),
			strconv.FormatBool(ans.Fallback),
			time.Since(started).Round(time.Microsecond).String(),
		)
		if progress != nil {
			progress.Update(int64(i + 1))
		}
	}
	if progress != nil {
		progress.Finish()
	}

	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), table)
}

// powSolver picks the solver from the flags.
func powSolver(ctx context.Context) (pow.Solver, pow.Challenge, func(), error) {
	if powFlags.wasmPath != "" {
		if powFlags.challenge == "" {
			return nil, pow.Challenge{}, nil, cli.NewConfigError("challenge", "required with --wasm")
		}
		kernel, err := pow.LoadWasmKernel(ctx, powFlags.wasmPath)
		if err != nil {
			return nil, pow.Challenge{}, nil, cli.NewConfigError("wasm", err.Error())
		}
		ch := pow.Challenge{
			Algorithm: "DeepSeekHashV1",
			Challenge: powFlags.challenge,
			Salt:      powFlags.salt,
			ExpireAt:  powFlags.expireAt,
			Target:    powFlags.target,
		}
		return pow.NewKernelSolver(kernel), ch, func() { _ = kernel.Close(context.Background()) }, nil
	}

	if powFlags.difficulty == "" {
		return nil, pow.Challenge{}, nil, cli.NewConfigError("difficulty", "required for sentinel challenges")
	}
	seed := powFlags.seed
	if seed == "" {
		seed = strconv.FormatFloat(float64(time.Now().UnixNano()%1e6)/1e6, 'f', -1, 64)
	}
	solver := pow.NewSentinelSolver(powFlags.maxAttempts, []int{powFlags.screen})
	return solver, pow.Challenge{Seed: seed, Difficulty: powFlags.difficulty}, func() {}, nil
}
