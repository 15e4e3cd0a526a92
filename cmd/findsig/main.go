package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/John-Robertt/findsig/internal/app/run"
	"github.com/John-Robertt/findsig/internal/config"
	"github.com/John-Robertt/findsig/internal/domain"
	"github.com/John-Robertt/findsig/internal/infra/logx"
	"github.com/John-Robertt/findsig/internal/infra/telemetry"
	"github.com/John-Robertt/findsig/internal/report"
)

// version 由构建时 -ldflags "-X main.version=..." 注入。
var version = "dev"

const (
	exitOK    = 0
	exitFail  = 1
	exitUsage = 2
)

// exitError 把 RunE 的失败映射到进程退出码。不带 exitError 的 cobra 错误按用法错误处理。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func fail(err error) error { return &exitError{code: exitFail, err: err} }

// isTTYFunc 可在测试中替换，用于稳定控制交互输出。
var isTTYFunc = func(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

func execute(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)

	err := cmd.Execute()
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		fmt.Fprintf(stderr, "错误：%v\n", ee.err)
		return ee.code
	}
	fmt.Fprintf(stderr, "参数错误：%v\n\n", err)
	fmt.Fprint(stderr, cmd.UsageString())
	return exitUsage
}

type rootFlags struct {
	configPath string
	workers    int
	chunkSize  int
	logLevel   string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var f rootFlags

	cmd := &cobra.Command{
		Use:   "findsig <root_directory> <pattern_file>",
		Short: "在目录树的 64 位 ELF 文件中查找二进制特征",
		Long: `递归遍历 root_directory，对每个 64 位小端 ELF 文件流式搜索 pattern_file 的完整内容。
每个命中的文件在 stdout 输出一行 File "<path>" is infected!（路径按带引号的字符串输出）；日志与进度走 stderr。`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli := config.CLIArgs{
				Root:         args[0],
				PatternPath:  args[1],
				ConfigPath:   f.configPath,
				Workers:      f.workers,
				WorkersSet:   cmd.Flags().Changed("workers"),
				ChunkSize:    f.chunkSize,
				ChunkSizeSet: cmd.Flags().Changed("chunk-size"),
				LogLevel:     f.logLevel,
				LogLevelSet:  cmd.Flags().Changed("log-level"),
			}
			return scanCmd(cli, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.Flags().StringVar(&f.configPath, "config", "", "配置文件路径（默认尝试 ./"+config.FileName+"）")
	cmd.Flags().IntVar(&f.workers, "workers", config.DefaultWorkers, "并行扫描的 worker 数")
	cmd.Flags().IntVar(&f.chunkSize, "chunk-size", config.DefaultChunkSize, "单次读取的块大小（字节）")
	cmd.Flags().StringVar(&f.logLevel, "log-level", config.DefaultLogLevel, "日志级别：debug|info|warn|error")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "显示版本",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(stdout, "findsig %s\n", version)
		},
	})
	return cmd
}

func scanCmd(cli config.CLIArgs, stdout, stderr io.Writer) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fail(fmt.Errorf("读取当前目录失败：%w", err))
	}

	eff, err := config.LoadEffective(cwd, cli)
	if err != nil {
		return fail(err)
	}
	// 预检失败：不做任何扫描工作。
	if err := config.Preflight(eff); err != nil {
		return fail(err)
	}

	runID := uuid.NewString()
	logger := logx.New(logx.Config{
		Level:  eff.LogLevel,
		Pretty: logx.Pretty(eff.LogFormat, isTTYFunc(stderr)),
		Output: stderr,
	}).With().Str("run_id", runID).Logger()

	pat, err := run.LoadPattern(eff)
	if err != nil {
		return fail(err)
	}

	sink := report.Sink(report.NewWriterSink(stdout, stderr))
	var natsSink *report.NATSSink
	if eff.NATSURL != "" {
		nc, err := report.DialNATS(eff.NATSURL)
		if err != nil {
			return fail(err)
		}
		defer nc.Close()
		natsSink = report.NewNATSSink(nc, eff.NATSSubject, report.Meta{
			RunID:              runID,
			PatternFingerprint: pat.Fingerprint(),
		})
		sink = report.Tee(sink, natsSink)
		logger.Info().Str("url", eff.NATSURL).Str("subject", eff.NATSSubject).Msg("publishing reports to nats")
	}

	metrics, err := telemetry.Global()
	if err != nil {
		return fail(err)
	}

	var ui *progressUI
	opts := run.Options{
		Logger:  &logger,
		Metrics: metrics,
		Pattern: pat,
	}
	if isTTYFunc(stderr) {
		ui = newProgressUI(stderr)
		opts.Observer = ui
	}

	rr, runErr := run.ExecuteWithOptions(eff, sink, opts)
	if ui != nil {
		ui.close()
	}
	if natsSink != nil {
		if err := natsSink.Flush(); err != nil {
			logger.Warn().Err(err).Msg("flush nats failed")
		}
	}

	emitSummary(stderr, rr)
	if runErr != nil {
		return fail(runErr)
	}
	return nil
}

func emitSummary(w io.Writer, rr domain.ScanReport) {
	s := rr.Summary
	fmt.Fprintf(w, "完成：visited=%d candidates=%d scanned=%d infected=%d failed=%d elapsed=%s\n",
		s.Visited, s.Candidates, s.Scanned, s.Infected, s.Failed, formatShortDuration(rr.Duration()),
	)
}
