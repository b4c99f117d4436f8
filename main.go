package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
)

const (
	exitOK              = 0
	exitSetup           = 1
	exitPackageFailures = 3

	envConfigPath = "PKG_RESTORE_CONFIG"
)

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

// exitError 携带子命令希望返回的退出码。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// lockedWriter 串行化多个 worker 子进程对同一输出的写入。
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func setupError(format string, args ...interface{}) error {
	return &exitError{code: exitSetup, err: fmt.Errorf(format, args...)}
}

func main() {
	os.Exit(execute(os.Args[1:]))
}

// execute 运行 CLI 并返回退出码，方便测试。
func execute(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdOut)
	cmd.SetErr(stdErr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			if exitErr.err != nil {
				fmt.Fprintln(stdErr, exitErr.err.Error())
			}
			return exitErr.code
		}
		fmt.Fprintln(stdErr, err.Error())
		return exitSetup
	}
	return exitOK
}

// rootOptions 汇总所有子命令共享的标志。
type rootOptions struct {
	configFlag string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "pkg-restore",
		Short: "Restore manifest package references into a shared local cache",
		Long: `pkg-restore reads project manifests (csproj/fsproj/vbproj, packages.config,
*.packages.yaml), deduplicates the package identities they declare, and fetches
and unpacks every missing package into a shared cache exactly once, even when
several worker groups or processes restore concurrently.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configFlag, "config", "", "配置文件路径（默认 ./pkg-restore.toml，可被 "+envConfigPath+" 覆盖）")

	root.AddCommand(
		newRestoreCommand(opts),
		newWorkerCommand(opts),
		newCheckConfigCommand(opts),
		newVersionCommand(),
	)
	return root
}
