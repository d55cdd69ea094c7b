package agent

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/feichai0017/prp-orchestrator/internal/models"
	"github.com/feichai0017/prp-orchestrator/pkg/logger"
)

// CommandExecutor runs a configured command with the artifact path as its
// last argument. Exit code 0 is success.
type CommandExecutor struct {
	command []string
	timeout time.Duration
	logger  logger.Logger
}

func NewCommandExecutor(command []string, timeout time.Duration, log logger.Logger) (*CommandExecutor, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, errors.New("executor command is empty")
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &CommandExecutor{
		command: append([]string(nil), command...),
		timeout: timeout,
		logger:  log.Named("executor"),
	}, nil
}

func (e *CommandExecutor) Execute(ctx context.Context, artifactPath string) (models.ExecutionResult, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	args := append(append([]string(nil), e.command[1:]...), artifactPath)
	cmd := exec.CommandContext(ctx, e.command[0], args...)
	start := time.Now()
	out, err := cmd.CombinedOutput()
	diagnostics := strings.TrimSpace(string(out))

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return models.ExecutionResult{}, fmt.Errorf("failed to run %s: %w", e.command[0], err)
		}
		if diagnostics != "" {
			diagnostics += "\n"
		}
		diagnostics += exitErr.Error()
		e.logger.Warn("Command failed",
			logger.Path("artifact", artifactPath),
			logger.Int("exitCode", exitErr.ExitCode()),
			logger.Duration("took", time.Since(start)))
		return models.ExecutionResult{Success: false, Diagnostics: diagnostics}, nil
	}

	e.logger.Info("Command succeeded",
		logger.Path("artifact", artifactPath),
		logger.Duration("took", time.Since(start)))
	return models.ExecutionResult{Success: true, Diagnostics: diagnostics}, nil
}
