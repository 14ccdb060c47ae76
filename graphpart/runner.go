package graphpart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/danthegoodman1/copartition/utils"
	"github.com/rs/zerolog"
)

var (
	ErrPartitionerNotFound = errors.New("graph partitioner executable not found")
	ErrMPINotFound         = errors.New("mpi launcher not found in PATH")
	ErrMissingEdgeFile     = errors.New("edge file does not exist")
	ErrMissingLabelFile    = errors.New("partitioner did not produce a label file")
)

type (
	// Runner is the external balanced graph partitioner. It must label every
	// vertex or edge of the graph using all partitions, roughly balanced.
	Runner interface {
		Partition(ctx context.Context, edgeFile string, partitions int) (labelFile string, err error)
	}

	// ExecRunner launches DistributedNE style partitioners:
	// `mpirun -n P <Bin> [Options] <edgeFile> P`, which write `<edgeFile>.<P>.pedges`.
	// Without MPIRun the binary is executed directly.
	ExecRunner struct {
		Bin     string
		MPIRun  string
		Options []string
		Timeout time.Duration
		// Partitioner output, discarded when nil
		Output io.Writer
	}
)

// NewExecRunnerFromEnv builds an ExecRunner from PARTITIONER_* and MPI_RUN_BIN.
func NewExecRunnerFromEnv() *ExecRunner {
	r := &ExecRunner{
		Bin:     utils.PARTITIONER_BIN,
		MPIRun:  utils.MPI_RUN_BIN,
		Timeout: time.Second * time.Duration(utils.PARTITIONER_TIMEOUT_SEC),
	}
	if utils.PARTITIONER_OPTS != "" {
		r.Options = strings.Fields(utils.PARTITIONER_OPTS)
	}
	return r
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir() && info.Mode()&0o111 != 0
}

// LabelFile is where a DistributedNE style partitioner writes its labels.
func LabelFile(edgeFile string, partitions int) string {
	return edgeFile + "." + strconv.Itoa(partitions) + ".pedges"
}

// Check verifies the executables before any work is done.
func (r *ExecRunner) Check() error {
	if r.Bin == "" || !isExecutable(r.Bin) {
		return utils.NewConfigError("check graph partitioner", "", fmt.Errorf("%q: %w", r.Bin, ErrPartitionerNotFound))
	}
	if r.MPIRun != "" {
		if _, err := exec.LookPath(r.MPIRun); err != nil {
			return utils.NewConfigError("check graph partitioner", "", fmt.Errorf("%q: %w", r.MPIRun, ErrMPINotFound))
		}
	}
	return nil
}

func (r *ExecRunner) Partition(ctx context.Context, edgeFile string, partitions int) (string, error) {
	logger := zerolog.Ctx(ctx)
	if err := r.Check(); err != nil {
		return "", err
	}
	if _, err := os.Stat(edgeFile); err != nil {
		return "", utils.NewConfigError("run graph partitioner", "", fmt.Errorf("%s: %w", edgeFile, ErrMissingEdgeFile))
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	args := append([]string{}, r.Options...)
	args = append(args, edgeFile, strconv.Itoa(partitions))
	var cmd *exec.Cmd
	if r.MPIRun != "" {
		mpiArgs := append([]string{"-n", strconv.Itoa(partitions), r.Bin}, args...)
		cmd = exec.CommandContext(ctx, r.MPIRun, mpiArgs...)
	} else {
		cmd = exec.CommandContext(ctx, r.Bin, args...)
	}
	if r.Output != nil {
		cmd.Stdout = r.Output
		cmd.Stderr = r.Output
	}

	labelFile := LabelFile(edgeFile, partitions)
	// stale output from an earlier run must not be mistaken for this one
	_ = os.Remove(labelFile)

	s := time.Now()
	logger.Debug().Str("cmd", cmd.String()).Msg("running graph partitioner")
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", utils.NewToolError("run graph partitioner", "", fmt.Errorf("%s: %w", err, ctxErr))
		}
		return "", utils.NewToolError("run graph partitioner", "", fmt.Errorf("error in cmd.Run: %w", err))
	}
	d := time.Since(s)
	logger.Debug().Int64("durationNS", d.Nanoseconds()).Str("durationHuman", d.String()).Msg("graph partitioner finished")

	if _, err := os.Stat(labelFile); err != nil {
		return "", utils.NewToolError("run graph partitioner", "", fmt.Errorf("%s: %w", labelFile, ErrMissingLabelFile))
	}
	return labelFile, nil
}
