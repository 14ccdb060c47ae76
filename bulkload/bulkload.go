package bulkload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/danthegoodman1/copartition/gologger"
	"github.com/danthegoodman1/copartition/table"
	"github.com/danthegoodman1/copartition/utils"
	"github.com/rs/zerolog"
)

var (
	logger = gologger.NewLogger()

	ErrLoaderNotFound = errors.New("bulk loader binary not found")
	ErrNoDatabase     = errors.New("bulk loader needs a database name")
)

type (
	// Loader loads a partitioned file into the relation's table. The table's
	// hash partitioning on the partition column places the rows.
	Loader interface {
		Load(ctx context.Context, rel *table.Relation, path string) error
	}

	// ExecLoader runs an external bulk loader such as vwload.
	ExecLoader struct {
		Bin     string
		DB      string
		Timeout time.Duration
		// Args come before the table name. NullString is passed with -n.
		Args       []string
		NullString string
	}
)

func NewExecLoaderFromEnv() *ExecLoader {
	return &ExecLoader{
		Bin:        utils.BULK_LOADER_BIN,
		DB:         utils.BULK_LOADER_DB,
		Timeout:    time.Second * time.Duration(utils.PARTITIONER_TIMEOUT_SEC),
		Args:       []string{"--timing", "--cluster"},
		NullString: "null",
	}
}

func (l *ExecLoader) args(rel *table.Relation, path string) []string {
	args := append([]string{}, l.Args...)
	args = append(args, "--table", rel.Name)
	if l.NullString != "" {
		args = append(args, "-n", l.NullString)
	}
	return append(args, l.DB, path)
}

func (l *ExecLoader) Load(ctx context.Context, rel *table.Relation, path string) error {
	bin, err := exec.LookPath(l.Bin)
	if err != nil {
		return utils.NewConfigError("bulk load", rel.Name, fmt.Errorf("%s: %w", l.Bin, ErrLoaderNotFound))
	}
	if l.DB == "" {
		return utils.NewConfigError("bulk load", rel.Name, ErrNoDatabase)
	}
	if _, err := os.Stat(path); err != nil {
		return utils.NewConfigError("bulk load", rel.Name, fmt.Errorf("error in os.Stat: %w", err))
	}

	if l.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.Timeout)
		defer cancel()
	}

	logger := zerolog.Ctx(logger.WithContext(ctx))
	s := time.Now()
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, l.args(rel, path)...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%s: %w", err, ctx.Err())
		}
		return utils.NewToolError("bulk load", rel.Name, fmt.Errorf("%w, output: %s", err, out.String()))
	}
	gologger.LogDuration(logger, "bulk load "+rel.Name, s)
	return nil
}
