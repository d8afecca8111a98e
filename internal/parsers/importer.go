package parsers

import (
	"context"
	"fmt"
	"time"

	"github.com/ZENITH-cmd2/LavoroGiupponi/internal/models"
	"github.com/ZENITH-cmd2/LavoroGiupponi/pkg/errors"
	"github.com/ZENITH-cmd2/LavoroGiupponi/pkg/logger"

	"github.com/sourcegraph/conc/pool"
)

// Sink receives loaded records. The storage package implements it.
type Sink interface {
	UpsertPlants(ctx context.Context, names map[int]string) error
	UpsertDeclared(ctx context.Context, totals []models.DeclaredTotals) (int, error)
	ReplaceDeposits(ctx context.Context, deposits []models.Deposit) (int, error)
	ReplaceSettlements(ctx context.Context, records []models.SettlementRecord) (int, error)
	// WithinTx runs fn so that the writes it makes are committed together
	WithinTx(ctx context.Context, operation string, fn func(ctx context.Context) error) error
}

// SettlementFile is a settlement feed and the channel its rows default to
type SettlementFile struct {
	Path    string
	Channel models.Channel
}

// Files lists the inputs of one import
type Files struct {
	Declared    []string
	Deposits    []string
	Settlements []SettlementFile
}

// Empty reports whether no file was given
func (f Files) Empty() bool {
	return len(f.Declared) == 0 && len(f.Deposits) == 0 && len(f.Settlements) == 0
}

// ImportSummary reports what an import stored
type ImportSummary struct {
	Plants      int
	Declared    int
	Deposits    int
	Settlements int
	Stats       []*ParseStats
	Duration    time.Duration
}

// ErrorCount returns the number of rows rejected across all files
func (s *ImportSummary) ErrorCount() int {
	n := 0
	for _, st := range s.Stats {
		n += st.ErrorCount
	}
	return n
}

// Importer loads input files concurrently and writes them to a Sink
type Importer struct {
	loader  *Loader
	sink    Sink
	workers int
	logger  logger.Logger
}

// NewImporter creates an Importer. workers bounds the files read at once.
func NewImporter(loader *Loader, sink Sink, workers int) (*Importer, error) {
	if loader == nil || sink == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "importer", nil,
			fmt.Errorf("loader and sink are required"))
	}
	if workers <= 0 {
		workers = 1
	}
	return &Importer{
		loader:  loader,
		sink:    sink,
		workers: workers,
		logger:  logger.GetGlobalLogger().WithComponent("importer"),
	}, nil
}

// Import reads every file and stores the records in one transaction.
// Nothing is stored when a file cannot be read or a write fails. Rejected
// rows are reported in the summary stats.
func (im *Importer) Import(ctx context.Context, files Files) (*ImportSummary, error) {
	start := time.Now()
	if files.Empty() {
		return nil, errors.ValidationError(errors.CodeMissingField, "files", nil,
			fmt.Errorf("no input files given")).
			WithSuggestion("Pass at least one of --declared, --deposits or --settlements")
	}

	op := logger.NewOperationLogger("import", im.logger).WithFields(logger.Fields{
		"declared_files":   len(files.Declared),
		"deposit_files":    len(files.Deposits),
		"settlement_files": len(files.Settlements),
	})

	declared := make([]*DeclaredFile, len(files.Declared))
	deposits := make([][]models.Deposit, len(files.Deposits))
	settlements := make([][]models.SettlementRecord, len(files.Settlements))
	depositStats := make([]*ParseStats, len(files.Deposits))
	settlementStats := make([]*ParseStats, len(files.Settlements))

	op.Step("loading files")
	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError().WithMaxGoroutines(im.workers)
	for i, path := range files.Declared {
		i, path := i, path
		p.Go(func(ctx context.Context) error {
			f, err := im.loader.LoadDeclared(ctx, path)
			declared[i] = f
			return err
		})
	}
	for i, path := range files.Deposits {
		i, path := i, path
		p.Go(func(ctx context.Context) error {
			var err error
			deposits[i], depositStats[i], err = im.loader.LoadDeposits(ctx, path)
			return err
		})
	}
	for i, sf := range files.Settlements {
		i, sf := i, sf
		p.Go(func(ctx context.Context) error {
			var err error
			settlements[i], settlementStats[i], err = im.loader.LoadSettlements(ctx, sf.Path, sf.Channel)
			return err
		})
	}
	if err := p.Wait(); err != nil {
		op.Error(err, "Failed to load input files")
		return nil, err
	}

	summary := &ImportSummary{}
	names := make(map[int]string)
	var allDeclared []models.DeclaredTotals
	for _, f := range declared {
		summary.Stats = append(summary.Stats, f.Stats)
		allDeclared = append(allDeclared, f.Totals...)
		for id, name := range f.PlantNames {
			names[id] = name
		}
	}
	var allDeposits []models.Deposit
	for i := range deposits {
		summary.Stats = append(summary.Stats, depositStats[i])
		allDeposits = append(allDeposits, deposits[i]...)
	}
	var allSettlements []models.SettlementRecord
	for i := range settlements {
		summary.Stats = append(summary.Stats, settlementStats[i])
		allSettlements = append(allSettlements, settlements[i]...)
	}

	op.Step("storing records")
	err := im.sink.WithinTx(ctx, "import", func(ctx context.Context) error {
		var err error
		if err = im.sink.UpsertPlants(ctx, names); err != nil {
			return errors.StorageError(errors.CodeTransactionFailed, "store plants", err)
		}
		if summary.Declared, err = im.sink.UpsertDeclared(ctx, allDeclared); err != nil {
			return errors.StorageError(errors.CodeTransactionFailed, "store declared totals", err)
		}
		if summary.Deposits, err = im.sink.ReplaceDeposits(ctx, allDeposits); err != nil {
			return errors.StorageError(errors.CodeTransactionFailed, "store deposits", err)
		}
		if summary.Settlements, err = im.sink.ReplaceSettlements(ctx, allSettlements); err != nil {
			return errors.StorageError(errors.CodeTransactionFailed, "store settlements", err)
		}
		return nil
	})
	if err != nil {
		wrapped := errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeTransactionFailed, "store import")
		op.Error(wrapped, "Import failed")
		return nil, wrapped
	}
	summary.Plants = len(names)

	summary.Duration = time.Since(start)
	op.WithFields(logger.Fields{
		"plants":        summary.Plants,
		"declared_days": summary.Declared,
		"deposits":      summary.Deposits,
		"settlements":   summary.Settlements,
		"rejected_rows": summary.ErrorCount(),
	}).Success("Import completed")
	return summary, nil
}
