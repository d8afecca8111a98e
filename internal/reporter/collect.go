package reporter

import (
	"context"

	"github.com/ZENITH-cmd2/LavoroGiupponi/internal/models"
	"github.com/ZENITH-cmd2/LavoroGiupponi/pkg/errors"
)

// Source provides the stored verdicts and plant names a report is built from.
// storage.SQLStore satisfies it.
type Source interface {
	History(ctx context.Context, from, to string) ([]models.DailyVerdict, error)
	PlantNames(ctx context.Context) (map[int]string, error)
}

// Collect loads the verdicts of [opts.From, opts.To] from src and builds the
// report. Plant names already set in opts win over stored ones.
func Collect(ctx context.Context, src Source, opts BuildOptions) (*AnomalyReport, error) {
	if src == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "source", nil, nil)
	}

	history, err := src.History(ctx, opts.From, opts.To)
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeQueryFailed,
			"failed to load verdict history")
	}

	names, err := src.PlantNames(ctx)
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeQueryFailed,
			"failed to load plant names")
	}
	if names == nil {
		names = make(map[int]string)
	}
	for id, name := range opts.PlantNames {
		names[id] = name
	}
	opts.PlantNames = names

	return BuildReport(history, opts), nil
}
