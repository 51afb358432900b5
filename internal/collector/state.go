package collector

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/omegalab/histcollect/internal/model"
	"github.com/omegalab/histcollect/internal/store"
)

// DeriveState reads the collection state of a season from the store flags.
// VALIDATED is never stored; it is only reported by a run whose cardinality
// check passed.
func DeriveState(ctx context.Context, st store.Store, sport model.Sport, season int) (model.State, *model.Coverage, error) {
	cov, err := st.Coverage(ctx, sport, season)
	if err != nil {
		return model.StatePending, nil, eris.Wrapf(err, "collector: coverage %s %d", sport, season)
	}
	if n, ok := model.DefaultExpectedGames[sport]; ok && cov.ExpectedGames == 0 {
		cov.ExpectedGames = n
	}
	return cov.State(), cov, nil
}
