package promotion

import (
	"fmt"
	"math"

	"github.com/freshretail/freshcast/internal/datasource"
	"gonum.org/v1/gonum/mat"
)

// Feature columns of the uplift regression, after the intercept.
var featureNames = []string{"discount", "activity", "holiday", "avg_temperature", "avg_humidity", "precipitation"}

const (
	colDiscount = 1
	colActivity = 2
)

// ridgePenalty keeps the normal equations solvable when a column is
// constant, e.g. no holidays in the window.
const ridgePenalty = 1e-6

// UpliftModel is a linear model of daily sales on promotion and context
// features, fitted for one store/product combination.
type UpliftModel struct {
	coef []float64
	rows int
}

// FitUplift fits the model on facts.
func FitUplift(facts []datasource.SalesFact) (*UpliftModel, error) {
	n := len(facts)
	p := len(featureNames) + 1
	if n < p {
		return nil, fmt.Errorf("uplift fit needs at least %d rows, got %d", p, n)
	}

	x := mat.NewDense(n, p, nil)
	y := mat.NewVecDense(n, nil)
	for i, f := range facts {
		x.SetRow(i, features(f))
		y.SetVec(i, f.SaleAmount)
	}

	var xtx mat.SymDense
	xtx.SymOuterK(1, x.T())
	for j := 1; j < p; j++ {
		xtx.SetSym(j, j, xtx.At(j, j)+ridgePenalty*float64(n))
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(&xtx); !ok {
		return nil, fmt.Errorf("uplift normal equations are not positive definite")
	}

	var xty, beta mat.VecDense
	xty.MulVec(x.T(), y)
	if err := chol.SolveVecTo(&beta, &xty); err != nil {
		return nil, fmt.Errorf("solve uplift regression: %w", err)
	}

	coef := make([]float64, p)
	for j := range coef {
		coef[j] = beta.AtVec(j)
		if math.IsNaN(coef[j]) || math.IsInf(coef[j], 0) {
			return nil, fmt.Errorf("non-finite uplift coefficient for %s", columnName(j))
		}
	}
	return &UpliftModel{coef: coef, rows: n}, nil
}

// Uplift is the predicted extra daily sales from running a promotion at
// discount over an unpromoted day with the same context.
func (m *UpliftModel) Uplift(discount float64) float64 {
	return m.coef[colDiscount]*discount + m.coef[colActivity]
}

// Coefficients returns the fitted coefficients by feature name.
func (m *UpliftModel) Coefficients() map[string]float64 {
	out := make(map[string]float64, len(m.coef))
	for j, c := range m.coef {
		out[columnName(j)] = c
	}
	return out
}

func features(f datasource.SalesFact) []float64 {
	return []float64{1, f.Discount, flag(f.ActivityFlag || f.Discount > 0), flag(f.HolidayFlag), f.AvgTemperature, f.AvgHumidity, f.Precipitation}
}

func columnName(j int) string {
	if j == 0 {
		return "intercept"
	}
	return featureNames[j-1]
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
