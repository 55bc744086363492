package forecast

import (
	"fmt"
	"math"
	"slices"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Mode selects how seasonality and regressors combine with the trend.
type Mode string

const (
	// Additive models y = trend + seasonality + regressors.
	Additive Mode = "additive"
	// Multiplicative models y = trend * (1 + seasonality + regressors).
	Multiplicative Mode = "multiplicative"
)

const (
	weeklyPeriod = 7.0
	yearlyPeriod = 365.25

	// Seasonal terms need at least this many days of span before they are fitted.
	minWeeklySpanDays = 14
	minYearlySpanDays = 365

	// Penalty floor keeps the normal equations positive definite when a
	// regressor column is constant.
	minRidge = 1e-6

	// changepoint penalties equal the base ridge penalty at this prior scale
	referencePriorScale = 0.05
)

// Options configures a decomposable trend + seasonality + regressor model.
type Options struct {
	Mode                  Mode
	WeeklySeasonality     bool
	YearlySeasonality     bool
	FourierOrderWeekly    int
	FourierOrderYearly    int
	NumChangePoints       int     // potential changepoints placed on a uniform grid
	ChangePointRange      float64 // share of history eligible for changepoints
	ChangePointPriorScale float64 // larger values allow a more flexible trend
	Regularization        float64 // ridge penalty on seasonal and regressor coefficients
	IntervalWidth         float64 // coverage of the uncertainty interval
	MinRows               int     // rows required after dropping incomplete rows
}

// DefaultOptions mirrors the production defaults.
func DefaultOptions() Options {
	return Options{
		Mode:                  Multiplicative,
		WeeklySeasonality:     true,
		YearlySeasonality:     true,
		FourierOrderWeekly:    3,
		FourierOrderYearly:    10,
		NumChangePoints:       25,
		ChangePointRange:      0.8,
		ChangePointPriorScale: 0.05,
		Regularization:        0.01,
		IntervalWidth:         0.80,
		MinRows:               10,
	}
}

// Model holds configuration and regressor registrations prior to fitting.
// A Model is cheap; build one per run.
type Model struct {
	opts       Options
	regressors []string
}

// NewModel creates an unfitted model. The mode is fixed here.
func NewModel(opts Options) *Model {
	if opts.Mode != Additive {
		opts.Mode = Multiplicative
	}
	return &Model{opts: opts}
}

// AddRegressor registers an exogenous column. Registration order is training order.
func (m *Model) AddRegressor(name string) {
	for _, r := range m.regressors {
		if r == name {
			return
		}
	}
	m.regressors = append(m.regressors, name)
}

// Regressors returns the registered regressor names.
func (m *Model) Regressors() []string {
	return append([]string(nil), m.regressors...)
}

// Options returns the model configuration.
func (m *Model) Options() Options {
	return m.opts
}

// FittedModel is the trained state produced by Fit. It is owned by the run
// that created it.
type FittedModel struct {
	opts       Options
	regressors []string
	regMean    []float64
	regStd     []float64
	regLast    []float64

	t0     float64 // first training day, days since epoch
	tSpan  float64 // days between first and last training date
	yScale float64

	weekly       bool
	yearly       bool
	changePoints []float64 // normalized positions in [0, 1]

	trendCoef  []float64 // intercept, slope, one delta per changepoint
	seasonCoef []float64 // weekly then yearly sin/cos pairs
	regCoef    []float64 // one per regressor, on standardized values

	sigma    float64
	lastDate time.Time
	dropped  int

	dates  []time.Time
	actual []float64
	fitted []float64
}

// Fit trains the model on history. Rows lacking any registered regressor are
// dropped first; the remaining rows must meet MinRows.
func (m *Model) Fit(history History) (*FittedModel, error) {
	rows, dropped := m.usableRows(history.Sorted())

	minRows := m.opts.MinRows
	if minRows < 2 {
		minRows = 2
	}
	if len(rows) < minRows {
		return nil, NewInsufficientData(len(rows), minRows)
	}

	n := len(rows)
	y := make([]float64, n)
	for i, r := range rows {
		if math.IsNaN(r.Target) || math.IsInf(r.Target, 0) {
			return nil, NewError(ModelFitError, "non-finite target on %s", r.Date.Format(DateLayout))
		}
		if i > 0 && Day(r.Date).Equal(Day(rows[i-1].Date)) {
			return nil, NewError(ModelFitError, "duplicate date %s", r.Date.Format(DateLayout))
		}
		y[i] = r.Target
	}
	if stat.Variance(y, nil) == 0 {
		return nil, NewError(ModelFitError, "degenerate series: target is constant at %g", y[0])
	}

	f := &FittedModel{
		opts:       m.opts,
		regressors: m.Regressors(),
		t0:         epochDays(rows[0].Date),
		lastDate:   Day(rows[n-1].Date),
		dropped:    dropped,
	}
	f.tSpan = epochDays(rows[n-1].Date) - f.t0
	f.yScale = floats.Max(absAll(y))
	f.weekly = m.opts.WeeklySeasonality && m.opts.FourierOrderWeekly > 0 && f.tSpan >= minWeeklySpanDays
	f.yearly = m.opts.YearlySeasonality && m.opts.FourierOrderYearly > 0 && f.tSpan >= minYearlySpanDays

	tNorm := make([]float64, n)
	for i, r := range rows {
		tNorm[i] = f.normalizeTime(r.Date)
	}
	f.changePoints = changePointGrid(tNorm, m.opts.NumChangePoints, m.opts.ChangePointRange)
	f.standardize(rows)

	trendX := mat.NewDense(n, f.trendWidth(), nil)
	featX := mat.NewDense(n, max(f.featureWidth(), 1), nil)
	yn := make([]float64, n)
	for i, r := range rows {
		trendX.SetRow(i, f.trendRow(tNorm[i]))
		if f.featureWidth() > 0 {
			featX.SetRow(i, f.featureRow(r.Date, f.scaledRegressors(r.Regressors)))
		}
		yn[i] = y[i] / f.yScale
	}

	base := math.Max(m.opts.Regularization, minRidge) * float64(n)
	cpScale := m.opts.ChangePointPriorScale
	if cpScale <= 0 {
		cpScale = referencePriorScale
	}
	trendPenalty := make([]float64, f.trendWidth())
	for j := 2; j < len(trendPenalty); j++ {
		trendPenalty[j] = base * referencePriorScale / cpScale
	}
	featPenalty := make([]float64, f.featureWidth())
	for j := range featPenalty {
		featPenalty[j] = base
	}

	var err error
	switch f.opts.Mode {
	case Additive:
		err = f.fitAdditive(trendX, featX, yn, trendPenalty, featPenalty)
	default:
		err = f.fitMultiplicative(trendX, featX, yn, trendPenalty, featPenalty)
	}
	if err != nil {
		return nil, err
	}

	f.dates = make([]time.Time, n)
	f.actual = y
	f.fitted = make([]float64, n)
	residuals := make([]float64, n)
	for i, r := range rows {
		f.dates[i] = Day(r.Date)
		f.fitted[i] = f.evaluate(r.Date, r.Regressors)
		residuals[i] = y[i] - f.fitted[i]
	}
	f.sigma = populationStd(residuals)
	if math.IsNaN(f.sigma) {
		return nil, NewError(ModelFitError, "fit produced non-finite residuals")
	}

	return f, nil
}

// usableRows drops rows with a missing or non-finite value for any registered regressor.
func (m *Model) usableRows(history History) (History, int) {
	if len(m.regressors) == 0 {
		return history, 0
	}
	out := make(History, 0, len(history))
	for _, r := range history {
		complete := true
		for _, name := range m.regressors {
			if _, ok := r.Regressor(name); !ok {
				complete = false
				break
			}
		}
		if complete {
			out = append(out, r)
		}
	}
	return out, len(history) - len(out)
}

func (f *FittedModel) fitAdditive(trendX, featX *mat.Dense, yn, trendPenalty, featPenalty []float64) error {
	n, tw := trendX.Dims()
	fw := f.featureWidth()

	x := mat.NewDense(n, tw+max(fw, 0), nil)
	for i := 0; i < n; i++ {
		for j := 0; j < tw; j++ {
			x.Set(i, j, trendX.At(i, j))
		}
		for j := 0; j < fw; j++ {
			x.Set(i, tw+j, featX.At(i, j))
		}
	}

	beta, err := ridge(x, yn, append(append([]float64(nil), trendPenalty...), featPenalty...))
	if err != nil {
		return WrapError(ModelFitError, err, "additive fit failed")
	}
	f.splitCoefficients(beta[:tw], beta[tw:])
	return nil
}

// fitMultiplicative fits the trend first, then seasonal and regressor
// effects on the ratio of observed to trend.
func (f *FittedModel) fitMultiplicative(trendX, featX *mat.Dense, yn, trendPenalty, featPenalty []float64) error {
	n, _ := trendX.Dims()

	trendCoef, err := ridge(trendX, yn, trendPenalty)
	if err != nil {
		return WrapError(ModelFitError, err, "trend fit failed")
	}

	ratio := make([]float64, n)
	for i := 0; i < n; i++ {
		trend := floats.Dot(trendX.RawRowView(i), trendCoef)
		if trend <= 1e-9 {
			return NewError(ModelFitError, "multiplicative mode requires a positive trend, got %g", trend*f.yScale)
		}
		ratio[i] = yn[i]/trend - 1
	}

	var featCoef []float64
	if f.featureWidth() > 0 {
		featCoef, err = ridge(featX, ratio, featPenalty)
		if err != nil {
			return WrapError(ModelFitError, err, "seasonality fit failed")
		}
	}
	f.splitCoefficients(trendCoef, featCoef)
	return nil
}

func (f *FittedModel) splitCoefficients(trend, feat []float64) {
	f.trendCoef = append([]float64(nil), trend...)
	s := f.seasonWidth()
	f.seasonCoef = append([]float64(nil), feat[:s]...)
	f.regCoef = append([]float64(nil), feat[s:s+len(f.regressors)]...)
}

// ridge solves (X'X + diag(penalty)) b = X'y.
func ridge(x *mat.Dense, y, penalty []float64) ([]float64, error) {
	n, p := x.Dims()

	var xtx mat.SymDense
	xtx.SymOuterK(1, x.T())
	for j := 0; j < p; j++ {
		xtx.SetSym(j, j, xtx.At(j, j)+penalty[j])
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(&xtx); !ok {
		return nil, fmt.Errorf("normal equations are not positive definite")
	}

	xty := mat.NewVecDense(p, nil)
	xty.MulVec(x.T(), mat.NewVecDense(n, y))

	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, xty); err != nil {
		return nil, fmt.Errorf("solve: %w", err)
	}

	out := make([]float64, p)
	for j := range out {
		out[j] = beta.AtVec(j)
		if math.IsNaN(out[j]) || math.IsInf(out[j], 0) {
			return nil, fmt.Errorf("non-finite coefficient at column %d", j)
		}
	}
	return out, nil
}

// changePointGrid places up to count changepoints uniformly over the first
// rangeFrac of the observed normalized times.
func changePointGrid(tNorm []float64, count int, rangeFrac float64) []float64 {
	histSize := int(math.Floor(float64(len(tNorm)) * rangeFrac))
	if count > histSize-1 {
		count = histSize - 1
	}
	if count <= 0 {
		return nil
	}

	points := make([]float64, 0, count)
	last := -1
	for i := 1; i <= count; i++ {
		idx := int(math.Round(float64(i) * float64(histSize-1) / float64(count)))
		if idx == last {
			continue
		}
		last = idx
		points = append(points, tNorm[idx])
	}
	return points
}

func (f *FittedModel) standardize(rows History) {
	k := len(f.regressors)
	f.regMean = make([]float64, k)
	f.regStd = make([]float64, k)
	f.regLast = make([]float64, k)

	col := make([]float64, len(rows))
	for j, name := range f.regressors {
		for i, r := range rows {
			col[i], _ = r.Regressor(name)
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		f.regMean[j] = mean
		f.regStd[j] = std
		f.regLast[j] = col[len(col)-1]
	}
}

func (f *FittedModel) scaledRegressors(values map[string]float64) []float64 {
	out := make([]float64, len(f.regressors))
	for j, name := range f.regressors {
		out[j] = (values[name] - f.regMean[j]) / f.regStd[j]
	}
	return out
}

func (f *FittedModel) trendWidth() int {
	return 2 + len(f.changePoints)
}

func (f *FittedModel) seasonWidth() int {
	w := 0
	if f.weekly {
		w += 2 * f.opts.FourierOrderWeekly
	}
	if f.yearly {
		w += 2 * f.opts.FourierOrderYearly
	}
	return w
}

func (f *FittedModel) featureWidth() int {
	return f.seasonWidth() + len(f.regressors)
}

func (f *FittedModel) normalizeTime(date time.Time) float64 {
	if f.tSpan == 0 {
		return 0
	}
	return (epochDays(date) - f.t0) / f.tSpan
}

func (f *FittedModel) trendRow(t float64) []float64 {
	row := make([]float64, f.trendWidth())
	row[0] = 1
	row[1] = t
	for j, cp := range f.changePoints {
		if t > cp {
			row[2+j] = t - cp
		}
	}
	return row
}

func (f *FittedModel) featureRow(date time.Time, scaled []float64) []float64 {
	row := make([]float64, 0, f.featureWidth())
	day := epochDays(date)
	if f.weekly {
		row = appendFourier(row, day, weeklyPeriod, f.opts.FourierOrderWeekly)
	}
	if f.yearly {
		row = appendFourier(row, day, yearlyPeriod, f.opts.FourierOrderYearly)
	}
	return append(row, scaled...)
}

func appendFourier(row []float64, day, period float64, order int) []float64 {
	for k := 1; k <= order; k++ {
		phase := 2 * math.Pi * float64(k) * day / period
		row = append(row, math.Sin(phase), math.Cos(phase))
	}
	return row
}

// evaluate returns the point prediction in target units.
func (f *FittedModel) evaluate(date time.Time, regressors map[string]float64) float64 {
	trend := floats.Dot(f.trendRow(f.normalizeTime(date)), f.trendCoef)

	effect := 0.0
	if f.featureWidth() > 0 {
		coef := append(append([]float64(nil), f.seasonCoef...), f.regCoef...)
		effect = floats.Dot(f.featureRow(date, f.scaledRegressors(regressors)), coef)
	}

	if f.opts.Mode == Additive {
		return (trend + effect) * f.yScale
	}
	return trend * (1 + effect) * f.yScale
}

// Predict produces one point per frame row. Every trained regressor must be
// present with a finite value on every row.
func (f *FittedModel) Predict(frame Frame) ([]Point, error) {
	points := make([]Point, len(frame))
	for i, row := range frame {
		for _, name := range f.regressors {
			v, ok := row.Regressors[name]
			if !ok {
				return nil, NewError(SchemaMismatch, "regressor %q absent from frame on %s", name, row.Date.Format(DateLayout))
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, NewError(SchemaMismatch, "regressor %q has no value on %s", name, row.Date.Format(DateLayout))
			}
		}

		date := Day(row.Date)
		value := f.evaluate(date, row.Regressors)
		steps := int(date.Sub(f.lastDate).Hours() / 24)
		lower, upper := predictionInterval(value, f.sigma, steps, f.opts.IntervalWidth)
		points[i] = Point{Date: date, Value: value, Lower: lower, Upper: upper}
	}
	return points, nil
}

// FeatureImportance returns each regressor's share of the summed absolute
// standardized coefficients. All zero when no regressor carries signal.
func (f *FittedModel) FeatureImportance() map[string]float64 {
	out := make(map[string]float64, len(f.regressors))
	total := 0.0
	for _, c := range f.regCoef {
		total += math.Abs(c)
	}
	for j, name := range f.regressors {
		if total == 0 {
			out[name] = 0
			continue
		}
		out[name] = math.Abs(f.regCoef[j]) / total
	}
	return out
}

// Regressors returns the trained regressor names in training order.
func (f *FittedModel) Regressors() []string {
	return append([]string(nil), f.regressors...)
}

// RegressorMean returns the training mean of a regressor, or 0 if unknown.
func (f *FittedModel) RegressorMean(name string) float64 {
	if j := f.indexOf(name); j >= 0 {
		return f.regMean[j]
	}
	return 0
}

// RegressorLast returns the last training value of a regressor, or 0 if unknown.
func (f *FittedModel) RegressorLast(name string) float64 {
	if j := f.indexOf(name); j >= 0 {
		return f.regLast[j]
	}
	return 0
}

func (f *FittedModel) indexOf(name string) int {
	for j, r := range f.regressors {
		if r == name {
			return j
		}
	}
	return -1
}

// LastDate returns the final training date.
func (f *FittedModel) LastDate() time.Time { return f.lastDate }

// Rows returns the number of rows used for training.
func (f *FittedModel) Rows() int { return len(f.actual) }

// Dropped returns the number of rows discarded for incomplete regressors.
func (f *FittedModel) Dropped() int { return f.dropped }

// Sigma returns the in-sample residual standard deviation.
func (f *FittedModel) Sigma() float64 { return f.sigma }

// InSample returns copies of the training dates with observed and fitted
// values. Fitted models may be shared through the model cache.
func (f *FittedModel) InSample() (dates []time.Time, actual, fitted []float64) {
	return slices.Clone(f.dates), slices.Clone(f.actual), slices.Clone(f.fitted)
}

// Parameters describes the fitted configuration for reporting.
func (f *FittedModel) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"seasonality_mode":   string(f.opts.Mode),
		"weekly_seasonality": f.weekly,
		"yearly_seasonality": f.yearly,
		"num_changepoints":   len(f.changePoints),
		"changepoint_range":  f.opts.ChangePointRange,
		"interval_width":     f.opts.IntervalWidth,
		"regressors":         f.Regressors(),
	}
}

func epochDays(t time.Time) float64 {
	return float64(Day(t).Unix()) / 86400
}

func absAll(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = math.Abs(v)
	}
	return out
}

func populationStd(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	_, std := stat.PopMeanStdDev(values, nil)
	return std
}
