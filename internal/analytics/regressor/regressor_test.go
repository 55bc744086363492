package regressor

import (
	"testing"
	"time"

	"github.com/freshretail/freshcast/internal/analytics/forecast"
)

type stubModel struct {
	names []string
	mean  map[string]float64
	last  map[string]float64
}

func (s stubModel) Regressors() []string             { return s.names }
func (s stubModel) RegressorMean(name string) float64 { return s.mean[name] }
func (s stubModel) RegressorLast(name string) float64 { return s.last[name] }

func futureDays(n int) []time.Time {
	return forecast.FutureDates(time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC), n)
}

func TestExtrapolateDefaults(t *testing.T) {
	model := stubModel{
		names: []string{AvgTemperature, DiscountFraction, ActivityFlag, HolidayFlag},
		mean: map[string]float64{
			AvgTemperature:   22.5,
			DiscountFraction: 0.3,
			ActivityFlag:     0.4,
			HolidayFlag:      0.1,
		},
	}

	frame, err := Extrapolate(model, futureDays(14), nil)
	if err != nil {
		t.Fatalf("Extrapolate() error = %v", err)
	}
	if len(frame) != 14 {
		t.Fatalf("expected 14 rows, got %d", len(frame))
	}

	for i, row := range frame {
		if got := row.Regressors[AvgTemperature]; got != 22.5 {
			t.Errorf("row %d temperature = %v, want training mean", i, got)
		}
		for _, name := range []string{DiscountFraction, ActivityFlag, HolidayFlag} {
			if got := row.Regressors[name]; got != 0 {
				t.Errorf("row %d %s = %v, want inactive default", i, name, got)
			}
		}
	}
}

func TestExtrapolateSchedule(t *testing.T) {
	model := stubModel{names: []string{DiscountFraction}}
	days := futureDays(5)

	schedule := Schedule{}
	schedule.Set(DiscountFraction, days[2].Add(13*time.Hour), 0.25)

	frame, err := Extrapolate(model, days, schedule)
	if err != nil {
		t.Fatalf("Extrapolate() error = %v", err)
	}

	for i, row := range frame {
		want := 0.0
		if i == 2 {
			want = 0.25
		}
		if got := row.Regressors[DiscountFraction]; got != want {
			t.Errorf("row %d discount = %v, want %v", i, got, want)
		}
	}
}

func TestExtrapolateOverrides(t *testing.T) {
	model := stubModel{
		names: []string{AvgHumidity, "shelf_facings"},
		mean:  map[string]float64{AvgHumidity: 60},
		last:  map[string]float64{AvgHumidity: 75, "shelf_facings": 4},
	}

	_, err := Extrapolate(model, futureDays(3), nil)
	if forecast.KindOf(err) != forecast.SchemaMismatch {
		t.Fatalf("unknown regressor should be SchemaMismatch, got %v", err)
	}

	frame, err := Extrapolate(model, futureDays(3), nil,
		Spec{Name: "shelf_facings", Policy: HoldLast},
		Spec{Name: AvgHumidity, Source: SourceWeather, Policy: Constant, Value: 55},
	)
	if err != nil {
		t.Fatalf("Extrapolate() error = %v", err)
	}
	for _, row := range frame {
		if row.Regressors["shelf_facings"] != 4 || row.Regressors[AvgHumidity] != 55 {
			t.Errorf("overrides not applied: %v", row.Regressors)
		}
	}
}

func TestBySource(t *testing.T) {
	tests := []struct {
		source Source
		want   []string
	}{
		{SourceWeather, []string{AvgTemperature, AvgHumidity, Precipitation}},
		{SourcePromotion, []string{DiscountFraction, ActivityFlag}},
		{SourceHoliday, []string{HolidayFlag}},
	}

	for _, tt := range tests {
		got := BySource(tt.source)
		if len(got) != len(tt.want) {
			t.Fatalf("BySource(%s) = %v, want %v", tt.source, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("BySource(%s)[%d] = %s, want %s", tt.source, i, got[i], tt.want[i])
			}
		}
	}
}
