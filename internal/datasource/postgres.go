package datasource

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres reads the warehouse tables:
//
//	sales_data(dt, city_id, store_id, product_id, first_category_id, sale_amount,
//	           stock_hour6_22_cnt, discount, holiday_flag, activity_flag,
//	           precpt, avg_temperature, avg_humidity)
//	weather_daily(city_id, dt, avg_temperature, avg_humidity, precpt)
//	holiday_calendar(dt, holiday_flag, holiday_name)
//	promotion_events(id, store_id, product_id, start_date, end_date, promotion_type,
//	                 discount_percentage, display_location, campaign_id, created_at)
//	product_hierarchy(product_id, first_category_id)
//	city_mapping(id, name, state, region)
//	store_mapping(id, name, format, size)
//
// Every call acquires its own pooled connection.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects and pings the database.
func NewPostgres(ctx context.Context, connStr string, maxConns int32, timeout time.Duration) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// whereBuilder accumulates positional predicates.
type whereBuilder struct {
	clauses []string
	args    []interface{}
}

func (w *whereBuilder) add(clause string, arg interface{}) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(clause, len(w.args)))
}

func (w *whereBuilder) addOptional(clause string, v *int64) {
	if v != nil {
		w.add(clause, *v)
	}
}

func (w *whereBuilder) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func (w *whereBuilder) entity(f EntityFilter) {
	w.addOptional("store_id = $%d", f.StoreID)
	w.addOptional("product_id = $%d", f.ProductID)
	w.addOptional("first_category_id = $%d", f.CategoryID)
	w.addOptional("city_id = $%d", f.CityID)
}

func (w *whereBuilder) dates(column string, start, end time.Time) {
	if !start.IsZero() {
		w.add(column+" >= $%d", start)
	}
	if !end.IsZero() {
		w.add(column+" <= $%d", end)
	}
}

func (p *Postgres) QueryHistory(ctx context.Context, filter EntityFilter, start, end time.Time) ([]SalesRow, error) {
	var w whereBuilder
	w.entity(filter)
	w.dates("dt", start, end)

	query := "SELECT dt, sale_amount FROM sales_data" + w.sql() + " ORDER BY dt ASC"
	rows, err := p.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("sales query failed: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SalesRow, error) {
		var r SalesRow
		err := row.Scan(&r.Date, &r.SaleAmount)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("sales scan failed: %w", err)
	}
	return out, nil
}

func (p *Postgres) QueryFacts(ctx context.Context, filter EntityFilter, start, end time.Time) ([]SalesFact, error) {
	var w whereBuilder
	w.entity(filter)
	w.dates("dt", start, end)

	query := `SELECT dt, city_id, store_id, product_id, first_category_id, sale_amount,
		COALESCE(stock_hour6_22_cnt, 0), COALESCE(discount, 0), COALESCE(holiday_flag, 0) = 1,
		COALESCE(activity_flag, 0) = 1, COALESCE(precpt, 0), COALESCE(avg_temperature, 0),
		COALESCE(avg_humidity, 0)
		FROM sales_data` + w.sql() + " ORDER BY dt ASC"

	rows, err := p.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("facts query failed: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SalesFact, error) {
		var f SalesFact
		err := row.Scan(&f.Date, &f.CityID, &f.StoreID, &f.ProductID, &f.CategoryID, &f.SaleAmount,
			&f.StockoutHours, &f.Discount, &f.HolidayFlag, &f.ActivityFlag,
			&f.Precipitation, &f.AvgTemperature, &f.AvgHumidity)
		return f, err
	})
	if err != nil {
		return nil, fmt.Errorf("facts scan failed: %w", err)
	}
	return out, nil
}

func (p *Postgres) QueryWeather(ctx context.Context, cityID int64, start, end time.Time) ([]WeatherRow, error) {
	var w whereBuilder
	w.add("city_id = $%d", cityID)
	w.dates("dt", start, end)

	query := "SELECT dt, avg_temperature, avg_humidity, precpt FROM weather_daily" + w.sql() + " ORDER BY dt ASC"
	rows, err := p.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("weather query failed: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (WeatherRow, error) {
		var r WeatherRow
		err := row.Scan(&r.Date, &r.AvgTemperature, &r.AvgHumidity, &r.Precipitation)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("weather scan failed: %w", err)
	}
	return out, nil
}

func (p *Postgres) QueryHolidays(ctx context.Context, start, end time.Time) ([]HolidayRow, error) {
	var w whereBuilder
	w.dates("dt", start, end)

	query := "SELECT dt, holiday_flag = 1, COALESCE(holiday_name, '') FROM holiday_calendar" + w.sql() + " ORDER BY dt ASC"
	rows, err := p.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("holiday query failed: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (HolidayRow, error) {
		var r HolidayRow
		err := row.Scan(&r.Date, &r.HolidayFlag, &r.HolidayName)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("holiday scan failed: %w", err)
	}
	return out, nil
}

func (p *Postgres) QueryPromotions(ctx context.Context, storeID, productID *int64, start, end time.Time) ([]PromotionRow, error) {
	var w whereBuilder
	if storeID != nil {
		w.add("(store_id IS NULL OR store_id = $%d)", *storeID)
	}
	if productID != nil {
		w.add("(product_id IS NULL OR product_id = $%d)", *productID)
	}
	if !end.IsZero() {
		w.add("start_date <= $%d", end)
	}
	if !start.IsZero() {
		w.add("end_date >= $%d", start)
	}

	query := "SELECT start_date, end_date, discount_percentage FROM promotion_events" + w.sql() + " ORDER BY start_date ASC"
	rows, err := p.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("promotion query failed: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (PromotionRow, error) {
		var r PromotionRow
		err := row.Scan(&r.StartDate, &r.EndDate, &r.DiscountFraction)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("promotion scan failed: %w", err)
	}
	return out, nil
}

const promotionColumns = `id, store_id, product_id, start_date, end_date, promotion_type,
	discount_percentage, COALESCE(display_location, ''), COALESCE(campaign_id, ''), created_at`

const promotionColumnsAliased = `pe.id, pe.store_id, pe.product_id, pe.start_date, pe.end_date, pe.promotion_type,
	pe.discount_percentage, COALESCE(pe.display_location, ''), COALESCE(pe.campaign_id, ''), pe.created_at`

func scanPromotion(row pgx.Row) (Promotion, error) {
	var p Promotion
	err := row.Scan(&p.ID, &p.StoreID, &p.ProductID, &p.StartDate, &p.EndDate, &p.PromotionType,
		&p.DiscountPercentage, &p.DisplayLocation, &p.CampaignID, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Promotion{}, ErrNotFound
	}
	return p, err
}

func (p *Postgres) CreatePromotion(ctx context.Context, promo Promotion) (Promotion, error) {
	query := `INSERT INTO promotion_events
		(store_id, product_id, start_date, end_date, promotion_type, discount_percentage,
		 display_location, campaign_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), NOW())
		RETURNING ` + promotionColumns

	out, err := scanPromotion(p.pool.QueryRow(ctx, query, promo.StoreID, promo.ProductID, promo.StartDate,
		promo.EndDate, promo.PromotionType, promo.DiscountPercentage, promo.DisplayLocation, promo.CampaignID))
	if err != nil {
		return Promotion{}, fmt.Errorf("promotion insert failed: %w", err)
	}
	return out, nil
}

func (p *Postgres) UpdatePromotion(ctx context.Context, promo Promotion) (Promotion, error) {
	query := `UPDATE promotion_events SET
		store_id = $2, product_id = $3, start_date = $4, end_date = $5, promotion_type = $6,
		discount_percentage = $7, display_location = NULLIF($8, ''), campaign_id = NULLIF($9, '')
		WHERE id = $1
		RETURNING ` + promotionColumns

	out, err := scanPromotion(p.pool.QueryRow(ctx, query, promo.ID, promo.StoreID, promo.ProductID,
		promo.StartDate, promo.EndDate, promo.PromotionType, promo.DiscountPercentage,
		promo.DisplayLocation, promo.CampaignID))
	if errors.Is(err, ErrNotFound) {
		return Promotion{}, ErrNotFound
	}
	if err != nil {
		return Promotion{}, fmt.Errorf("promotion update failed: %w", err)
	}
	return out, nil
}

func (p *Postgres) DeletePromotion(ctx context.Context, id int64) error {
	result, err := p.pool.Exec(ctx, "DELETE FROM promotion_events WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("promotion delete failed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) GetPromotion(ctx context.Context, id int64) (Promotion, error) {
	query := "SELECT " + promotionColumns + " FROM promotion_events WHERE id = $1"
	out, err := scanPromotion(p.pool.QueryRow(ctx, query, id))
	if errors.Is(err, ErrNotFound) {
		return Promotion{}, ErrNotFound
	}
	if err != nil {
		return Promotion{}, fmt.Errorf("promotion query failed: %w", err)
	}
	return out, nil
}

func (p *Postgres) ListPromotions(ctx context.Context, q PromotionQuery) ([]Promotion, error) {
	var w whereBuilder
	from := " FROM promotion_events pe"
	if q.CategoryID != nil {
		from += " JOIN product_hierarchy ph ON pe.product_id = ph.product_id"
		w.add("ph.first_category_id = $%d", *q.CategoryID)
	}
	w.addOptional("pe.store_id = $%d", q.StoreID)
	w.addOptional("pe.product_id = $%d", q.ProductID)
	if !q.StartDate.IsZero() {
		w.add("pe.end_date >= $%d", q.StartDate)
	}
	if !q.EndDate.IsZero() {
		w.add("pe.start_date <= $%d", q.EndDate)
	}
	if !q.ActiveOn.IsZero() {
		w.add("pe.start_date <= $%d", q.ActiveOn)
		w.add("pe.end_date >= $%d", q.ActiveOn)
	}

	query := "SELECT " + promotionColumnsAliased + from + w.sql() + " ORDER BY pe.start_date DESC, pe.id ASC"
	rows, err := p.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("promotion list failed: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Promotion, error) {
		return scanPromotion(row)
	})
	if err != nil {
		return nil, fmt.Errorf("promotion scan failed: %w", err)
	}
	return out, nil
}

func (p *Postgres) Cities(ctx context.Context) ([]City, error) {
	rows, err := p.pool.Query(ctx, "SELECT id, name, state, region FROM city_mapping ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("city mapping query failed: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[City])
}

func (p *Postgres) Stores(ctx context.Context) ([]Store, error) {
	rows, err := p.pool.Query(ctx, "SELECT id, name, format, size FROM store_mapping ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("store mapping query failed: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[Store])
}
