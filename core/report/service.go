package report

import (
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/trezcool/bursar/core"
	"github.com/trezcool/bursar/core/billing"
)

type (
	Repository interface {
		// QueryDues returns the requested page ordered by creation date (newest first),
		// the total count & the summary of the whole filtered set.
		QueryDues(ctx context.Context, filter DuesFilter, today core.Date) (DuesReport, error)
		// QueryMonthlyDues returns installments ordered by year, month & due date.
		QueryMonthlyDues(ctx context.Context, filter MonthlyFilter, today core.Date) ([]MonthlyRow, error)
		// QueryCollections returns the requested page ordered by payment date (newest first) & the totals of the filtered set.
		QueryCollections(ctx context.Context, filter CollectionsFilter) (CollectionsReport, error)
	}

	Service struct {
		repo   Repository
		cache  core.Cache
		ttl    time.Duration
		logger core.Logger
	}
)

func NewService(repo Repository, cache core.Cache, ttl time.Duration, logger core.Logger) *Service {
	return &Service{repo: repo, cache: cache, ttl: ttl, logger: logger}
}

func today() core.Date {
	return core.DateOf(billing.NowFunc().UTC())
}

// cacheKey derives a key from the ledger generation, so any committed ledger write invalidates it.
func (svc *Service) cacheKey(ctx context.Context, kind string, day core.Date, filter interface{}) string {
	var gen int64
	if _, err := svc.cache.Get(ctx, billing.LedgerGenerationKey, &gen); err != nil {
		svc.logger.Warn(fmt.Sprintf("reading ledger generation: %v", err), err)
		return ""
	}
	data, err := json.Marshal(filter)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("report:%s:%d:%s:%x", kind, gen, day, sha1.Sum(data))
}

func (svc *Service) fromCache(ctx context.Context, key string, dst interface{}) bool {
	if key == "" {
		return false
	}
	found, err := svc.cache.Get(ctx, key, dst)
	if err != nil {
		svc.logger.Warn(fmt.Sprintf("reading report cache: %v", err), err)
		return false
	}
	return found
}

func (svc *Service) toCache(ctx context.Context, key string, val interface{}) {
	if key == "" {
		return
	}
	if err := svc.cache.Set(ctx, key, val, svc.ttl); err != nil {
		svc.logger.Warn(fmt.Sprintf("writing report cache: %v", err), err)
	}
}

// Dues lists StudentFee ledgers with a summary of the filtered set.
func (svc *Service) Dues(ctx context.Context, filter DuesFilter) (DuesReport, error) {
	filter.Clean()
	day := today()

	var rep DuesReport
	key := svc.cacheKey(ctx, "dues", day, filter)
	if svc.fromCache(ctx, key, &rep) {
		return rep, nil
	}

	rep, err := svc.repo.QueryDues(ctx, filter, day)
	if err != nil {
		return DuesReport{}, errors.Wrap(err, "querying dues")
	}
	if rep.Data == nil {
		rep.Data = []DuesRow{}
	}
	for i := range rep.Data {
		rep.Data[i].EffectiveStatus = rep.Data[i].StudentFee.EffectiveStatus(day)
	}
	rep.Page = filter.Page
	rep.PageSize = filter.PageSize

	svc.toCache(ctx, key, rep)
	return rep, nil
}

// MonthlyBreakdown lists installments with per-month totals.
func (svc *Service) MonthlyBreakdown(ctx context.Context, filter MonthlyFilter) (MonthlyReport, error) {
	filter.Clean()
	day := today()

	var rep MonthlyReport
	key := svc.cacheKey(ctx, "monthly", day, filter)
	if svc.fromCache(ctx, key, &rep) {
		return rep, nil
	}

	rows, err := svc.repo.QueryMonthlyDues(ctx, filter, day)
	if err != nil {
		return MonthlyReport{}, errors.Wrap(err, "querying monthly dues")
	}
	if rows == nil {
		rows = []MonthlyRow{}
	}
	for i := range rows {
		rows[i].EffectiveStatus = rows[i].MonthlyDue.EffectiveStatus(day)
	}
	rep = MonthlyReport{Data: rows, Months: monthTotals(rows)}

	svc.toCache(ctx, key, rep)
	return rep, nil
}

func monthTotals(rows []MonthlyRow) []MonthTotal {
	type period struct{ year, month int }

	groups := lo.GroupBy(rows, func(r MonthlyRow) period { return period{r.Year, r.Month} })
	totals := make([]MonthTotal, 0, len(groups))
	for p, group := range groups {
		mt := MonthTotal{Year: p.year, Month: p.month}
		for _, r := range group {
			mt.Count++
			mt.Amount = mt.Amount.Add(r.Amount)
			mt.PaidAmount = mt.PaidAmount.Add(r.PaidAmount)
			if r.Status == billing.StatusPaid {
				mt.PaidCount++
			}
		}
		mt.Outstanding = mt.Amount.Sub(mt.PaidAmount)
		totals = append(totals, mt)
	}
	sort.Slice(totals, func(i, j int) bool {
		if totals[i].Year != totals[j].Year {
			return totals[i].Year < totals[j].Year
		}
		return totals[i].Month < totals[j].Month
	})
	return totals
}

// Collections lists payments with the totals of the filtered set.
func (svc *Service) Collections(ctx context.Context, filter CollectionsFilter) (CollectionsReport, error) {
	filter.Clean()

	var rep CollectionsReport
	key := svc.cacheKey(ctx, "collections", today(), filter)
	if svc.fromCache(ctx, key, &rep) {
		return rep, nil
	}

	rep, err := svc.repo.QueryCollections(ctx, filter)
	if err != nil {
		return CollectionsReport{}, errors.Wrap(err, "querying collections")
	}
	if rep.Data == nil {
		rep.Data = []billing.Payment{}
	}
	rep.Page = filter.Page
	rep.PageSize = filter.PageSize

	svc.toCache(ctx, key, rep)
	return rep, nil
}
