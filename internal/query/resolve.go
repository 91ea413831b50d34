package query

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/kursadbilgin/exception-collector/internal/domain"
	"github.com/kursadbilgin/exception-collector/internal/repository"
	"github.com/vektah/gqlparser/v2/ast"
	"golang.org/x/sync/errgroup"
)

// lazy is a field value computed only when the document selects it.
type lazy func(ctx context.Context) (any, error)

type resolver struct {
	store   Store
	loaders *Loaders
	walker  walker
}

func responseKey(f *ast.Field) string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

func (r *resolver) root(ctx context.Context, set ast.SelectionSet) (map[string]any, error) {
	out := make(map[string]any)
	err := r.walker.fields(set, map[string]bool{}, func(f *ast.Field) error {
		var node any
		var err error

		switch f.Name {
		case "__typename":
			out[responseKey(f)] = "Query"
			return nil
		case "exception":
			node, err = r.exception(ctx, f)
		case "exceptions":
			node, err = r.exceptions(ctx, f)
		case "exceptionSummary":
			node, err = r.summary(ctx)
		default:
			return fmt.Errorf("%w: unknown field %q on Query", ErrInvalidQuery, f.Name)
		}
		if err != nil {
			return err
		}

		v, err := r.project(ctx, node, f.SelectionSet)
		if err != nil {
			return err
		}
		out[responseKey(f)] = v
		return nil
	})
	return out, err
}

// project shapes v to the selection. List items are projected concurrently
// so loader calls made by sibling items share one batch.
func (r *resolver) project(ctx context.Context, v any, set ast.SelectionSet) (any, error) {
	switch t := v.(type) {
	case lazy:
		resolved, err := t(ctx)
		if err != nil {
			return nil, err
		}
		return r.project(ctx, resolved, set)
	case map[string]any:
		if t == nil {
			return nil, nil
		}
		return r.object(ctx, t, set)
	case []map[string]any:
		out := make([]any, len(t))
		g, groupCtx := errgroup.WithContext(ctx)
		for i, item := range t {
			i, item := i, item
			g.Go(func() error {
				v, err := r.object(groupCtx, item, set)
				out[i] = v
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return out, nil
	}
	return v, nil
}

func (r *resolver) object(ctx context.Context, src map[string]any, set ast.SelectionSet) (map[string]any, error) {
	out := make(map[string]any, len(set))
	err := r.walker.fields(set, map[string]bool{}, func(f *ast.Field) error {
		v, ok := src[f.Name]
		if !ok {
			return fmt.Errorf("%w: unknown field %q", ErrInvalidQuery, f.Name)
		}
		projected, err := r.project(ctx, v, f.SelectionSet)
		if err != nil {
			return err
		}
		out[responseKey(f)] = projected
		return nil
	})
	return out, err
}

func (r *resolver) exception(ctx context.Context, f *ast.Field) (any, error) {
	var transactionID string
	if _, err := r.argument(f, "transactionId", &transactionID); err != nil {
		return nil, err
	}

	e, err := r.store.GetByTransactionID(ctx, transactionID)
	if errors.Is(err, domain.ErrNotFound) {
		return map[string]any(nil), nil
	}
	if err != nil {
		return nil, err
	}
	return r.exceptionNode(*e), nil
}

type filterInput struct {
	InterfaceTypes  []domain.InterfaceType   `json:"interfaceTypes"`
	Statuses        []domain.ExceptionStatus `json:"statuses"`
	Severities      []domain.Severity        `json:"severities"`
	CustomerIDs     []string                 `json:"customerIds"`
	SearchTerm      string                   `json:"searchTerm"`
	ExcludeResolved bool                     `json:"excludeResolved"`
	DateRange       *struct {
		From *time.Time `json:"from"`
		To   *time.Time `json:"to"`
	} `json:"dateRange"`
}

type sortInput struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
}

func (r *resolver) exceptions(ctx context.Context, f *ast.Field) (any, error) {
	var filter filterInput
	if _, err := r.argument(f, "filter", &filter); err != nil {
		return nil, err
	}
	var sortArg sortInput
	if _, err := r.argument(f, "sort", &sortArg); err != nil {
		return nil, err
	}
	sort, err := repository.ParseSort(sortArg.Field, sortArg.Direction)
	if err != nil {
		return nil, err
	}

	params := repository.ListParams{
		Filter: repository.Filter{
			InterfaceTypes:  filter.InterfaceTypes,
			Statuses:        filter.Statuses,
			Severities:      filter.Severities,
			CustomerIDs:     filter.CustomerIDs,
			SearchTerm:      filter.SearchTerm,
			ExcludeResolved: filter.ExcludeResolved,
		},
		Sort: sort,
	}
	if filter.DateRange != nil {
		params.Filter.From = filter.DateRange.From
		params.Filter.To = filter.DateRange.To
	}
	if n, ok := intArgument(f, "first", r.walker.vars); ok {
		params.PageSize = n
	}

	var after string
	if ok, err := r.argument(f, "after", &after); err != nil {
		return nil, err
	} else if ok && after != "" {
		cursor, err := repository.DecodeCursor(after)
		if err != nil {
			return nil, err
		}
		params.After = cursor
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	page, err := r.store.List(ctx, params)
	if err != nil {
		return nil, err
	}

	edges := make([]map[string]any, 0, len(page.Items))
	var endCursor *string
	for i := range page.Items {
		e := page.Items[i]
		c := repository.CursorFor(&e, sort.Field).Encode()
		edges = append(edges, map[string]any{
			"__typename": "ExceptionEdge",
			"cursor":     c,
			"node":       r.exceptionNode(e),
		})
		endCursor = &c
	}

	return map[string]any{
		"__typename": "ExceptionConnection",
		"edges":      edges,
		"pageInfo": map[string]any{
			"__typename":  "PageInfo",
			"hasNextPage": page.HasNextPage,
			"endCursor":   endCursor,
		},
		"totalCount": page.TotalCount,
	}, nil
}

func (r *resolver) summary(ctx context.Context) (any, error) {
	byStatus, err := r.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	byInterface, err := r.store.CountByInterfaceType(ctx)
	if err != nil {
		return nil, err
	}

	var total int64
	for _, n := range byStatus {
		total += n
	}
	return map[string]any{
		"__typename":      "ExceptionSummary",
		"total":           total,
		"byStatus":        countEntries(byStatus),
		"byInterfaceType": countEntries(byInterface),
	}, nil
}

func countEntries[K ~string](counts map[K]int64) []map[string]any {
	keys := make([]K, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b K) int { return cmp.Compare(a, b) })

	out := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, map[string]any{"__typename": "CountEntry", "key": string(k), "count": counts[k]})
	}
	return out
}

func (r *resolver) exceptionNode(e domain.InterfaceException) map[string]any {
	id := e.ID
	return map[string]any{
		"__typename":           "InterfaceException",
		"id":                   strconv.FormatInt(e.ID, 10),
		"transactionId":        e.TransactionID,
		"interfaceType":        e.InterfaceType,
		"operation":            e.Operation,
		"externalId":           e.ExternalID,
		"exceptionReason":      e.ExceptionReason,
		"status":               e.Status,
		"severity":             e.Severity,
		"category":             e.Category,
		"retryable":            e.Retryable,
		"retryCount":           e.RetryCount,
		"maxRetries":           e.MaxRetries,
		"customerId":           e.CustomerID,
		"locationCode":         e.LocationCode,
		"correlationId":        e.CorrelationID,
		"timestamp":            e.Timestamp,
		"processedAt":          e.ProcessedAt,
		"createdAt":            e.CreatedAt,
		"updatedAt":            e.UpdatedAt,
		"lastRetryAt":          e.LastRetryAt,
		"acknowledgedAt":       e.AcknowledgedAt,
		"acknowledgedBy":       e.AcknowledgedBy,
		"acknowledgementNotes": e.AcknowledgementNotes,
		"resolvedAt":           e.ResolvedAt,
		"resolvedBy":           e.ResolvedBy,
		"resolutionMethod":     e.ResolutionMethod,
		"resolutionNotes":      e.ResolutionNotes,
		"originalPayload": lazy(func(ctx context.Context) (any, error) {
			if len(e.OriginalPayload) > 0 {
				return e.OriginalPayload, nil
			}
			payload, found, err := r.loaders.Payloads.Load(ctx, id)
			if err != nil || !found {
				return nil, err
			}
			return payload, nil
		}),
		"retryHistory": lazy(func(ctx context.Context) (any, error) {
			attempts, _, err := r.loaders.RetryHistory.Load(ctx, id)
			if err != nil {
				return nil, err
			}
			nodes := make([]map[string]any, 0, len(attempts))
			for _, a := range attempts {
				nodes = append(nodes, r.attemptNode(a))
			}
			return nodes, nil
		}),
		"statusHistory": lazy(func(ctx context.Context) (any, error) {
			changes, _, err := r.loaders.StatusHistory.Load(ctx, id)
			if err != nil {
				return nil, err
			}
			nodes := make([]map[string]any, 0, len(changes))
			for _, c := range changes {
				nodes = append(nodes, map[string]any{
					"__typename": "StatusChange",
					"fromStatus": c.FromStatus,
					"toStatus":   c.ToStatus,
					"changedBy":  c.ChangedBy,
					"reason":     c.Reason,
					"changedAt":  c.ChangedAt,
				})
			}
			return nodes, nil
		}),
	}
}

func (r *resolver) attemptNode(a domain.RetryAttempt) map[string]any {
	exceptionID := a.ExceptionID
	return map[string]any{
		"__typename":         "RetryAttempt",
		"attemptNumber":      a.AttemptNumber,
		"status":             a.Status,
		"priority":           a.Priority,
		"reason":             a.Reason,
		"initiatedBy":        a.InitiatedBy,
		"initiatedAt":        a.InitiatedAt,
		"completedAt":        a.CompletedAt,
		"resultSuccess":      a.ResultSuccess,
		"resultMessage":      a.ResultMessage,
		"resultResponseCode": a.ResultResponseCode,
		"resultErrorDetails": a.ResultErrorDetails,
		"cancelledBy":        a.CancelledBy,
		"cancelReason":       a.CancelReason,
		"exception": lazy(func(ctx context.Context) (any, error) {
			e, found, err := r.loaders.Exceptions.Load(ctx, exceptionID)
			if err != nil || !found {
				return map[string]any(nil), err
			}
			return r.exceptionNode(e), nil
		}),
	}
}

// argument decodes an argument, resolving variables, into dst. It reports
// false when the argument is absent or null.
func (r *resolver) argument(f *ast.Field, name string, dst any) (bool, error) {
	arg := f.Arguments.ForName(name)
	if arg == nil {
		return false, nil
	}
	v, err := arg.Value.Value(r.walker.vars)
	if err != nil {
		return false, fmt.Errorf("%w: invalid %s: %v", domain.ErrValidation, name, err)
	}
	if v == nil {
		return false, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("%w: invalid %s: %v", domain.ErrValidation, name, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("%w: invalid %s: %v", domain.ErrValidation, name, err)
	}
	return true, nil
}
