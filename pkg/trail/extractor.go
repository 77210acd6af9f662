package trail

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/open-policy-agent/opa/v1/rego"
)

// Extractor evaluates rules against documents. Compiled rules are cached, so
// one Extractor should be shared by every reconciliation in a run.
type Extractor struct {
	mu      sync.Mutex
	queries map[string]rego.PreparedEvalQuery
}

// NewExtractor creates an extractor with an empty rule cache.
func NewExtractor() *Extractor {
	return &Extractor{queries: make(map[string]rego.PreparedEvalQuery)}
}

type match struct {
	index int64
	event CreationEvent
}

// Extract returns the creation events found in doc, in record order.
// Records missing the identifier or the owner are dropped. The document is
// read and evaluated before Extract returns; the sequence only replays the
// result and can be ranged over more than once.
func (e *Extractor) Extract(ctx context.Context, doc Document, rule Rule) (iter.Seq[CreationEvent], error) {
	query, err := e.prepare(ctx, rule)
	if err != nil {
		return nil, err
	}

	input, err := decode(doc)
	if err != nil {
		return nil, err
	}

	rs, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("evaluate %s rule on %s: %w", rule.EventName, doc.Name(), err)
	}

	matches := make([]match, 0, len(rs))
	for _, r := range rs {
		id, _ := r.Bindings["id"].(string)
		owner, _ := r.Bindings["owner"].(string)
		idx, ok := bindingIndex(r.Bindings["i"])
		if !ok || id == "" || owner == "" {
			continue
		}
		if rule.Qualify != nil {
			id = rule.Qualify(id)
		}
		matches = append(matches, match{index: idx, event: CreationEvent{ResourceID: id, Owner: owner}})
	}
	slices.SortStableFunc(matches, func(a, b match) int {
		switch {
		case a.index < b.index:
			return -1
		case a.index > b.index:
			return 1
		}
		return 0
	})

	return func(yield func(CreationEvent) bool) {
		for _, m := range matches {
			if !yield(m.event) {
				return
			}
		}
	}, nil
}

func (e *Extractor) prepare(ctx context.Context, rule Rule) (rego.PreparedEvalQuery, error) {
	text, err := Query(rule)
	if err != nil {
		return rego.PreparedEvalQuery{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if q, ok := e.queries[text]; ok {
		return q, nil
	}
	q, err := rego.New(rego.Query(text)).PrepareForEval(ctx)
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("compile %s rule: %w", rule.EventName, err)
	}
	e.queries[text] = q
	return q, nil
}

// Query renders rule as a Rego query over input.Records. The query binds
// i (record index), id and owner.
func Query(rule Rule) (string, error) {
	if rule.EventName == "" {
		return "", errors.New("rule: event name required")
	}
	const record = "input.Records[i]"

	guard, err := ref(record, rule.guard())
	if err != nil {
		return "", fmt.Errorf("rule %s guard: %w", rule.EventName, err)
	}
	id, err := ref(record, rule.IDPath)
	if err != nil {
		return "", fmt.Errorf("rule %s id path: %w", rule.EventName, err)
	}
	owner, err := ref(record, rule.ownerPath())
	if err != nil {
		return "", fmt.Errorf("rule %s owner path: %w", rule.EventName, err)
	}

	exprs := []string{
		"some i",
		fmt.Sprintf("%s.eventName == %s", record, strconv.Quote(rule.EventName)),
	}
	if rule.EventSource != "" {
		exprs = append(exprs, fmt.Sprintf("%s.eventSource == %s", record, strconv.Quote(rule.EventSource)))
	}
	exprs = append(exprs,
		guard+" != null",
		"id := "+id,
		"is_string(id)",
		`id != ""`,
		"owner := "+owner,
		"is_string(owner)",
		`owner != ""`,
	)
	return strings.Join(exprs, "; "), nil
}

func ref(base, path string) (string, error) {
	if path == "" {
		return "", errors.New("empty path")
	}
	var b strings.Builder
	b.WriteString(base)
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return "", fmt.Errorf("empty segment in %q", path)
		}
		if n, err := strconv.Atoi(seg); err == nil && n >= 0 {
			fmt.Fprintf(&b, "[%d]", n)
			continue
		}
		fmt.Fprintf(&b, "[%s]", strconv.Quote(seg))
	}
	return b.String(), nil
}

func decode(doc Document) (map[string]any, error) {
	rc, err := doc.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", doc.Name(), err)
	}
	defer rc.Close()

	var v any
	if err := json.NewDecoder(rc).Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedDocument, doc.Name(), err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s: top level is %T, not an object", ErrMalformedDocument, doc.Name(), v)
	}
	return m, nil
}

func bindingIndex(v any) (int64, bool) {
	switch n := v.(type) {
	case interface{ Int64() (int64, error) }:
		i, err := n.Int64()
		return i, err == nil
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}
