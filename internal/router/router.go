package router

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"biochat/internal/domain"
)

// Aggregation combines the similarity scores of one route's utterances.
type Aggregation string

const (
	AggregateMean Aggregation = "mean"
	AggregateSum  Aggregation = "sum"
	AggregateMax  Aggregation = "max"
)

const (
	DefaultThreshold = 0.3
	DefaultTopK      = 5
)

// Router classifies messages by semantic similarity to the utterances of a
// fixed set of routes.
type Router struct {
	encoder     domain.Embedder
	col         *chromem.Collection
	routes      []string
	threshold   float64
	topK        int
	aggregation Aggregation
	log         *zap.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithThreshold sets the minimum similarity a route's best utterance must exceed.
func WithThreshold(t float64) Option { return func(r *Router) { r.threshold = t } }

// WithTopK sets how many nearest utterances are considered per message.
func WithTopK(k int) Option {
	return func(r *Router) {
		if k > 0 {
			r.topK = k
		}
	}
}

// WithAggregation sets how per-route scores are combined when ranking routes.
func WithAggregation(a Aggregation) Option { return func(r *Router) { r.aggregation = a } }

func WithLogger(log *zap.Logger) Option {
	return func(r *Router) {
		if log != nil {
			r.log = log
		}
	}
}

// New embeds every utterance once and indexes it in memory.
func New(ctx context.Context, routes []domain.Route, encoder domain.Embedder, opts ...Option) (*Router, error) {
	if encoder == nil {
		return nil, fmt.Errorf("%w: encoder is required", domain.ErrRouterUnavailable)
	}
	if len(routes) == 0 {
		return nil, fmt.Errorf("%w: no routes", domain.ErrRouterUnavailable)
	}
	r := &Router{
		encoder:     encoder,
		threshold:   DefaultThreshold,
		topK:        DefaultTopK,
		aggregation: AggregateMean,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	switch r.aggregation {
	case AggregateMean, AggregateSum, AggregateMax:
	default:
		return nil, fmt.Errorf("%w: unknown aggregation %q", domain.ErrRouterUnavailable, r.aggregation)
	}

	var texts []string
	var owners []string
	for _, route := range routes {
		r.routes = append(r.routes, route.Name)
		for _, u := range route.Utterances {
			texts = append(texts, u)
			owners = append(owners, route.Name)
		}
	}
	vectors, err := encoder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: embed utterances: %v", domain.ErrRouterUnavailable, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: encoder returned %d vectors for %d utterances", domain.ErrRouterUnavailable, len(vectors), len(texts))
	}

	col, err := chromem.NewDB().CreateCollection("routes", nil, func(context.Context, string) ([]float32, error) {
		return nil, errors.New("router embeds utterances up front")
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRouterUnavailable, err)
	}
	docs := make([]chromem.Document, len(texts))
	for i := range texts {
		docs[i] = chromem.Document{
			ID:        owners[i] + "/" + strconv.Itoa(i),
			Content:   texts[i],
			Embedding: vectors[i],
			Metadata:  map[string]string{"route": owners[i]},
		}
	}
	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("%w: index utterances: %v", domain.ErrRouterUnavailable, err)
	}
	r.col = col
	r.log.Info("intent router ready",
		zap.Int("routes", len(r.routes)), zap.Int("utterances", len(texts)),
		zap.Float64("threshold", r.threshold), zap.String("aggregation", string(r.aggregation)))
	return r, nil
}

// Routes returns the route names in table order.
func (r *Router) Routes() []string { return append([]string(nil), r.routes...) }

// Classify returns the route whose utterances best match text. The returned
// Classification is unmatched when no route clears the threshold.
func (r *Router) Classify(ctx context.Context, text string) (domain.Classification, error) {
	vec, err := r.encoder.Embed(ctx, text)
	if err != nil {
		return domain.Classification{}, fmt.Errorf("embed message: %w", err)
	}
	if isZero(vec) {
		return domain.Classification{}, nil
	}
	k := min(r.topK, r.col.Count())
	res, err := r.col.QueryEmbedding(ctx, vec, k, nil, nil)
	if err != nil {
		return domain.Classification{}, fmt.Errorf("query utterances: %w", err)
	}

	// Results arrive best first, so order records first appearance for tie breaks.
	scores := map[string][]float64{}
	var order []string
	for _, m := range res {
		name := m.Metadata["route"]
		if _, ok := scores[name]; !ok {
			order = append(order, name)
		}
		scores[name] = append(scores[name], float64(m.Similarity))
	}

	var best string
	bestScore := 0.0
	for _, name := range order {
		s := aggregate(r.aggregation, scores[name])
		if best == "" || s > bestScore {
			best, bestScore = name, s
		}
	}
	if best == "" || maxOf(scores[best]) <= r.threshold {
		r.log.Debug("no route matched", zap.String("candidate", best), zap.Float64("score", bestScore))
		return domain.Classification{}, nil
	}
	r.log.Debug("route matched", zap.String("route", best), zap.Float64("score", bestScore))
	return domain.Classification{Route: best, Score: bestScore}, nil
}

func aggregate(a Aggregation, scores []float64) float64 {
	switch a {
	case AggregateSum:
		return sum(scores)
	case AggregateMax:
		return maxOf(scores)
	default:
		return sum(scores) / float64(len(scores))
	}
}

func sum(xs []float64) float64 {
	total := 0.0
	for _, x := range xs {
		total += x
	}
	return total
}

func maxOf(xs []float64) float64 {
	m := 0.0
	for i, x := range xs {
		if i == 0 || x > m {
			m = x
		}
	}
	return m
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
