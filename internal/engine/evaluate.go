package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ariel-frischer/wxflow/internal/logging"
)

// Node is the evaluated form of a declaration.
type Node struct {
	Name  string
	Kind  Kind
	State State
	// Err is an *ActionError when State is StateFailed.
	Err error
	// Requirements holds the evaluated requirements in declaration order.
	// It is empty when the node short-circuited on ready assets.
	Requirements []*Node

	id     string
	assets []Asset
}

// ID returns the memoization identity of the declaration.
func (n *Node) ID() string {
	return n.id
}

// Ready reports whether the node finished in StateReady.
func (n *Node) Ready() bool {
	return n.State == StateReady
}

// Assets returns the assets of the node. Aggregators return the assets of
// their requirements, flattened in declaration order.
func (n *Node) Assets() []Asset {
	if n.Kind != KindTasks {
		out := make([]Asset, len(n.assets))
		copy(out, n.assets)
		return out
	}
	var out []Asset
	for _, req := range n.Requirements {
		out = append(out, req.Assets()...)
	}
	return out
}

// Result is the outcome of one evaluation.
type Result struct {
	Root  *Node
	RunID string
	nodes []*Node
}

// Nodes returns every evaluated node in trace order.
func (r *Result) Nodes() []*Node {
	out := make([]*Node, len(r.nodes))
	copy(out, r.nodes)
	return out
}

// Evaluator evaluates task graphs. The zero value is not usable; create
// one with New.
type Evaluator struct {
	logger      *slog.Logger
	maxParallel int
	graphFile   string
	metrics     instruments
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets the logger. Without it the logger carried by the context
// passed to Evaluate is used.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

// WithMaxParallel lets independent requirements of a node be evaluated
// concurrently, with at most n actions running at once. Values below 2
// keep evaluation sequential.
func WithMaxParallel(n int) Option {
	return func(e *Evaluator) {
		e.maxParallel = n
	}
}

// WithGraphFile writes the DOT trace to path after each evaluation.
func WithGraphFile(path string) Option {
	return func(e *Evaluator) {
		e.graphFile = path
	}
}

// New creates an Evaluator.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{maxParallel: 1}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate resolves the declaration graph rooted at root and then evaluates
// it. Graph errors (*CycleError, *MissingRequirementError,
// *DefinitionError) are returned before any action runs. Task failures do
// not produce an error: they are recorded on the failed nodes.
func (e *Evaluator) Evaluate(ctx context.Context, root Ref) (*Result, error) {
	logger := e.logger
	if logger == nil {
		logger = logging.FromContext(ctx)
	}
	runID := uuid.NewString()[:12]
	logger = logger.With(slog.String("run_id", runID))
	e.metrics.init(logger)

	ctx, span := tracer.Start(ctx, "engine.Evaluate",
		trace.WithAttributes(attribute.String("engine.run_id", runID)),
	)
	defer span.End()

	rootPlan, order, err := resolveGraph(root)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("task graph rejected", slog.String("error", err.Error()))
		return nil, err
	}

	start := time.Now()
	logger.Debug("evaluation started",
		slog.String("task", rootPlan.def.Name),
		slog.Int("declared", len(order)),
	)

	r := &run{
		logger:  logger,
		metrics: &e.metrics,
		slots:   make(map[*plan]*slot, len(order)),
	}
	if e.maxParallel > 1 {
		r.parallel = true
		r.sem = semaphore.NewWeighted(int64(e.maxParallel))
	}

	node := r.visit(ctx, rootPlan, nil)
	res := &Result{Root: node, RunID: runID, nodes: r.traceOrder(order)}

	span.SetAttributes(
		attribute.String("task.name", node.Name),
		attribute.String("task.state", node.State.String()),
		attribute.Int("engine.nodes", len(res.nodes)),
	)
	if node.Ready() {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, "root task "+node.State.String())
	}

	logger.Info("evaluation finished",
		slog.String("task", node.Name),
		slog.String("state", node.State.String()),
		slog.Int("nodes", len(res.nodes)),
		slog.Duration("duration", time.Since(start)),
	)

	if e.graphFile != "" {
		if err := os.WriteFile(e.graphFile, []byte(res.Graph()), 0o644); err != nil {
			return res, fmt.Errorf("writing graph file: %w", err)
		}
	}
	return res, nil
}

type slot struct {
	once sync.Once
	node *Node
}

// run is the memo table and settings of one evaluation.
type run struct {
	logger   *slog.Logger
	metrics  *instruments
	parallel bool
	sem      *semaphore.Weighted

	mu    sync.Mutex
	slots map[*plan]*slot
}

// visit evaluates p at most once and returns its node.
func (r *run) visit(ctx context.Context, p *plan, chain []string) *Node {
	r.mu.Lock()
	s, ok := r.slots[p]
	if !ok {
		s = &slot{node: &Node{
			Name:   p.def.Name,
			Kind:   p.def.Kind,
			State:  StatePending,
			id:     p.id,
			assets: p.def.Assets,
		}}
		r.slots[p] = s
	}
	r.mu.Unlock()

	s.once.Do(func() {
		next := make([]string, len(chain)+1)
		copy(next, chain)
		next[len(chain)] = p.def.Name
		r.evaluate(ctx, p, s.node, next)
	})
	return s.node
}

func (r *run) visitAll(ctx context.Context, reqs []*plan, chain []string) []*Node {
	nodes := make([]*Node, len(reqs))
	if !r.parallel || len(reqs) < 2 {
		for i, p := range reqs {
			nodes[i] = r.visit(ctx, p, chain)
		}
		return nodes
	}

	var g errgroup.Group
	for i, p := range reqs {
		g.Go(func() error {
			nodes[i] = r.visit(ctx, p, chain)
			return nil
		})
	}
	_ = g.Wait()
	return nodes
}

func (r *run) evaluate(ctx context.Context, p *plan, n *Node, chain []string) {
	logger := r.logger.With(slog.String("task", n.Name))
	defer func() {
		r.metrics.recordOutcome(ctx, n)
		logger.Debug("task finished", slog.String("state", n.State.String()))
	}()

	switch p.def.Kind {
	case KindExternal:
		if r.assetsReady(n) {
			n.State = StateReady
			return
		}
		n.State = StateNotReady
		r.warnUnready(logger, n)

	case KindTasks:
		n.Requirements = r.visitAll(ctx, p.requires, chain)
		n.State = StateReady
		if blocked := notReady(n.Requirements); len(blocked) > 0 {
			n.State = StateNotReady
			logger.Debug("requirements not ready", slog.Any("requirements", blocked))
		}

	default:
		if r.assetsReady(n) {
			n.State = StateReady
			logger.Debug("assets already ready")
			return
		}

		n.Requirements = r.visitAll(ctx, p.requires, chain)
		if blocked := notReady(n.Requirements); len(blocked) > 0 {
			n.State = StateNotReady
			logger.Info("task not ready: requirements not ready", slog.Any("requirements", blocked))
			return
		}

		if err := ctx.Err(); err != nil {
			r.fail(logger, n, chain, err)
			return
		}

		n.State = StateRunning
		logger.Info("running task")
		if err := r.runAction(ctx, p, n); err != nil {
			r.fail(logger, n, chain, err)
			return
		}

		if r.assetsReady(n) {
			n.State = StateReady
			return
		}
		n.State = StateNotReady
		r.warnUnready(logger, n)
	}
}

// runAction runs the task action inside a span, converting panics into errors.
func (r *run) runAction(ctx context.Context, p *plan, n *Node) (err error) {
	ctx, span := tracer.Start(ctx, "engine.action",
		trace.WithAttributes(
			attribute.String("task.name", n.Name),
			attribute.String("task.id", n.id),
		),
	)
	defer span.End()

	if r.sem != nil {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		defer r.sem.Release(1)
	}

	r.metrics.trackActive(ctx, 1)
	defer r.metrics.trackActive(ctx, -1)

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
		r.metrics.recordAction(ctx, n.Name, time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return
		}
		span.SetStatus(codes.Ok, "")
	}()

	return p.def.Action(ctx)
}

func (r *run) fail(logger *slog.Logger, n *Node, chain []string, err error) {
	n.State = StateFailed
	n.Err = &ActionError{Task: n.Name, Chain: chain, Err: err}
	logger.Error("task failed",
		slog.Any("chain", chain),
		slog.String("error", err.Error()),
	)
}

// assetsReady reports whether every asset of n is ready. A panicking
// predicate counts as not ready.
func (r *run) assetsReady(n *Node) bool {
	for _, a := range n.assets {
		if !safeReady(a) {
			return false
		}
	}
	return true
}

func (r *run) warnUnready(logger *slog.Logger, n *Node) {
	for _, a := range n.assets {
		if !safeReady(a) {
			logger.Warn("asset not ready", slog.String("asset", a.String()))
		}
	}
}

func safeReady(a Asset) (ready bool) {
	defer func() {
		if recover() != nil {
			ready = false
		}
	}()
	return a.Ready()
}

func notReady(nodes []*Node) []string {
	var names []string
	for _, n := range nodes {
		if !n.Ready() {
			names = append(names, n.Name)
		}
	}
	return names
}

// traceOrder returns the evaluated nodes in declaration order.
func (r *run) traceOrder(order []*plan) []*Node {
	r.mu.Lock()
	defer r.mu.Unlock()

	nodes := make([]*Node, 0, len(r.slots))
	for _, p := range order {
		if s, ok := r.slots[p]; ok {
			nodes = append(nodes, s.node)
		}
	}
	return nodes
}
