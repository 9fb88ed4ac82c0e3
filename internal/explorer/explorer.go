// Package explorer performs bounded upward traversal via authority_hints to
// enumerate trust chains to configured anchors, and bounded downward
// traversal via list/fetch for subtree discovery (§4.4, §9).
package explorer

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/exp/slices"
	tslices "tideland.dev/go/slices"

	"github.com/inahga/trustfed/internal/entityid"
	"github.com/inahga/trustfed/internal/ferrors"
	"github.com/inahga/trustfed/internal/statement"
)

// DefaultMaxDepth is the default bound on superior-hops during upward
// traversal (§4.4).
const DefaultMaxDepth = 10

// Fetcher is the subset of fetcher.Fetcher the explorer needs. Declared
// here (not imported from the fetcher package) to keep the explorer
// testable against a fake.
type Fetcher interface {
	FetchConfiguration(ctx context.Context, id entityid.ID) (*statement.Statement, error)
	FetchSubordinate(ctx context.Context, issuer, subject entityid.ID) (*statement.Statement, error)
	ListSubordinates(ctx context.Context, id entityid.ID, entityType string) ([]entityid.ID, error)
}

// Chain is an ordered, leaf-to-anchor sequence of statements, interleaving
// self-signed and subordinate statements in the canonical form described in
// §3: [leaf_self, sub_about_leaf, superior_self, ..., anchor_self].
type Chain []*statement.Statement

// AnchorID returns the entity ID of the chain's trust anchor (the top
// self-signed statement).
func (c Chain) AnchorID() entityid.ID {
	if len(c) == 0 {
		return ""
	}
	return c[len(c)-1].Subject
}

// SuperiorPath concatenates the chain's superior entity IDs, used as the
// lexicographic tie-break key in deterministic ordering (§4.4, §4.7).
func (c Chain) SuperiorPath() string {
	var ids []string
	for i := 1; i < len(c); i += 2 {
		ids = append(ids, string(c[i].Issuer))
	}
	return strings.Join(ids, "\x00")
}

// Explorer wraps a Fetcher with the traversal algorithms of §4.4.
type Explorer struct {
	fetcher    Fetcher
	maxDepth   int
	maxWorkers int
}

// Option configures an Explorer.
type Option func(*Explorer)

// WithMaxDepth overrides DefaultMaxDepth.
func WithMaxDepth(d int) Option { return func(e *Explorer) { e.maxDepth = d } }

// WithMaxWorkers bounds the worker pool used to parallelise sibling
// superior-branch expansion (§5, §9).
func WithMaxWorkers(n int) Option { return func(e *Explorer) { e.maxWorkers = n } }

// New constructs an Explorer.
func New(f Fetcher, opts ...Option) *Explorer {
	e := &Explorer{fetcher: f, maxDepth: DefaultMaxDepth, maxWorkers: 8}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ChainError pairs a rejected branch with the reason it was rejected, so a
// failing branch can be reported without poisoning siblings (§4.5, §7).
type ChainError struct {
	Path []entityid.ID
	Err  error
}

// TrustChains enumerates every chain from leaf to any entity in anchors
// (or, if anchors is empty, to any reachable self-signed root), up to
// e.maxDepth superior-hops. Chains are returned sorted by (length
// ascending, then anchor ID lexicographically, then superior path
// lexicographically) for deterministic output (§4.4).
func (e *Explorer) TrustChains(ctx context.Context, leaf entityid.ID, anchors []entityid.ID) ([]Chain, []ChainError, error) {
	leafStmt, err := e.fetcher.FetchConfiguration(ctx, leaf)
	if err != nil {
		return nil, nil, err
	}
	if !leafStmt.IsSelfSigned() {
		return nil, nil, ferrors.New(ferrors.KindIssuerSubjectMismatch, string(leaf), "leaf configuration is not self-signed")
	}

	anchorSet := make(map[entityid.ID]bool, len(anchors))
	for _, a := range anchors {
		anchorSet[a] = true
	}

	type result struct {
		chain Chain
		err   *ChainError
	}

	resultsCh := make(chan result)
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	// walk expands one frontier node. tail always ends with nodeStmt's own
	// self-signed statement by the time walk is called (true for the leaf's
	// initial call and every recursive call below), so the anchor-reached
	// check at the top applies uniformly to the leaf and to superiors.
	//
	// Contract: every invocation of walk, whether the initial call or a
	// recursive one, must be preceded by exactly one wg.Add(1); walk's own
	// deferred wg.Done() discharges it.
	var walk func(path []entityid.ID, tail []*statement.Statement, node entityid.ID, nodeStmt *statement.Statement)
	walk = func(path []entityid.ID, tail []*statement.Statement, node entityid.ID, nodeStmt *statement.Statement) {
		defer wg.Done()

		if anchorSet[node] {
			resultsCh <- result{chain: append(Chain{}, tail...)}
			return
		}
		if len(anchorSet) == 0 && len(nodeStmt.AuthorityHints) == 0 {
			// Unconstrained anchors: any self-signed root terminates a chain.
			resultsCh <- result{chain: append(Chain{}, tail...)}
			return
		}
		if len(nodeStmt.AuthorityHints) == 0 {
			resultsCh <- result{err: &ChainError{Path: append(append([]entityid.ID{}, path...), node), Err: ferrors.New(ferrors.KindAnchorNotReached, string(node), "no authority_hints and node is not a configured anchor")}}
			return
		}
		if len(path) >= e.maxDepth {
			resultsCh <- result{err: &ChainError{Path: path, Err: ferrors.New(ferrors.KindPathTooLong, string(node), "max depth %d exceeded", e.maxDepth)}}
			return
		}

		for _, parent := range nodeStmt.AuthorityHints {
			parent := parent
			if parent == node || tslices.Contains(path, parent) {
				// Per-path cycle guard: parent already appears on this path
				// (including as node itself). Skip it but keep exploring
				// other parents/paths.
				resultsCh <- result{err: &ChainError{Path: append(append([]entityid.ID{}, path...), parent), Err: ferrors.New(ferrors.KindCycleDetected, string(parent), "cycle in authority_hints")}}
				continue
			}

			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer func() { <-sem }()

				parentSelf, err := e.fetcher.FetchConfiguration(ctx, parent)
				if err != nil {
					wg.Done()
					resultsCh <- result{err: &ChainError{Path: append(append([]entityid.ID{}, path...), parent), Err: err}}
					return
				}
				subStmt, err := e.fetcher.FetchSubordinate(ctx, parent, node)
				if err != nil {
					wg.Done()
					resultsCh <- result{err: &ChainError{Path: append(append([]entityid.ID{}, path...), parent), Err: err}}
					return
				}

				newTail := append(append([]*statement.Statement{}, tail...), subStmt, parentSelf)
				newPath := append(append([]entityid.ID{}, path...), node)
				walk(newPath, newTail, parent, parentSelf)
			}()
		}
	}

	wg.Add(1)
	go walk(nil, Chain{leafStmt}, leaf, leafStmt)

	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	var chains []Chain
	var errs []ChainError
	for r := range resultsCh {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		default:
		}
		if r.err != nil {
			errs = append(errs, *r.err)
			continue
		}
		chains = append(chains, r.chain)
	}

	slices.SortFunc(chains, func(a, b Chain) bool {
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		if a.AnchorID() != b.AnchorID() {
			return a.AnchorID() < b.AnchorID()
		}
		return a.SuperiorPath() < b.SuperiorPath()
	})

	return chains, errs, nil
}

// SubtreeNode is a node discovered during downward traversal (§4.4).
type SubtreeNode struct {
	ID          entityid.ID
	EntityTypes []statement.EntityType
	Statement   *statement.Statement
	Superior    entityid.ID // empty for the root
}

// Subtree performs a BFS from root over list+fetch, recording each child's
// entity types and keeping the first-arrival statement for any node
// reachable via multiple superiors (§4.4 Downward enumeration). It lists
// every subordinate at every level regardless of entity type; callers that
// only want entities of a given type must filter the returned nodes
// themselves, since an intermediate authority not itself of that type can
// still have descendants that are.
func (e *Explorer) Subtree(ctx context.Context, root entityid.ID) ([]SubtreeNode, error) {
	rootStmt, err := e.fetcher.FetchConfiguration(ctx, root)
	if err != nil {
		return nil, err
	}

	visited := map[entityid.ID]bool{root: true}
	var mu sync.Mutex
	nodes := []SubtreeNode{{ID: root, EntityTypes: rootStmt.EntityTypes(), Statement: rootStmt}}

	queue := []entityid.ID{root}
	for len(queue) > 0 {
		var next []entityid.ID
		var wg sync.WaitGroup
		sem := make(chan struct{}, e.maxWorkers)

		for _, parent := range queue {
			parent := parent
			children, err := e.fetcher.ListSubordinates(ctx, parent, "")
			if err != nil {
				continue // subtree rooted at a failing fetch is abandoned, not the whole call (§5)
			}
			for _, child := range children {
				child := child
				mu.Lock()
				already := visited[child]
				if !already {
					visited[child] = true
				}
				mu.Unlock()
				if already {
					continue
				}

				wg.Add(1)
				sem <- struct{}{}
				go func() {
					defer wg.Done()
					defer func() { <-sem }()

					childStmt, err := e.fetcher.FetchSubordinate(ctx, parent, child)
					if err != nil {
						return
					}
					childSelf, err := e.fetcher.FetchConfiguration(ctx, child)
					if err != nil {
						return
					}
					_ = childStmt // linkage already verified by the fetcher

					mu.Lock()
					nodes = append(nodes, SubtreeNode{ID: child, EntityTypes: childSelf.EntityTypes(), Statement: childSelf, Superior: parent})
					mu.Unlock()

					mu.Lock()
					next = append(next, child)
					mu.Unlock()
				}()
			}
		}
		wg.Wait()
		queue = next
	}

	return nodes, nil
}
