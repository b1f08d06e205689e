package record

import (
	"context"
	"crypto/subtle"
	"strings"
)

// FilterMine returns the non-header rows in which some cell equals
// submitter, ignoring case. A blank submitter matches nothing.
func FilterMine(snap Snapshot, submitter string) []Row {
	name := strings.TrimSpace(submitter)
	out := []Row{}
	if name == "" {
		return out
	}
	for _, row := range snap.Records() {
		for _, cell := range row {
			if strings.EqualFold(cell, name) {
				out = append(out, row)
				break
			}
		}
	}
	return out
}

// All returns every non-header row. Callers gate access.
func All(snap Snapshot) []Row {
	return snap.Records()
}

// =============================================================================
// ACCESS GATE
// =============================================================================

// AccessGate guards the all-records view with one shared static secret.
//
// SECURITY NOTE:
//
//	A single shared secret with no per-user identity, session or attempt
//	limiting. Not suitable for production; replace the gate with per-user
//	credentials in a real deployment.
type AccessGate struct {
	Secret string
}

// Check returns ErrAccessDenied unless secret equals the configured one.
// An unset gate denies everything.
func (g AccessGate) Check(secret string) error {
	if g.Secret == "" {
		return ErrAccessDenied
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(g.Secret)) != 1 {
		return ErrAccessDenied
	}
	return nil
}

// =============================================================================
// CATALOG - Read path across every record type
// =============================================================================

// View is the display payload for one record type.
type View struct {
	Type   Type
	Header Row
	Rows   []Row
}

// Catalog answers the two review queries over all record types.
type Catalog struct {
	Cache *SnapshotCache
	Gate  AccessGate
}

// Mine returns, per record type, the rows matching submitter.
func (c *Catalog) Mine(ctx context.Context, submitter string) ([]View, error) {
	return c.collect(ctx, func(s Snapshot) []Row { return FilterMine(s, submitter) })
}

// Everything returns every row of every type once the secret checks out.
// No store is read when the secret is wrong.
func (c *Catalog) Everything(ctx context.Context, secret string) ([]View, error) {
	if err := c.Gate.Check(secret); err != nil {
		return nil, err
	}
	return c.collect(ctx, All)
}

func (c *Catalog) collect(ctx context.Context, pick func(Snapshot) []Row) ([]View, error) {
	types := Types()
	views := make([]View, 0, len(types))
	for _, t := range types {
		snap, err := c.Cache.Fetch(ctx, t.StoreKey)
		if err != nil {
			return nil, err
		}
		header := snap.Header()
		if header == nil {
			header = t.Header()
		}
		views = append(views, View{Type: t, Header: header, Rows: pick(snap)})
	}
	return views, nil
}
