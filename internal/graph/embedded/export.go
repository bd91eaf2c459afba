package embedded

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/imyousuf/codegraph/internal/graph"
)

// importBatchSize bounds the number of records written per transaction on import.
const importBatchSize = 500

// exportRecord is the JSON-lines format for export/import.
type exportRecord struct {
	Kind string          `json:"kind"` // "node" or "edge"
	Data json.RawMessage `json:"data"`
}

// Export writes all nodes, then all edges, to w in JSON-lines format.
func (s *Store) Export(ctx context.Context, w io.Writer) error {
	enc := json.NewEncoder(w)
	return s.View(ctx, func(r graph.Reader) error {
		var encErr error
		emit := func(kind string, v any) bool {
			data, err := json.Marshal(v)
			if err != nil {
				encErr = fmt.Errorf("marshal %s: %w", kind, err)
				return false
			}
			if err := enc.Encode(exportRecord{Kind: kind, Data: data}); err != nil {
				encErr = fmt.Errorf("encode %s: %w", kind, err)
				return false
			}
			return true
		}
		if err := r.ScanNodes(func(n *graph.Node) bool { return emit("node", n) }); err != nil {
			return fmt.Errorf("export nodes: %w", err)
		}
		if encErr != nil {
			return encErr
		}
		if err := r.ScanEdges(func(e *graph.Edge) bool { return emit("edge", e) }); err != nil {
			return fmt.Errorf("export edges: %w", err)
		}
		return encErr
	})
}

// Import reads JSON-lines from r, clears the store, and inserts all records.
// Nodes must precede the edges that reference them, which Export guarantees.
func (s *Store) Import(ctx context.Context, r io.Reader) error {
	if err := s.DropAll(ctx); err != nil {
		return fmt.Errorf("clear store: %w", err)
	}

	scanner := bufio.NewScanner(r)
	// Increase buffer for potentially large lines.
	scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024)

	var batch []exportRecord
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := s.Update(ctx, func(tx graph.Tx) error {
			for _, rec := range batch {
				if err := importRecord(tx, rec); err != nil {
					return err
				}
			}
			return nil
		})
		batch = batch[:0]
		return err
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec exportRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("unmarshal record: %w", err)
		}
		batch = append(batch, rec)
		if len(batch) >= importBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return flush()
}

func importRecord(tx graph.Tx, rec exportRecord) error {
	switch rec.Kind {
	case "node":
		var node graph.Node
		if err := json.Unmarshal(rec.Data, &node); err != nil {
			return fmt.Errorf("unmarshal node: %w", err)
		}
		if err := tx.AddNode(&node); err != nil {
			return fmt.Errorf("import node %s: %w", node.ID, err)
		}
	case "edge":
		var edge graph.Edge
		if err := json.Unmarshal(rec.Data, &edge); err != nil {
			return fmt.Errorf("unmarshal edge: %w", err)
		}
		if err := tx.AddEdge(&edge); err != nil {
			return fmt.Errorf("import edge %s: %w", edge.ID, err)
		}
	default:
		return fmt.Errorf("unknown record kind: %q", rec.Kind)
	}
	return nil
}
