package tailor

import (
	"time"

	"go.uber.org/zap"

	"github.com/dshills/tailorgraph/graph"
	"github.com/dshills/tailorgraph/internal/oracle"
)

// steps holds the collaborators shared by every workflow step.
type steps struct {
	oracle       oracle.Oracle
	logger       *zap.Logger
	atsThreshold float64
	// itemTimeout bounds the oracle calls for a single requirement during
	// resume analysis. Zero means unbounded.
	itemTimeout time.Duration
}

func next(s State) graph.NodeResult[State] {
	return graph.NodeResult[State]{Delta: s}
}

func failed(s State, err error) graph.NodeResult[State] {
	return graph.NodeResult[State]{Delta: s, Err: err}
}
