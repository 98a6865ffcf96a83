// Package file provides file-based persistence for flows, steps and executions.
//
// The whole store is a single JSON document. Writes are serialized by a mutex and run
// against a copy of the current state that replaces it only after it was written to disk,
// so a failed transaction leaves nothing behind.
//
// Reads take the same mutex, and a transaction holds it for as long as its function runs,
// remote calls included. Activating a webhook flow registers the hook inside a transaction,
// so every read waits on that HTTP call, up to the client timeout of 30s. That is fine for
// a single-user development store; the postgresql store only locks the flow's row.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

const stateFile = "stepflow.json"

var _ persistence.Persistence = (*Persistence)(nil)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root  string
	mu    sync.Mutex
	state *snapshot
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	return &Persistence{root: strings.Replace(root, "file://", "", 1)}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) FlowRepository() persistence.FlowRepository {
	return &flowRepository{access: autoAccess{fp}}
}

func (fp *Persistence) StepRepository() persistence.StepRepository {
	return &stepRepository{access: autoAccess{fp}}
}

func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return &executionRepository{access: autoAccess{fp}}
}

// Atomic runs fn against a private copy of the store. The copy is written to disk and
// becomes the current state only when fn succeeds. Transactions never run concurrently.
func (fp *Persistence) Atomic(
	ctx context.Context,
	fn func(ctx context.Context, repos persistence.Repositories) error,
) error {
	return fp.commit(func(state *snapshot) error {
		return fn(ctx, &repositories{access: txAccess{state}})
	})
}

func (fp *Persistence) commit(fn func(state *snapshot) error) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	current, err := fp.load()
	if err != nil {
		return err
	}

	working, err := current.clone()
	if err != nil {
		return err
	}

	if err := fn(working); err != nil {
		return err
	}

	if err := working.checkPositions(); err != nil {
		return err
	}

	if err := fp.write(working); err != nil {
		return err
	}

	fp.state = working

	return nil
}

func (fp *Persistence) read(fn func(state *snapshot) error) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	current, err := fp.load()
	if err != nil {
		return err
	}

	return fn(current)
}

func (fp *Persistence) load() (*snapshot, error) {
	if fp.state != nil {
		return fp.state, nil
	}

	state := newSnapshot()

	data, err := os.ReadFile(filepath.Join(fp.root, stateFile))
	if err != nil {
		if os.IsNotExist(err) {
			fp.state = state

			return state, nil
		}

		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("failed to decode state file: %w", err)
	}

	state.ensureMaps()
	fp.state = state

	return state, nil
}

func (fp *Persistence) write(state *snapshot) error {
	if err := os.MkdirAll(fp.root, 0750); err != nil {
		return fmt.Errorf("failed to create root directory: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tmp, err := os.CreateTemp(fp.root, stateFile+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write state: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), filepath.Join(fp.root, stateFile)); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	return nil
}

// snapshot holds every table of the store. Flows are kept without their steps and
// executions without their execution steps; both are joined on read.
type snapshot struct {
	Flows          map[string]*models.Flow          `json:"flows"`
	Steps          map[string]*models.Step          `json:"steps"`
	Executions     map[string]*models.Execution     `json:"executions"`
	ExecutionSteps map[string]*models.ExecutionStep `json:"execution_steps"`
}

func newSnapshot() *snapshot {
	s := &snapshot{}
	s.ensureMaps()

	return s
}

func (s *snapshot) ensureMaps() {
	if s.Flows == nil {
		s.Flows = map[string]*models.Flow{}
	}

	if s.Steps == nil {
		s.Steps = map[string]*models.Step{}
	}

	if s.Executions == nil {
		s.Executions = map[string]*models.Execution{}
	}

	if s.ExecutionSteps == nil {
		s.ExecutionSteps = map[string]*models.ExecutionStep{}
	}
}

func (s *snapshot) clone() (*snapshot, error) {
	out := newSnapshot()
	if err := deepCopy(s, out); err != nil {
		return nil, fmt.Errorf("failed to copy state: %w", err)
	}

	out.ensureMaps()

	return out, nil
}

// checkPositions mirrors the unique (flow_id, position) constraint of the relational store,
// evaluated when the transaction commits.
func (s *snapshot) checkPositions() error {
	seen := map[string]map[int]string{}

	for _, step := range s.Steps {
		positions, ok := seen[step.FlowID]
		if !ok {
			positions = map[int]string{}
			seen[step.FlowID] = positions
		}

		if other, taken := positions[step.Position]; taken {
			return fmt.Errorf("%w: steps %s and %s of flow %s at position %d",
				persistence.ErrPositionConflict, other, step.ID, step.FlowID, step.Position)
		}

		positions[step.Position] = step.ID
	}

	return nil
}

func deepCopy(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, out)
}

type access interface {
	read(fn func(state *snapshot) error) error
	write(fn func(state *snapshot) error) error
}

// autoAccess runs every call as its own transaction.
type autoAccess struct {
	fp *Persistence
}

func (a autoAccess) read(fn func(state *snapshot) error) error {
	return a.fp.read(fn)
}

func (a autoAccess) write(fn func(state *snapshot) error) error {
	return a.fp.commit(fn)
}

// txAccess binds calls to the working copy of a running transaction.
type txAccess struct {
	state *snapshot
}

func (t txAccess) read(fn func(state *snapshot) error) error {
	return fn(t.state)
}

func (t txAccess) write(fn func(state *snapshot) error) error {
	return fn(t.state)
}

type repositories struct {
	access access
}

func (r *repositories) FlowRepository() persistence.FlowRepository {
	return &flowRepository{access: r.access}
}

func (r *repositories) StepRepository() persistence.StepRepository {
	return &stepRepository{access: r.access}
}

func (r *repositories) ExecutionRepository() persistence.ExecutionRepository {
	return &executionRepository{access: r.access}
}
