// Package adoption implements the adoption transaction workflow.
//
// Adopting an entity is a multi-step transaction: pick a target, edit a
// pledge, submit once, and either hold a certificate or be back where you
// started. The workflow is an explicit state machine so every step is guarded
// and a failed submission leaves no residue.
package adoption

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"

	"github.com/aquaguardian/guardian/internal/catalog"
	"github.com/aquaguardian/guardian/internal/gateway"
	apperrors "github.com/aquaguardian/guardian/internal/platform/errors"
	"github.com/aquaguardian/guardian/internal/platform/id"
	"github.com/aquaguardian/guardian/internal/session/domain"
)

// DefaultPledgeText pre-seeds the pledge editor.
const DefaultPledgeText = "I pledge to protect the purity of this water and report any pollution I see. This is my permanent commitment as a Guardian."

// Phase is a workflow state.
type Phase int

const (
	// PhaseIdle means no adoption is in progress.
	PhaseIdle Phase = iota
	// PhaseSelecting means a target entity is chosen.
	PhaseSelecting
	// PhasePledging means the pledge editor is open.
	PhasePledging
	// PhaseSubmitting means the backend call is in flight.
	PhaseSubmitting
	// PhaseCertified means the adoption completed and a certificate is held.
	PhaseCertified
)

// CertificateRecord is the display-only proof of a completed adoption.
type CertificateRecord struct {
	BlockchainTx   string `json:"blockchain_tx"`
	TokenID        string `json:"nft_token_id"`
	CertificateURL string `json:"certificate_url"`
	PledgeText     string `json:"pledge_text"`

	// GuardianName is the adopter's display name, captured at submission.
	GuardianName string `json:"-"`
}

// API is the authenticated request surface the workflow submits through.
type API interface {
	PostForm(ctx context.Context, path string, form url.Values, out any) error
}

// IdentitySource reports the current identity, or nil when logged out.
type IdentitySource interface {
	Current() *domain.Identity
}

// Workflow drives one adoption transaction at a time.
type Workflow struct {
	api         API
	sessions    IdentitySource
	refresh     func(context.Context)
	idGenerator func() (string, error)

	mu          sync.Mutex
	phase       Phase
	attemptID   string
	target      *catalog.Entity
	pledge      string
	certificate *CertificateRecord
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithIDGenerator overrides the attempt id source.
func WithIDGenerator(generator func() (string, error)) Option {
	return func(w *Workflow) {
		if generator != nil {
			w.idGenerator = generator
		}
	}
}

// WithRefreshHook registers a callback invoked after a successful adoption so
// the caller can re-aggregate the catalog. The catalog is eventually
// consistent with the certificate; the hook is the convergence trigger.
func WithRefreshHook(refresh func(context.Context)) Option {
	return func(w *Workflow) { w.refresh = refresh }
}

// New creates an idle workflow.
func New(api API, sessions IdentitySource, opts ...Option) *Workflow {
	w := &Workflow{
		api:         api,
		sessions:    sessions,
		idGenerator: id.NewID,
		phase:       PhaseIdle,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Phase returns the current workflow state.
func (w *Workflow) Phase() Phase {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.phase
}

// Submitting reports whether a submission is in flight.
func (w *Workflow) Submitting() bool {
	return w.Phase() == PhaseSubmitting
}

// AttemptID returns the id of the transaction in progress, or the empty
// string when idle.
func (w *Workflow) AttemptID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.attemptID
}

// Target returns the selected entity, or nil outside a transaction.
func (w *Workflow) Target() *catalog.Entity {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.target == nil {
		return nil
	}
	snapshot := *w.target
	return &snapshot
}

// PledgeText returns the pledge under edit.
func (w *Workflow) PledgeText() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pledge
}

// Certificate returns the held certificate, or nil before completion.
func (w *Workflow) Certificate() *CertificateRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.certificate == nil {
		return nil
	}
	snapshot := *w.certificate
	return &snapshot
}

// SelectForAdoption starts a transaction targeting the given entity.
//
// Adoption requires an authenticated identity up front so the user never
// edits a pledge they cannot submit.
func (w *Workflow) SelectForAdoption(entity catalog.Entity) error {
	if w.sessions == nil || w.sessions.Current() == nil {
		return apperrors.New(apperrors.CodeAuthRequired, "sign in to adopt a water body")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.phase != PhaseIdle {
		return apperrors.New(apperrors.CodeAdoptionInvalidTransition, "an adoption is already in progress")
	}

	attemptID, err := w.idGenerator()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeUnknown, "generate attempt id", err)
	}

	selected := entity
	w.phase = PhaseSelecting
	w.attemptID = attemptID
	w.target = &selected
	w.pledge = ""
	w.certificate = nil
	return nil
}

// OpenPledgeEditor moves to the pledging phase and seeds the default pledge.
func (w *Workflow) OpenPledgeEditor() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.phase != PhaseSelecting {
		return apperrors.New(apperrors.CodeAdoptionInvalidTransition, "no entity selected for adoption")
	}
	w.phase = PhasePledging
	w.pledge = DefaultPledgeText
	return nil
}

// SetPledgeText replaces the pledge under edit.
func (w *Workflow) SetPledgeText(text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.phase != PhasePledging {
		return apperrors.New(apperrors.CodeAdoptionInvalidTransition, "the pledge editor is not open")
	}
	w.pledge = text
	return nil
}

// ConfirmAdoption submits the transaction.
//
// A blank pledge is rejected before any network call. While a submission is
// in flight further calls are ignored so the backend sees exactly one
// submission per confirmation. On failure the transaction is discarded
// entirely and the workflow returns to idle.
func (w *Workflow) ConfirmAdoption(ctx context.Context) (*CertificateRecord, error) {
	w.mu.Lock()

	if w.phase == PhaseSubmitting {
		w.mu.Unlock()
		return nil, nil
	}
	if w.phase != PhasePledging || w.target == nil {
		w.mu.Unlock()
		return nil, apperrors.New(apperrors.CodeAdoptionInvalidTransition, "no pledge ready to submit")
	}
	if strings.TrimSpace(w.pledge) == "" {
		w.mu.Unlock()
		return nil, apperrors.New(apperrors.CodeAdoptionPledgeEmpty, "a pledge is required to adopt")
	}

	identity := w.sessions.Current()
	if identity == nil {
		w.mu.Unlock()
		return nil, apperrors.New(apperrors.CodeAuthRequired, "sign in to adopt a water body")
	}

	form := url.Values{}
	form.Set("user_id", identity.ID)
	form.Set("water_body_id", w.target.ID)
	form.Set("pledge_text", w.pledge)

	w.phase = PhaseSubmitting
	w.mu.Unlock()

	var rows []CertificateRecord
	err := w.api.PostForm(ctx, "/adoption/adopt", form, &rows)

	w.mu.Lock()
	if err != nil {
		w.discardLocked()
		w.mu.Unlock()
		return nil, classifySubmitError(err)
	}
	if len(rows) == 0 {
		w.discardLocked()
		w.mu.Unlock()
		return nil, apperrors.New(apperrors.CodeAdoptionRejected, "Failed to adopt water body. Please try again.")
	}

	certificate := rows[0]
	certificate.GuardianName = identity.DisplayName
	if certificate.PledgeText == "" {
		certificate.PledgeText = w.pledge
	}

	w.phase = PhaseCertified
	w.certificate = &certificate
	w.mu.Unlock()

	if w.refresh != nil {
		w.refresh(ctx)
	}

	snapshot := certificate
	return &snapshot, nil
}

// Reset abandons the transaction and returns to idle. A submission in flight
// cannot be abandoned.
func (w *Workflow) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.phase == PhaseSubmitting {
		return apperrors.New(apperrors.CodeAdoptionInvalidTransition, "a submission is in flight")
	}
	w.discardLocked()
	return nil
}

// discardLocked drops all transaction state. Callers must hold the mutex.
func (w *Workflow) discardLocked() {
	w.phase = PhaseIdle
	w.attemptID = ""
	w.target = nil
	w.pledge = ""
	w.certificate = nil
}

// classifySubmitError maps a submission failure onto the domain taxonomy,
// surfacing the backend's rejection detail when present.
func classifySubmitError(err error) error {
	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) {
		return apperrors.Wrap(apperrors.CodeAdoptionRejected, apiErr.Error(), err)
	}
	if apperrors.CodeOf(err) != apperrors.CodeUnknown {
		return err
	}
	return apperrors.Wrap(apperrors.CodeAdoptionRejected, "Failed to adopt water body. Please try again.", err)
}
