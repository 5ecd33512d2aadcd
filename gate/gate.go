// Package gate decides, per conversational session, whether a message should
// issue a payment prompt, run the paid pipeline, run the unpaid pipeline or do
// nothing.
//
// Approval fails closed: without a current prompt marker, or a prompt found in
// the recent transcript, an approval is denied. Rejection fails open: it always
// runs the unpaid pipeline, even when no prompt can be found.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/x402-agentpay"
	"github.com/mark3labs/x402-agentpay/metrics"
	"github.com/mark3labs/x402-agentpay/transcript"
)

// Pipeline performs the payment side effects the gate decides on.
type Pipeline interface {
	// Quote returns the terms to show in a payment prompt.
	Quote(ctx context.Context) (x402.Terms, error)

	// Pay builds, signs, verifies and sends a fresh authorization for terms.
	Pay(ctx context.Context, terms x402.Terms) (*x402.Outcome, error)

	// Skip requests the resource without payment.
	Skip(ctx context.Context) (*x402.Outcome, error)
}

// Kind is what Handle did.
type Kind int

const (
	// KindNone means the message was not a payment signal; state is unchanged.
	KindNone Kind = iota
	// KindPrompt means a payment prompt was issued.
	KindPrompt
	// KindPay means the paid pipeline ran; see Outcome and Err.
	KindPay
	// KindSkip means the unpaid pipeline ran; see Outcome and Err.
	KindSkip
	// KindDeny means an approval had no prompt to approve.
	KindDeny
	// KindBusy means a pipeline for the session is still in flight.
	KindBusy
	// KindFail means the gate could not act, e.g. quoting failed or the prompt was superseded.
	KindFail
)

var kindNames = [...]string{"none", "prompt", "pay", "skip", "deny", "busy", "fail"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Result is the gate's decision for one message. The calling layer renders it.
type Result struct {
	Kind   Kind
	Intent Intent

	// State is the session state after handling.
	State State

	// Prompt is set for KindPrompt.
	Prompt *Marker

	// Outcome is set for KindPay and KindSkip when a response was received.
	Outcome *x402.Outcome

	Err     error
	Message string
}

// Gate is the approval state machine. It is safe for concurrent use; messages
// of one session are serialized, sessions are independent.
type Gate struct {
	pipeline      Pipeline
	classifier    Classifier
	store         transcript.Store
	lookback      int
	promptTTL     time.Duration
	traceKeywords []string
	format        func(x402.Terms) string
	logger        *slog.Logger
	metrics       *metrics.Collectors
	now           func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// New creates a Gate driving pipeline.
func New(pipeline Pipeline, opts ...Option) (*Gate, error) {
	if pipeline == nil {
		return nil, x402.NewPaymentError(x402.ErrCodeConfig, "gate requires a pipeline", x402.ErrMissingConfig)
	}

	g := &Gate{
		pipeline:      pipeline,
		classifier:    NewKeywordClassifier(nil),
		lookback:      transcript.DefaultLookback,
		traceKeywords: []string{"USDC"},
		format:        FormatPrompt,
		logger:        slog.Default(),
		now:           time.Now,
		sessions:      make(map[string]*session),
	}

	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}

	return g, nil
}

// FormatPrompt is the default payment prompt text.
func FormatPrompt(terms x402.Terms) string {
	return fmt.Sprintf("This request costs %s %s, paid to %s on %s. Reply \"yes\" to pay or \"no\" to continue without paying.",
		terms.DisplayAmount(), terms.Symbol, terms.PayTo, terms.Network)
}

func (g *Gate) session(id string) *session {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[id]
	if !ok {
		s = &session{}
		g.sessions[id] = s
	}
	return s
}

// State returns the session's current state.
func (g *Gate) State(sessionID string) State {
	s := g.session(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending returns the session's current prompt marker, or nil.
func (g *Gate) Pending(sessionID string) *Marker {
	s := g.session(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marker
}

// Reset returns a session to Idle and drops its prompt. A pipeline already in
// flight finishes but no longer changes the session's state. The reset is
// recorded in the transcript so earlier prompts cannot be recovered from it.
func (g *Gate) Reset(ctx context.Context, sessionID string) {
	s := g.session(sessionID)
	s.mu.Lock()
	s.state = StateIdle
	s.marker = nil
	s.reset = true
	s.mu.Unlock()

	logger := g.logger.With("session", sessionID)
	logger.Info("session reset")
	g.record(ctx, logger, sessionID,
		transcript.NewMessage(transcript.RoleAgent, "Session reset.", transcript.ActionPaymentReset))
}

// Handle classifies text and acts on it for the session.
func (g *Gate) Handle(ctx context.Context, sessionID, text string) Result {
	intent := g.classifier.Classify(text)
	logger := g.logger.With("session", sessionID, "intent", intent.String())

	var result Result
	switch intent {
	case IntentApproval:
		result = g.approve(ctx, logger, sessionID, text)
	case IntentRejection:
		result = g.reject(ctx, logger, sessionID, text)
	case IntentNewRequest:
		result = g.prompt(ctx, logger, sessionID, text)
	default:
		g.record(ctx, logger, sessionID, transcript.NewMessage(transcript.RoleUser, text))
		result = Result{Kind: KindNone}
	}

	result.Intent = intent
	result.State = g.State(sessionID)
	return result
}

func (g *Gate) prompt(ctx context.Context, logger *slog.Logger, sessionID, text string) Result {
	terms, err := g.pipeline.Quote(ctx)
	if err != nil {
		logger.Error("failed to quote payment terms", "error", err)
		g.record(ctx, logger, sessionID, transcript.NewMessage(transcript.RoleUser, text))
		return Result{Kind: KindFail, Err: err, Message: "Unable to determine the payment terms for this request."}
	}

	marker := &Marker{ID: uuid.NewString(), Terms: terms, IssuedAt: g.now()}

	s := g.session(sessionID)
	s.mu.Lock()
	superseded := s.marker
	s.marker = marker
	s.state = StateAwaitingApproval
	s.reset = false
	s.mu.Unlock()

	if superseded != nil {
		logger.Info("payment prompt superseded", "previous", superseded.ID, "prompt", marker.ID)
	}
	logger.Info("payment prompt issued",
		"prompt", marker.ID,
		"amount", terms.DisplayAmount(),
		"asset", terms.Symbol,
		"network", terms.Network)
	g.metrics.IncPrompts()

	message := g.format(terms)
	g.record(ctx, logger, sessionID,
		transcript.NewMessage(transcript.RoleUser, text),
		transcript.NewMessage(transcript.RoleAgent, message, transcript.ActionPaymentPrompt))

	return Result{Kind: KindPrompt, Prompt: marker, Message: message}
}

func (g *Gate) approve(ctx context.Context, logger *slog.Logger, sessionID, text string) Result {
	s := g.session(sessionID)

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return g.busy(ctx, logger, sessionID, text)
	}
	acted := s.marker
	reset := s.reset
	expired := acted != nil && acted.Expired(g.now(), g.promptTTL)
	if expired {
		s.marker = nil
		s.state = StateIdle
	}
	s.busy = true
	s.mu.Unlock()

	var (
		terms  x402.Terms
		reason string
	)
	switch {
	case expired:
		reason = "expired"
	case acted != nil:
		terms = acted.Terms
	case !reset && g.lookbackFindsPrompt(ctx, logger, sessionID):
		quoted, err := g.pipeline.Quote(ctx)
		if err != nil {
			s.release(acted)
			logger.Error("failed to quote payment terms", "error", err)
			g.record(ctx, logger, sessionID, transcript.NewMessage(transcript.RoleUser, text))
			return Result{Kind: KindFail, Err: err, Message: "Unable to determine the payment terms for this request."}
		}
		terms = quoted
	default:
		reason = "no_context"
	}

	if reason != "" {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()

		logger.Warn("approval denied", "reason", reason)
		g.metrics.IncDenials(reason)
		message := "There is no pending payment to approve."
		if expired {
			message = "The payment prompt has expired. Ask again to get a new quote."
		}
		g.record(ctx, logger, sessionID,
			transcript.NewMessage(transcript.RoleUser, text),
			transcript.NewMessage(transcript.RoleAgent, message, transcript.ActionPaymentDenied))
		return Result{
			Kind:    KindDeny,
			Err:     x402.NewPaymentError(x402.ErrCodeState, "approval without a pending payment prompt", x402.ErrNoApprovalContext).WithDetails("reason", reason),
			Message: message,
		}
	}

	// A new prompt issued after this approval was accepted supersedes it; the
	// pipeline checks this before signing and again before sending.
	stillCurrent := func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.marker != acted {
			return x402.NewPaymentError(x402.ErrCodeState, "payment prompt was superseded", x402.ErrPromptSuperseded)
		}
		return nil
	}

	if err := stillCurrent(); err != nil {
		s.release(acted)
		return g.superseded(ctx, logger, sessionID, text, err)
	}

	logger.Info("payment approved", "amount", terms.DisplayAmount(), "asset", terms.Symbol)
	outcome, err := g.pipeline.Pay(ContextWithCheckpoint(ctx, stillCurrent), terms)
	s.release(acted)

	if errors.Is(err, x402.ErrPromptSuperseded) {
		return g.superseded(ctx, logger, sessionID, text, err)
	}

	result := Result{Kind: KindPay, Outcome: outcome, Err: err}
	action := transcript.ActionPaymentExecuted
	if err != nil {
		action = transcript.ActionPaymentFailed
		g.metrics.ObservePayment(string(resultCode(err)))
		logger.Warn("payment failed", "code", resultCode(err), "error", err)
		result.Message = "Payment failed: " + failureReason(outcome, err)
	} else {
		g.metrics.ObservePayment("success")
		logger.Info("payment completed", "status", outcome.Status)
		result.Message = fmt.Sprintf("Paid %s %s.", terms.DisplayAmount(), terms.Symbol)
	}

	g.record(ctx, logger, sessionID,
		transcript.NewMessage(transcript.RoleUser, text),
		transcript.NewMessage(transcript.RoleAgent, result.Message, action))
	return result
}

func (g *Gate) reject(ctx context.Context, logger *slog.Logger, sessionID, text string) Result {
	s := g.session(sessionID)

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return g.busy(ctx, logger, sessionID, text)
	}
	acted := s.marker
	s.busy = true
	s.mu.Unlock()

	if acted == nil {
		logger.Info("rejection without a pending prompt, continuing without payment")
	}

	outcome, err := g.pipeline.Skip(ctx)
	s.release(acted)
	g.metrics.IncRejections()

	result := Result{Kind: KindSkip, Outcome: outcome, Err: err, Message: "Continuing without payment."}
	if err != nil {
		logger.Info("unpaid request did not succeed", "code", x402.CodeOf(err), "error", err)
		result.Message = "Continued without payment: " + failureReason(outcome, err)
	}

	g.record(ctx, logger, sessionID,
		transcript.NewMessage(transcript.RoleUser, text),
		transcript.NewMessage(transcript.RoleAgent, result.Message, transcript.ActionPaymentSkipped))
	return result
}

func (g *Gate) busy(ctx context.Context, logger *slog.Logger, sessionID, text string) Result {
	logger.Warn("payment already in progress")
	g.metrics.IncDenials("busy")
	g.record(ctx, logger, sessionID, transcript.NewMessage(transcript.RoleUser, text))
	return Result{
		Kind:    KindBusy,
		Err:     x402.NewPaymentError(x402.ErrCodeState, "a payment for this session is in progress", x402.ErrPipelineBusy),
		Message: "A payment is already in progress. Please wait for it to finish.",
	}
}

func (g *Gate) superseded(ctx context.Context, logger *slog.Logger, sessionID, text string, err error) Result {
	logger.Warn("approval dropped, prompt superseded")
	g.metrics.IncDenials("superseded")
	message := "That payment prompt was replaced by a newer one. Please confirm the new prompt."
	g.record(ctx, logger, sessionID,
		transcript.NewMessage(transcript.RoleUser, text),
		transcript.NewMessage(transcript.RoleAgent, message, transcript.ActionPaymentDenied))
	return Result{Kind: KindFail, Err: err, Message: message}
}

// lookbackFindsPrompt scans the recent transcript, newest first, for an
// unresolved payment prompt or a textual trace of payment terms. A missing or
// failing store yields false.
func (g *Gate) lookbackFindsPrompt(ctx context.Context, logger *slog.Logger, sessionID string) bool {
	if g.store == nil {
		return false
	}

	messages, err := g.store.Recent(ctx, sessionID, g.lookback)
	if err != nil {
		logger.Warn("transcript unavailable, denying approval", "error", err)
		return false
	}

	now := g.now()
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg.Role != transcript.RoleAgent {
			continue
		}
		if g.promptTTL > 0 && now.Sub(msg.CreatedAt) > g.promptTTL {
			return false
		}
		for _, action := range msg.Actions {
			if action.Resolves() {
				return false
			}
		}
		if msg.HasAction(transcript.ActionPaymentPrompt) || msg.ContainsAny(g.traceKeywords) {
			logger.Info("approval context recovered from transcript", "message", msg.ID)
			return true
		}
	}
	return false
}

func (g *Gate) record(ctx context.Context, logger *slog.Logger, sessionID string, messages ...transcript.Message) {
	if g.store == nil {
		return
	}
	for _, msg := range messages {
		if err := g.store.Append(ctx, sessionID, msg); err != nil {
			logger.Warn("failed to record transcript message", "error", err)
			return
		}
	}
}

func resultCode(err error) x402.ErrorCode {
	if code := x402.CodeOf(err); code != "" {
		return code
	}
	return "error"
}

func failureReason(outcome *x402.Outcome, err error) string {
	if outcome != nil {
		if outcome.InvalidReason != "" {
			return outcome.InvalidReason
		}
		if outcome.Error != "" {
			return outcome.Error
		}
	}
	if err != nil {
		return err.Error()
	}
	return "unknown error"
}
