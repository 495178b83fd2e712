package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go-traderoom/internal/broker"
	"go-traderoom/internal/metrics"
	"go-traderoom/internal/store"

	"github.com/shopspring/decimal"
)

// Store is everything a room persists remotely.
type Store interface {
	PaymentStore
	TransactionStore
}

// Notifier delivers a best-effort push to a device token.
type Notifier interface {
	Notify(ctx context.Context, token, title, body string)
}

// Config carries the session-scoped state of one room. Both participants are
// passed in explicitly.
type Config struct {
	RoomID       string
	Self         Participant
	Counterparty Participant
	Transport    broker.Transport
	Store        Store
	Freshness    time.Duration
	Heartbeat    time.Duration
	// RetryInterval enables background retry of undelivered broadcasts.
	RetryInterval time.Duration
	Logger        *slog.Logger
	Notifier      Notifier
	// OnChange is called after every change to the interaction log.
	OnChange func()
	Clock    func() time.Time
}

// Room drives one participant's side of a transaction room.
type Room struct {
	cfg      Config
	logger   *slog.Logger
	session  *Session
	log      *Log
	payments *Payments
	closer   *Closer
	busy     Busy

	mu      sync.Mutex
	outcome Outcome
	final   *TransactionNotice
}

// Snapshot is the state the UI needs to enable or disable actions.
type Snapshot struct {
	ActivePayment   *PaymentRequested  `json:"active_payment,omitempty"`
	ProductSent     bool               `json:"product_sent"`
	ProductReceived bool               `json:"product_received"`
	SettlementTotal decimal.Decimal    `json:"settlement_total"`
	Busy            []Action           `json:"busy"`
	Outcome         Outcome            `json:"outcome"`
	Final           *TransactionNotice `json:"final,omitempty"`
	Undelivered     int                `json:"undelivered"`
}

// Open joins the room: the log is reset, the session subscribes and announces
// the participant.
func Open(ctx context.Context, cfg Config) (*Room, error) {
	if cfg.RoomID == "" || cfg.Self.ID == "" || cfg.Counterparty.ID == "" {
		return nil, errors.New("room: room id and both participants are required")
	}
	if cfg.Self.ID == cfg.Counterparty.ID {
		return nil, ErrSameParticipant
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	verifier := NewVerifier(cfg.Store, cfg.Freshness)
	verifier.now = cfg.Clock

	closer := NewCloser(cfg.Store, cfg.RoomID, cfg.Self, cfg.Counterparty)
	closer.clock = cfg.Clock

	r := &Room{
		cfg:      cfg,
		logger:   cfg.Logger.With("room_id", cfg.RoomID, "participant_id", cfg.Self.ID),
		log:      NewLog(cfg.Clock),
		payments: NewPayments(cfg.Store, verifier, cfg.RoomID),
		closer:   closer,
	}
	r.session = NewSession(cfg.Transport, cfg.RoomID, cfg.Self, SessionOptions{
		Heartbeat:     cfg.Heartbeat,
		RetryInterval: cfg.RetryInterval,
		Logger:        cfg.Logger,
	})
	for _, f := range Families {
		r.session.Handle(f, r.observe)
	}

	if err := r.session.Open(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// observe applies an inbound or locally originated event.
func (r *Room) observe(_ context.Context, ev Event) {
	res := r.log.Apply(ev)
	if res.Duplicate {
		metrics.EventsDropped.WithLabelValues("duplicate").Inc()
		return
	}

	var nf *NotFoundError
	switch {
	case res.Buffered && errors.As(res.Err, &nf):
		r.logger.Info("status event ahead of its request, holding", "payment_id", nf.PaymentID, "type", ev.Type)
	case res.Err != nil:
		r.logger.Debug("event kept as history only", "type", ev.Type, "error", res.Err)
	}

	if o := OutcomeFor(ev, r.cfg.Self); o != OutcomeNone {
		n := ev.Payload.(TransactionNotice)
		r.mu.Lock()
		if r.outcome == OutcomeNone {
			r.outcome, r.final = o, &n
		}
		r.mu.Unlock()
	}

	if r.cfg.OnChange != nil {
		r.cfg.OnChange()
	}
}

// emit records ev locally and broadcasts it. The event is already in the log
// when a *DeliveryError is returned and will be retried.
func (r *Room) emit(ctx context.Context, ev Event) error {
	if r.session.closed.Load() {
		return ErrSessionClosed
	}
	r.observe(ctx, ev)
	err := r.session.Send(ctx, ev)
	if err != nil {
		r.logger.Warn("broadcast failed", "type", ev.Type, "error", err)
	}
	return err
}

// begin acquires the busy flag for a; the room must still be open.
func (r *Room) begin(a Action) (func(), error) {
	if r.session.closed.Load() {
		return func() {}, ErrSessionClosed
	}
	return r.busy.Acquire(a)
}

func (r *Room) notify(title, body string) {
	if r.cfg.Notifier == nil || r.cfg.Counterparty.PushToken == "" {
		return
	}
	r.cfg.Notifier.Notify(context.Background(), r.cfg.Counterparty.PushToken, title, body)
}

// RequestPayment asks the counterparty for money.
func (r *Room) RequestPayment(ctx context.Context, req PaymentRequest) (*store.Payment, error) {
	release, err := r.begin(ActionRequestPayment)
	if err != nil {
		return nil, err
	}
	defer release()

	p, err := r.payments.Request(ctx, r.cfg.Self.ID, r.cfg.Counterparty.ID, req)
	if err != nil {
		return nil, err
	}

	err = r.emit(ctx, NewEvent(TypePaymentRequested, r.cfg.Self, PaymentRequested{
		ID:            p.ID,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Platform:      p.Platform,
		AccountName:   p.AccountName,
		AccountNumber: p.AccountNumber,
		Status:        StatusPending,
	}))
	r.notify("Payment requested", fmt.Sprintf("%s requested %s %s via %s", r.cfg.Self.Name, p.Currency, p.Amount, p.Platform))
	return p, err
}

func (r *Room) CancelPayment(ctx context.Context, id string) error {
	release, err := r.begin(ActionCancelPayment)
	if err != nil {
		return err
	}
	defer release()

	p, err := r.payments.Cancel(ctx, r.cfg.Self.ID, id)
	if err != nil {
		return err
	}
	return r.emit(ctx, NewEvent(TypePaymentRequestCancelled, r.cfg.Self, PaymentStatusChange{ID: p.ID, Amount: p.Amount}))
}

// SendPayment submits a receipt for the payment. Verification failures return
// a *ValidationError and broadcast nothing.
func (r *Room) SendPayment(ctx context.Context, id string, receipt Receipt) error {
	release, err := r.begin(ActionSendPayment)
	if err != nil {
		return err
	}
	defer release()

	p, err := r.payments.Send(ctx, r.cfg.Self.ID, id, receipt)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			metrics.ReceiptRejections.WithLabelValues(string(ve.Reason)).Inc()
		}
		return err
	}

	err = r.emit(ctx, NewEvent(TypePaymentSent, r.cfg.Self, PaymentSent{
		ID:         p.ID,
		Reference:  p.Reference,
		ReceiptURL: p.ReceiptURL,
		Status:     StatusConfirming,
	}))
	r.notify("Payment sent", fmt.Sprintf("%s sent %s %s, please confirm", r.cfg.Self.Name, p.Currency, p.Amount))
	return err
}

func (r *Room) ConfirmPayment(ctx context.Context, id string) error {
	release, err := r.begin(ActionReviewPayment)
	if err != nil {
		return err
	}
	defer release()

	p, err := r.payments.Confirm(ctx, r.cfg.Self.ID, id)
	if err != nil {
		return err
	}
	err = r.emit(ctx, NewEvent(TypePaymentConfirmed, r.cfg.Self, PaymentStatusChange{ID: p.ID, Amount: p.Amount}))
	r.notify("Payment confirmed", fmt.Sprintf("%s confirmed your payment of %s %s", r.cfg.Self.Name, p.Currency, p.Amount))
	return err
}

// DenyPayment rejects the receipt. The payer needs a fresh request to try again.
func (r *Room) DenyPayment(ctx context.Context, id, reason string) error {
	release, err := r.begin(ActionReviewPayment)
	if err != nil {
		return err
	}
	defer release()

	p, err := r.payments.Deny(ctx, r.cfg.Self.ID, id)
	if err != nil {
		return err
	}
	err = r.emit(ctx, NewEvent(TypePaymentDenied, r.cfg.Self, PaymentStatusChange{ID: p.ID, Amount: p.Amount, Reason: reason}))
	r.notify("Payment denied", fmt.Sprintf("%s did not accept the receipt", r.cfg.Self.Name))
	return err
}

func (r *Room) SendProduct(ctx context.Context, note string) error {
	release, err := r.begin(ActionProduct)
	if err != nil {
		return err
	}
	defer release()

	return r.emit(ctx, NewEvent(TypeProductSent, r.cfg.Self, ProductNotice{Note: note}))
}

// ReceiveProduct acknowledges goods sent by the counterparty.
func (r *Room) ReceiveProduct(ctx context.Context, note string) error {
	release, err := r.begin(ActionProduct)
	if err != nil {
		return err
	}
	defer release()

	if !r.log.HasType(TypeProductSent, r.cfg.Self.ID) {
		return fmt.Errorf("%w: counterparty has not sent the product", ErrInvalidTransition)
	}
	return r.emit(ctx, NewEvent(TypeProductReceived, r.cfg.Self, ProductNotice{Note: note}))
}

func (r *Room) SendMessage(ctx context.Context, text string) error {
	release, err := r.begin(ActionMessage)
	if err != nil {
		return err
	}
	defer release()

	text = strings.TrimSpace(text)
	if text == "" {
		return &ValidationError{Reason: ReasonEmptyMessage}
	}
	return r.emit(ctx, NewEvent(TypeMessage, r.cfg.Self, Message{Text: text}))
}

// Finish persists the transaction and tells the counterparty. If persistence
// fails the room stays open and Finish can be called again.
func (r *Room) Finish(ctx context.Context) (*store.Transaction, error) {
	release, err := r.begin(ActionFinish)
	if err != nil {
		return nil, err
	}
	defer release()

	r.mu.Lock()
	done := r.outcome != OutcomeNone
	r.mu.Unlock()
	if done {
		return nil, ErrFinished
	}

	settlement := r.log.Settlement()
	tx, ev, err := r.closer.Finish(ctx, r.log.History(), settlement)
	if err != nil {
		return nil, err
	}

	metrics.TransactionsFinished.WithLabelValues(string(tx.Status)).Inc()
	if settlement.Currency != "" {
		metrics.SettledAmount.WithLabelValues(settlement.Currency).Add(settlement.Total.InexactFloat64())
	}
	r.logger.Info("transaction finished", "status", tx.Status, "total", tx.TotalAmount.String())

	err = r.emit(ctx, ev)
	r.notify("Transaction finished", fmt.Sprintf("%s closed the transaction (%s)", r.cfg.Self.Name, tx.Status))
	return tx, err
}

// SubmitRating rates the counterparty once the transaction has finished.
func (r *Room) SubmitRating(ctx context.Context, score int, comment string) (*store.Rating, error) {
	release, err := r.begin(ActionRate)
	if err != nil {
		return nil, err
	}
	defer release()

	if r.Outcome() == OutcomeNone {
		return nil, ErrNotFinished
	}
	return r.closer.SubmitRating(ctx, score, comment)
}

// Flush retries undelivered broadcasts.
func (r *Room) Flush(ctx context.Context) error {
	return r.session.Flush(ctx)
}

// Close leaves the room and clears the local log. Safe to call more than once.
func (r *Room) Close(ctx context.Context) error {
	err := r.session.Close(ctx)
	r.log.Reset()
	return err
}

// Interactions returns the log newest first.
func (r *Room) Interactions() []Interaction {
	return r.log.Interactions()
}

func (r *Room) Outcome() Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome
}

func (r *Room) Members(ctx context.Context) ([]string, error) {
	return r.session.Members(ctx)
}

func (r *Room) Snapshot() Snapshot {
	s := Snapshot{
		ProductSent:     r.log.HasType(TypeProductSent, ""),
		ProductReceived: r.log.HasType(TypeProductReceived, ""),
		SettlementTotal: r.log.SettlementTotal(),
		Busy:            r.busy.Active(),
		Undelivered:     r.session.Pending(),
	}
	if p, ok := r.log.ActivePayment(); ok {
		s.ActivePayment = &p
	}

	r.mu.Lock()
	s.Outcome = r.outcome
	if r.final != nil {
		n := *r.final
		s.Final = &n
	}
	r.mu.Unlock()
	return s
}
