// Package lobby is where clients line up for a merchant and rooms are opened.
package lobby

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go-traderoom/internal/room"
	"go-traderoom/internal/store"
)

var ErrForbidden = errors.New("lobby: not a participant of this transaction")

type Store interface {
	room.TransactionStore
	CreateTransaction(ctx context.Context, t *store.Transaction) error
	GetTransaction(ctx context.Context, id string) (*store.Transaction, error)
	RatingsFor(ctx context.Context, rateeID string) ([]store.Rating, error)
}

// Accounts resolves account ids into room identities.
type Accounts interface {
	Participant(ctx context.Context, id string) (room.Participant, error)
}

// QueueView is one merchant's queue as shown to the merchant.
type QueueView struct {
	Requests []room.QueueEntry `json:"requests"`
	Queued   []room.QueueEntry `json:"queued"`
}

type Service struct {
	store    Store
	accounts Accounts
	notifier room.Notifier
	logger   *slog.Logger

	mu     sync.Mutex
	queues map[string]*room.Queue
}

func NewService(s Store, accounts Accounts, notifier room.Notifier, logger *slog.Logger) *Service {
	return &Service{
		store:    s,
		accounts: accounts,
		notifier: notifier,
		logger:   logger,
		queues:   make(map[string]*room.Queue),
	}
}

func (s *Service) queue(merchantID string) *room.Queue {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[merchantID]
	if !ok {
		q = room.NewQueue()
		s.queues[merchantID] = q
	}
	return q
}

// Request puts sender in line for merchantID and pings the merchant on a
// new request.
func (s *Service) Request(ctx context.Context, merchantID, senderID string) (room.QueueEntry, error) {
	if merchantID == senderID {
		return room.QueueEntry{}, room.ErrSameParticipant
	}
	merchant, err := s.accounts.Participant(ctx, merchantID)
	if err != nil {
		return room.QueueEntry{}, err
	}
	sender, err := s.accounts.Participant(ctx, senderID)
	if err != nil {
		return room.QueueEntry{}, err
	}

	entry, added := s.queue(merchantID).Add(sender.ID, sender.Name)
	if added {
		s.notify(merchant, "New request", sender.Name+" wants to trade")
	}
	return entry, nil
}

func (s *Service) Queue(merchantID string) QueueView {
	q := s.queue(merchantID)
	return QueueView{Requests: q.Requests(), Queued: q.Queued()}
}

func (s *Service) Accept(merchantID, senderID string) (room.QueueEntry, error) {
	return s.queue(merchantID).Accept(senderID)
}

func (s *Service) Reject(merchantID, senderID string) error {
	return s.queue(merchantID).Reject(senderID)
}

// OpenRoom creates the transaction for an accepted sender and takes them out
// of the queue. The sender stays queued if the row cannot be written.
func (s *Service) OpenRoom(ctx context.Context, merchantID, senderID string) (*store.Transaction, error) {
	q := s.queue(merchantID)
	// Claim the entry first so two concurrent opens cannot both create a room.
	entry, err := q.Remove(senderID)
	if err != nil {
		return nil, err
	}

	tx := &store.Transaction{MerchantID: merchantID, ClientID: senderID}
	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		q.Requeue(entry)
		return nil, &room.PersistenceError{Op: "create transaction", Err: err}
	}

	s.logger.Info("room opened", "room_id", tx.ID, "merchant_id", merchantID, "client_id", senderID)

	if client, err := s.accounts.Participant(ctx, senderID); err == nil {
		s.notify(client, "Your turn", "The merchant opened a room for you")
	}
	return tx, nil
}

// Transaction returns a room's record to one of its participants.
func (s *Service) Transaction(ctx context.Context, id, viewerID string) (*store.Transaction, error) {
	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if !tx.HasParticipant(viewerID) {
		return nil, ErrForbidden
	}
	return tx, nil
}

// Rate records raterID's rating of the other participant once the
// transaction is finished.
func (s *Service) Rate(ctx context.Context, id, raterID string, score int, comment string) (*store.Rating, error) {
	tx, err := s.Transaction(ctx, id, raterID)
	if err != nil {
		return nil, err
	}
	if tx.Status == store.TransactionOngoing {
		return nil, room.ErrNotFinished
	}

	rater := room.Participant{ID: raterID}
	ratee := room.Participant{ID: tx.Counterparty(raterID)}
	return room.NewCloser(s.store, tx.ID, rater, ratee).SubmitRating(ctx, score, comment)
}

func (s *Service) Ratings(ctx context.Context, accountID string) ([]store.Rating, error) {
	ratings, err := s.store.RatingsFor(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load ratings for %s: %w", accountID, err)
	}
	if ratings == nil {
		ratings = []store.Rating{}
	}
	return ratings, nil
}

func (s *Service) notify(to room.Participant, title, body string) {
	if s.notifier == nil || to.PushToken == "" {
		return
	}
	s.notifier.Notify(context.Background(), to.PushToken, title, body)
}
