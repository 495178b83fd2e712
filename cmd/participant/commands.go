package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"go-traderoom/internal/room"

	"github.com/shopspring/decimal"
)

var errQuit = errors.New("quit")

type command struct {
	usage string
	args  int // required arguments
	run   func(ctx context.Context, r *room.Room, args []string, out io.Writer) error
}

var commands = map[string]command{
	"request":  {"request <amount> <currency> <platform> [account_name] [account_number]", 3, cmdRequest},
	"cancel":   {"cancel <payment_id>", 1, cmdCancel},
	"send":     {"send <payment_id> <amount> <reference> [receipt_url]", 3, cmdSend},
	"confirm":  {"confirm <payment_id>", 1, cmdConfirm},
	"deny":     {"deny <payment_id> [reason]", 1, cmdDeny},
	"product":  {"product [note]", 0, cmdProduct},
	"received": {"received [note]", 0, cmdReceived},
	"say":      {"say <text>", 1, cmdSay},
	"finish":   {"finish", 0, cmdFinish},
	"rate":     {"rate <1-5> [comment]", 1, cmdRate},
	"flush":    {"flush", 0, cmdFlush},
	"log":      {"log", 0, cmdLog},
	"status":   {"status", 0, cmdStatus},
	"members":  {"members", 0, cmdMembers},
	"quit":     {"quit", 0, func(context.Context, *room.Room, []string, io.Writer) error { return errQuit }},
}

// execute runs one input line against the room.
func execute(ctx context.Context, r *room.Room, line string, out io.Writer) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	name, args := fields[0], fields[1:]
	if name == "help" {
		printHelp(out)
		return nil
	}
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("unknown command %q, try help", name)
	}
	if len(args) < cmd.args {
		return fmt.Errorf("usage: %s", cmd.usage)
	}
	return cmd.run(ctx, r, args, out)
}

func printHelp(out io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Fprintln(out, "  "+commands[name].usage)
	}
}

func cmdRequest(ctx context.Context, r *room.Room, args []string, out io.Writer) error {
	amt, err := decimal.NewFromString(args[0])
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	req := room.PaymentRequest{Amount: amt, Currency: args[1], Platform: args[2]}
	if len(args) > 3 {
		req.AccountName = args[3]
	}
	if len(args) > 4 {
		req.AccountNumber = args[4]
	}

	p, err := r.RequestPayment(ctx, req)
	if p != nil {
		fmt.Fprintf(out, "payment %s requested\n", p.ID)
	}
	return err
}

func cmdCancel(ctx context.Context, r *room.Room, args []string, _ io.Writer) error {
	return r.CancelPayment(ctx, args[0])
}

func cmdSend(ctx context.Context, r *room.Room, args []string, _ io.Writer) error {
	amt, err := decimal.NewFromString(args[1])
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	receipt := room.Receipt{Amount: amt, Reference: args[2], Timestamp: time.Now()}
	if len(args) > 3 {
		receipt.URL = args[3]
	}
	return r.SendPayment(ctx, args[0], receipt)
}

func cmdConfirm(ctx context.Context, r *room.Room, args []string, _ io.Writer) error {
	return r.ConfirmPayment(ctx, args[0])
}

func cmdDeny(ctx context.Context, r *room.Room, args []string, _ io.Writer) error {
	return r.DenyPayment(ctx, args[0], strings.Join(args[1:], " "))
}

func cmdProduct(ctx context.Context, r *room.Room, args []string, _ io.Writer) error {
	return r.SendProduct(ctx, strings.Join(args, " "))
}

func cmdReceived(ctx context.Context, r *room.Room, args []string, _ io.Writer) error {
	return r.ReceiveProduct(ctx, strings.Join(args, " "))
}

func cmdSay(ctx context.Context, r *room.Room, args []string, _ io.Writer) error {
	return r.SendMessage(ctx, strings.Join(args, " "))
}

func cmdFinish(ctx context.Context, r *room.Room, _ []string, out io.Writer) error {
	tx, err := r.Finish(ctx)
	if tx != nil {
		fmt.Fprintf(out, "transaction %s %s, total %s\n", tx.ID, tx.Status, tx.TotalAmount)
	}
	return err
}

func cmdRate(ctx context.Context, r *room.Room, args []string, out io.Writer) error {
	score, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("score: %w", err)
	}
	if _, err := r.SubmitRating(ctx, score, strings.Join(args[1:], " ")); err != nil {
		return err
	}
	fmt.Fprintln(out, "thanks for rating")
	return nil
}

func cmdFlush(ctx context.Context, r *room.Room, _ []string, out io.Writer) error {
	if err := r.Flush(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "all events delivered")
	return nil
}

func cmdLog(_ context.Context, r *room.Room, _ []string, out io.Writer) error {
	entries := r.Interactions()
	slices.Reverse(entries)
	for _, it := range entries {
		fmt.Fprintln(out, formatInteraction(it))
	}
	return nil
}

func cmdStatus(_ context.Context, r *room.Room, _ []string, out io.Writer) error {
	b, err := json.MarshalIndent(r.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(b))
	return nil
}

func cmdMembers(ctx context.Context, r *room.Room, _ []string, out io.Writer) error {
	members, err := r.Members(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, strings.Join(members, ", "))
	return nil
}

func formatInteraction(it room.Interaction) string {
	prefix := fmt.Sprintf("[%s] %s", it.SentAt.Local().Format("15:04:05"), it.From)

	switch d := it.Data.(type) {
	case room.Message:
		return fmt.Sprintf("%s: %s", prefix, d.Text)
	case room.PaymentRequested:
		return fmt.Sprintf("%s %s %s %s via %s (%s) id=%s", prefix, it.Type, d.Amount, d.Currency, d.Platform, d.Status, d.ID)
	case room.PaymentSent:
		return fmt.Sprintf("%s %s ref=%s (%s) id=%s", prefix, it.Type, d.Reference, d.Status, d.ID)
	case room.PaymentStatusChange:
		if d.Reason != "" {
			return fmt.Sprintf("%s %s id=%s: %s", prefix, it.Type, d.ID, d.Reason)
		}
		return fmt.Sprintf("%s %s id=%s", prefix, it.Type, d.ID)
	case room.TransactionNotice:
		return fmt.Sprintf("%s %s total=%s", prefix, it.Type, d.TotalAmount)
	case room.ProductNotice:
		if d.Note != "" {
			return fmt.Sprintf("%s %s: %s", prefix, it.Type, d.Note)
		}
	}
	return fmt.Sprintf("%s %s", prefix, it.Type)
}

// describe turns room errors into one line for the prompt.
func describe(err error) string {
	var verr *room.ValidationError
	var derr *room.DeliveryError
	var perr *room.PersistenceError
	var nf *room.NotFoundError
	switch {
	case errors.As(err, &verr):
		return "rejected: " + string(verr.Reason)
	case errors.As(err, &derr):
		return "saved locally but not delivered yet (" + derr.Err.Error() + "), try flush"
	case errors.As(err, &perr):
		return "could not reach the server: " + perr.Err.Error()
	case errors.As(err, &nf):
		return "no such payment " + nf.PaymentID
	case errors.Is(err, room.ErrBusy):
		return "still working on that, hold on"
	}
	return err.Error()
}
