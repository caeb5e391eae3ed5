package app

import (
	"context"
	"fmt"

	"deviation-screener/internal/storage"
)

// ListSubscribers prints every subscriber address.
func (a *App) ListSubscribers(ctx context.Context) error {
	b, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	addrs, err := b.subscribers.ListSubscribers(ctx)
	if err != nil {
		return err
	}
	if len(addrs) == 0 {
		fmt.Fprintln(a.Out, "no subscribers")
		return nil
	}
	for _, addr := range addrs {
		fmt.Fprintln(a.Out, addr)
	}
	return nil
}

// AddSubscriber registers an address.
func (a *App) AddSubscriber(ctx context.Context, address string) error {
	addr, err := storage.NormalizeAddress(address)
	if err != nil {
		return err
	}
	b, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.close()
	a.warnEphemeral(b)

	added, err := b.subscribers.AddSubscriber(ctx, addr)
	if err != nil {
		return err
	}
	if added {
		fmt.Fprintf(a.Out, "added %s\n", addr)
	} else {
		fmt.Fprintf(a.Out, "%s already subscribed\n", addr)
	}
	return nil
}

// RemoveSubscriber deletes an address.
func (a *App) RemoveSubscriber(ctx context.Context, address string) error {
	addr, err := storage.NormalizeAddress(address)
	if err != nil {
		return err
	}
	b, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.close()
	a.warnEphemeral(b)

	removed, err := b.subscribers.RemoveSubscriber(ctx, addr)
	if err != nil {
		return err
	}
	if removed {
		fmt.Fprintf(a.Out, "removed %s\n", addr)
	} else {
		fmt.Fprintf(a.Out, "%s was not subscribed\n", addr)
	}
	return nil
}

// ListNotifications prints the most recent notification log entries.
func (a *App) ListNotifications(ctx context.Context, limit int) error {
	b, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	recs, err := b.log.ListRecentNotifications(ctx, limit)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(a.Out, "no notifications recorded")
		return nil
	}
	for _, rec := range recs {
		fmt.Fprintf(a.Out, "%s\t%d/%d\t%v\t%s\n", rec.Epoch, rec.Delivered, rec.Attempted, rec.Instruments, rec.CreatedAt.Format("2006-01-02 15:04:05Z07:00"))
	}
	return nil
}

func (a *App) warnEphemeral(b *backend) {
	if !b.persistent {
		a.Logger.Warn().Msg("database.dsn not configured; subscriber changes only last for this process")
	}
}
