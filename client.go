package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/streamrpc/streamrpc/client"
)

func runClient(options Options) error {
	enc, err := parseEncoding(options.Client.Encoding)
	if err != nil {
		return err
	}
	dialer, err := dialerFor(options.Client.Backend)
	if err != nil {
		return err
	}

	iface := client.NewInterface()
	err = iface.RegisterNotification("seq", client.NotificationFunc(func(ctx context.Context, msg seqMsg) error {
		logger.Infof("Server push: seq=%d", msg.Seq)
		return nil
	}))
	if err != nil {
		return err
	}

	ctl := make(chan client.Ctl, 8)
	c := client.New(client.Options{
		URL:       options.Client.Args.URL,
		Dialer:    dialer,
		Encoding:  enc,
		Interface: iface,
		Ctl:       ctl,
	})
	defer c.Close()

	ctx := context.Background()
	logger.Infof("Connecting to: %s", options.Client.Args.URL)
	if err := c.Connect(ctx); err != nil {
		return ErrExplain{err, "Failed to connect to the server. Is it running? Start one with: streamrpc server"}
	}
	logger.Info("Connected.")

	var resp evenOddResponse
	if err := c.Call(ctx, "even-odd", evenOddRequest{ID: 1, V: options.Client.Value}, &resp); err != nil {
		return err
	}
	fmt.Printf("%d is %s\n", options.Client.Value, resp.Answer)

	var total int64
	if err := c.Call(ctx, "increase", int64(1), &total); err != nil {
		return err
	}
	fmt.Printf("server counter is now %d\n", total)

	// Stay connected for server pushes until interrupted.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	for {
		select {
		case <-sigCh:
			logger.Info("Shutting down...")
			return c.Close()
		case ev := <-ctl:
			switch ev {
			case client.CtlOpen:
				logger.Info("Connection opened.")
			case client.CtlClose:
				logger.Info("Connection lost, reconnecting...")
			}
		}
	}
}
