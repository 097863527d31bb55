package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/echlebek/asyncq"
)

// Person is the typed payload sent by send-person and the interactive "p"
// command.
type Person struct {
	Name string `json:"name" xml:"Name"`
}

func sendCommand(c *cli.Context) error {
	text := strings.Join(c.Args().Slice(), " ")
	if text == "" {
		return errors.New("nothing to send")
	}
	s, err := openSession(c.Context, c)
	if err != nil {
		return err
	}
	defer s.close()

	ok, _ := s.svc.SendText(text).Wait()
	return reportSent(c.App.Writer, ok, "message")
}

func sendPersonCommand(c *cli.Context) error {
	s, err := openSession(c.Context, c)
	if err != nil {
		return err
	}
	defer s.close()

	p := Person{Name: c.String("name")}
	ttl := c.Duration("ttl")
	if ttl == 0 {
		ttl = asyncq.InfiniteTTL
	}
	ok, _ := asyncq.SendTypedTTL(s.svc, p, ttl).Wait()
	return reportSent(c.App.Writer, ok, fmt.Sprintf("person %q", p.Name))
}

func reportSent(w io.Writer, ok bool, what string) error {
	if !ok {
		return fmt.Errorf("sending %s failed", what)
	}
	fmt.Fprintf(w, "sent %s\n", what)
	return nil
}

func listenCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, c)
	if err != nil {
		return err
	}
	defer s.close()

	err = asyncq.Listen(ctx, s.svc, c.Int("workers"), printHandler(c.App.Writer))
	fmt.Fprintln(c.App.Writer, "Listening stopped")
	return err
}

func printHandler(w io.Writer) asyncq.Handler {
	return func(_ context.Context, e *asyncq.Envelope) error {
		_, err := io.WriteString(w, e.Text())
		return err
	}
}

func probeCommand(c *cli.Context) error {
	var opts []asyncq.Option
	if c.Bool("peek") {
		opts = append(opts, asyncq.WithPeekProbe())
	}
	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()

	s, err := openSession(ctx, c, opts...)
	if err != nil {
		return err
	}
	defer s.close()

	found, _ := s.svc.HasMessages(ctx).Wait()
	fmt.Fprintln(c.App.Writer, found)
	return nil
}

func deleteCommand(c *cli.Context) error {
	s, err := openSession(c.Context, c)
	if err != nil {
		return err
	}
	defer s.close()

	ok, _ := s.svc.DeleteQueue().Wait()
	if !ok {
		return fmt.Errorf("couldn't delete %s", s.cfg.Queue)
	}
	fmt.Fprintf(c.App.Writer, "deleted %s\n", s.cfg.Queue)
	return nil
}

func interactiveCommand(c *cli.Context) error {
	s, err := openSession(c.Context, c)
	if err != nil {
		return err
	}
	defer s.close()

	fmt.Fprintln(c.App.Writer, "Waiting for command...")
	return runInteractive(c.Context, s.svc, os.Stdin, c.App.Writer)
}
