package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/echlebek/asyncq"
)

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}

// runInteractive reads one command per line from in:
//
//	r  start receiving until the next c
//	c  cancel every receive started so far
//	s  send a text message
//	p  send a Person
//	x  exit
//
// It returns once in is exhausted or x is read and every started operation
// has reported.
func runInteractive(ctx context.Context, svc *asyncq.Service, in io.Reader, out io.Writer) error {
	w := &syncWriter{w: out}
	var wg sync.WaitGroup
	recvCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		wg.Wait()
	}()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "x":
			return nil
		case "c":
			cancel()
			fmt.Fprintln(w, "Source is cancelled")
			recvCtx, cancel = context.WithCancel(ctx)
		case "r":
			wg.Add(1)
			go func(ctx context.Context) {
				defer wg.Done()
				if err := asyncq.Listen(ctx, svc, 1, printHandler(w)); err != nil {
					fmt.Fprintf(w, "Faulted: %v\n", err)
				}
				fmt.Fprintln(w, "Listening stopped")
			}(recvCtx)
			fmt.Fprintln(w, "Started receiving...")
		case "s":
			report(&wg, w, svc.SendText("test message"), "Message sent", "Sending failed")
		case "p":
			report(&wg, w, asyncq.SendTyped(svc, Person{Name: "Kalle"}), "Kalle sent", "Sending person failed")
		case "":
		default:
			fmt.Fprintln(w, "Unknown command; use r, c, s, p or x")
		}
	}
	return scanner.Err()
}

func report(wg *sync.WaitGroup, w io.Writer, p *asyncq.Pending[bool], success, failure string) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if ok, _ := p.Wait(); ok {
			fmt.Fprintln(w, success)
		} else {
			fmt.Fprintln(w, failure)
		}
	}()
}
