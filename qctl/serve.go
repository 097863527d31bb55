package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/echlebek/asyncq"
)

const shutdownTimeout = 5 * time.Second

// ingest sends every POSTed body to the queue.
type ingest struct {
	svc *asyncq.Service
}

func (h ingest) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	buf := bytes.Buffer{}
	if _, err := io.Copy(&buf, req.Body); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	ok, _ := h.svc.Send(buf.Bytes()).Wait()
	if !ok {
		http.Error(w, "couldn't send message", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func newServeMux(svc *asyncq.Service, reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/messages", ingest{svc: svc})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

// discardHandler consumes messages, logging them at debug level.
func discardHandler(log *zap.SugaredLogger) asyncq.Handler {
	return func(_ context.Context, e *asyncq.Envelope) error {
		log.Debugw("consumed message", "queue", e.Queue(), "seq", e.Seq(), "bytes", len(e.Body()))
		return nil
	}
}

func serveCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := asyncq.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	s, err := openSession(ctx, c, asyncq.WithMetrics(m))
	if err != nil {
		return err
	}
	defer s.close()

	srv := &http.Server{
		Addr:              c.String("addr"),
		Handler:           newServeMux(s.svc, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Infow("serving", "addr", srv.Addr, "queue", s.cfg.Queue)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return asyncq.Listen(gctx, s.svc, c.Int("workers"), discardHandler(s.log))
	})
	return g.Wait()
}
